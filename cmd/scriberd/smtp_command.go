package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"scriberd/internal/config"
	"scriberd/internal/mailer"
	"scriberd/internal/queue"
)

func newSMTPCommand(ctx *commandContext) *cobra.Command {
	smtpCmd := &cobra.Command{
		Use:   "smtp",
		Short: "Outbound mail helpers",
	}

	smtpCmd.AddCommand(newSMTPTestCommand(ctx))
	return smtpCmd
}

func newSMTPTestCommand(ctx *commandContext) *cobra.Command {
	var direct bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test email to the first configured recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if !cfg.SMTP.Configured() {
					return errors.New("smtp is not configured: set host and sender in the config file")
				}

				if direct {
					outcome, err := mailer.New(cfg.SMTP).SmokeTest(cmd.Context(), cfg.Paths.RecipientsDir)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), outcome)
					return nil
				}

				to := mailer.FirstRecipient(cfg.Paths.RecipientsDir)
				if to == "" {
					return fmt.Errorf("no recipients found in %s", cfg.Paths.RecipientsDir)
				}
				subject := "[SMTP TEST] " + mailer.Render(cfg.SMTP.Subject, mailer.Vars{Name: "TEST", Slug: "test"})
				body := "This is a SMTP test from the transcriber service.\nIf you received this, SMTP works."
				msg, err := store.EnqueueMessage(cmd.Context(), &queue.Message{
					To:       to,
					Subject:  subject,
					BodyText: body,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued test email %d to %s (delivered by the running daemon)\n", msg.ID, to)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&direct, "direct", false, "Send immediately instead of queueing through the outbox")
	return cmd
}
