package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"scriberd/internal/config"
	"scriberd/internal/queue"
)

func newOutboxCommand(ctx *commandContext) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and manage the delivery outbox",
	}

	outboxCmd.AddCommand(newOutboxStatusCommand(ctx))
	outboxCmd.AddCommand(newOutboxListCommand(ctx))
	outboxCmd.AddCommand(newOutboxRetryCommand(ctx))

	return outboxCmd
}

func newOutboxStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show message counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stats, err := store.OutboxStats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllMessageStatuses() {
					count, ok := stats[status]
					if !ok {
						continue
					}
					rows = append(rows, []string{string(status), strconv.Itoa(count)})
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newOutboxListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseMessageStatuses(listStatuses)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				messages, err := store.ListMessages(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(messages) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty")
					return nil
				}
				rows := make([][]string, 0, len(messages))
				for _, msg := range messages {
					jobID := ""
					if msg.JobID > 0 {
						jobID = strconv.FormatInt(msg.JobID, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(msg.ID, 10),
						jobID,
						truncateCell(msg.To, 32),
						string(msg.Status),
						strconv.Itoa(msg.Attempts),
						msg.SendAfter.Local().Format(time.DateTime),
						truncateCell(msg.LastError, 40),
					})
				}
				table := renderTable(
					[]string{"ID", "Job", "To", "Status", "Attempts", "Send After", "Last Error"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by message status (repeatable)")
	return cmd
}

func newOutboxRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a dead-lettered message for immediate delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				retried, err := store.RetryMessage(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !retried {
					return fmt.Errorf("message %d is not in the error state", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Message %d requeued\n", id)
				return nil
			})
		},
	}
}

func parseMessageStatuses(values []string) ([]queue.MessageStatus, error) {
	statuses := make([]queue.MessageStatus, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseMessageStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown message status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
