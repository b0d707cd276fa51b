package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scriberd/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}

			if err := config.WriteSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set smtp and webhook settings before running scriberd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data directory:       %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Log directory:        %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "Recipients directory: %s\n", cfg.Paths.RecipientsDir)
			fmt.Fprintf(out, "Workers:              %d\n", cfg.Pipeline.Workers)
			fmt.Fprintf(out, "Keep fetched media:   %s\n", yesNo(cfg.Pipeline.KeepFetchedMedia))
			fmt.Fprintf(out, "Download binary:      %s\n", cfg.Download.Binary)
			fmt.Fprintf(out, "Whisper binary:       %s\n", cfg.Whisper.Binary)
			fmt.Fprintf(out, "Whisper model:        %s (%s, %s)\n", cfg.Whisper.Model, cfg.Whisper.Device, cfg.Whisper.ComputeType)
			fmt.Fprintf(out, "SMTP configured:      %s\n", yesNo(cfg.SMTP.Configured()))
			if cfg.SMTP.Configured() {
				fmt.Fprintf(out, "SMTP server:          %s:%d\n", cfg.SMTP.Host, cfg.SMTP.Port)
				fmt.Fprintf(out, "SMTP sender:          %s\n", cfg.SMTP.SenderHeader())
				fmt.Fprintf(out, "Auto-send:            %s\n", yesNo(cfg.SMTP.AutoSend))
			}
			fmt.Fprintf(out, "Outbox senders:       %d\n", cfg.Outbox.Senders)
			fmt.Fprintf(out, "Outbox rate:          %d/min (burst %d)\n", cfg.Outbox.RatePerMinute, cfg.Outbox.Burst)
			fmt.Fprintf(out, "Webhook configured:   %s\n", yesNo(strings.TrimSpace(cfg.Notifications.WebhookURL) != ""))
			fmt.Fprintf(out, "Log level:            %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
}
