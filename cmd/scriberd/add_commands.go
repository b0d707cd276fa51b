package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scriberd/internal/config"
	"scriberd/internal/queue"
)

// manualFileExtensions mirrors the media types the daemon accepts for
// direct uploads.
var manualFileExtensions = map[string]struct{}{
	".mp3":  {},
	".mp4":  {},
	".m4a":  {},
	".wav":  {},
	".flac": {},
	".ogg":  {},
	".webm": {},
	".mkv":  {},
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var group string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Queue a URL for fetch and transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return errors.New("url is required")
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				jobName := strings.TrimSpace(name)
				if jobName == "" {
					jobName = url
				}
				job, err := store.NewJob(cmd.Context(), jobName, url, group)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s)\n", job.ID, job.Slug)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name for the job (defaults to the URL)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Recipient group for delivery")
	return cmd
}

func newAddFileCommand(ctx *commandContext) *cobra.Command {
	var name string
	var group string

	cmd := &cobra.Command{
		Use:   "add-file <path>",
		Short: "Queue a local media file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				absPath, jobName, err := resolveUploadedFile(args[0], name)
				if err != nil {
					return err
				}
				job, err := store.NewUploadedJob(cmd.Context(), jobName, absPath, group)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued uploaded job %d (%s)\n", job.ID, job.Slug)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name for the job (defaults to the file name)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Recipient group for delivery")
	return cmd
}

func resolveUploadedFile(sourcePath, name string) (string, string, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return "", "", errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("source path %q is a directory", absPath)
	}
	ext := strings.ToLower(filepath.Ext(info.Name()))
	if _, ok := manualFileExtensions[ext]; !ok {
		return "", "", fmt.Errorf("unsupported file extension %q", ext)
	}
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
	}
	return absPath, name, nil
}
