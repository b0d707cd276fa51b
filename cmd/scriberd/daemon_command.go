package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"scriberd/internal/config"
	"scriberd/internal/daemon"
	"scriberd/internal/logging"
	"scriberd/internal/mailer"
	"scriberd/internal/notifications"
	"scriberd/internal/outbox"
	"scriberd/internal/pipeline"
	"scriberd/internal/queue"
	"scriberd/internal/services/ffprobe"
	"scriberd/internal/services/whisper"
	"scriberd/internal/services/ytdlp"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scriberd daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd, ctx)
		},
	}
}

func runDaemonProcess(cmd *cobra.Command, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := filepath.Join(cfg.Paths.LogDir, "scriberd.log")
	logger, err := logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: logPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "scriberd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	d, err := buildDaemon(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("scriberd daemon shutting down")
	d.Stop()
	return nil
}

func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	probe := ffprobe.NewClient(cfg.Download.FFprobeBinary)
	downloader := ytdlp.NewDownloader(probe,
		ytdlp.WithBinary(cfg.Download.Binary),
		ytdlp.WithMinMediaBytes(cfg.Download.MinMediaBytes))
	transcriber := whisper.NewTranscriber(whisper.Config{
		Binary:      cfg.Whisper.Binary,
		Model:       cfg.Whisper.Model,
		Device:      cfg.Whisper.Device,
		ComputeType: cfg.Whisper.ComputeType,
		CPUThreads:  cfg.Whisper.CPUThreads,
	}, probe)

	pl := pipeline.NewManager(cfg, store, downloader, transcriber, notifications.NewService(cfg), logger)
	sender := outbox.NewSender(store, mailer.New(cfg.SMTP), cfg.Outbox, logger)

	return daemon.New(cfg, store, logger, pl, sender)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
