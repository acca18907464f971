package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mirrorbot/internal/catalog"
	"mirrorbot/internal/channel"
	"mirrorbot/internal/dispatch"
	"mirrorbot/internal/domain"
	"mirrorbot/internal/journal"
	"mirrorbot/internal/media"
	"mirrorbot/internal/metrics"
	"mirrorbot/internal/provider"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Twilio webhook server",
		Long:  "Loads the catalog once and answers Twilio WhatsApp webhooks until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closer, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.Load(catalog.Config{Path: cfg.Catalog.Path, Sheet: cfg.Catalog.Sheet, Logger: logger})

	factory := provider.NewFactory(cfg, logger)
	textBackend := factory.Backend("text", cfg.Backends.Text)
	visionBackend := factory.Backend("vision", cfg.Backends.Vision)

	dispatcher := dispatch.New(dispatch.Config{
		Text:              dispatch.Backend{Provider: textBackend, Model: cfg.Backends.Text.Model, Timeout: cfg.Backends.Text.Timeout()},
		Vision:            dispatch.Backend{Provider: visionBackend, Model: cfg.Backends.Vision.Model, Timeout: cfg.Backends.Vision.Timeout()},
		SystemPromptExtra: cfg.General.SystemPromptExtra,
		Logger:            logger,
	})

	fetcher := media.NewFetcher(media.Config{
		HTTPClient:        provider.SharedHTTPClient(cfg.Media.Timeout()),
		Timeout:           cfg.Media.Timeout(),
		MaxBytes:          cfg.Media.MaxBytes,
		MaxConcurrent:     cfg.Media.MaxConcurrent,
		BasicAuthUser:     cfg.Media.BasicAuthUser,
		BasicAuthPassword: cfg.Media.BasicAuthPassword,
		Logger:            logger,
		OnFailure: func(domain.AttachmentRef, error) {
			metrics.MediaFetchFailures.Inc()
		},
	})

	twCfg := channel.TwilioConfig{
		Addr:         cfg.Server.Addr(),
		WebhookPath:  cfg.Server.WebhookPath,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		Catalog:      cat.Text,
		Media:        fetcher,
		Dispatcher:   dispatcher,
		Logger:       logger,
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer store.Close()
		twCfg.Journal = store
		logger.Info("exchange journal enabled", "path", cfg.Journal.DBPath)
	}

	if cfg.Metrics.Enabled {
		twCfg.MetricsPath = cfg.Metrics.Endpoint
		twCfg.MetricsHandler = metrics.Collector.Handler()
	}

	logger.Info("mirrorbot starting",
		"version", version,
		"catalog_items", len(cat.Entries),
		"text_backend", textBackend.Name(),
		"vision_backend", visionBackend.Name())

	return channel.NewTwilio(twCfg).Start(ctx)
}
