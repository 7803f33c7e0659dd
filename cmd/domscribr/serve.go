package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/svdb-hotmail/domscribr/internal/api"
	"github.com/svdb-hotmail/domscribr/internal/batcher"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/ingester"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
	"github.com/svdb-hotmail/domscribr/internal/session"
	"github.com/svdb-hotmail/domscribr/internal/store"
	"github.com/svdb-hotmail/domscribr/internal/transcript"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregator: NATS ingester, session store and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		slog.Info("domscribr aggregator starting",
			"port", cfg.Port,
			"nats_url", cfg.NatsURL,
			"subject_prefix", cfg.SubjectPrefix,
			"flush_interval", cfg.BatchFlushInterval(),
			"flush_threshold", cfg.BatchFlushThreshold,
			"buffer_max", cfg.BufferMaxSize,
		)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Step 1: Open the session store (Postgres when DATABASE_URL is set).
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		slog.Info("store opened", "postgres", cfg.DatabaseURL != "")

		// Step 2: Write-behind batcher with the metrics processor.
		m := metrics.New()
		bat := batcher.New(db, m, batcher.Config{
			FlushInterval:  cfg.BatchFlushInterval(),
			FlushThreshold: cfg.BatchFlushThreshold,
			BufferMax:      cfg.BufferMaxSize,
		}, metrics.NewProcessor(m))
		bat.Start(ctx)

		// Step 3: Session aggregator persisting through the batcher.
		sessions := session.New(db, bat)

		// Step 4: Connect to NATS and start ingesting.
		subjects := events.Subjects{Prefix: cfg.SubjectPrefix}
		ing, err := ingester.New(cfg.NatsURL, subjects, sessions, bat, cfg.RequestTimeout())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}

		if err := ing.Start(); err != nil {
			ing.Close()
			return fmt.Errorf("start ingester: %w", err)
		}
		slog.Info("NATS ingester started")

		// Step 5: HTTP API.
		assembler := transcript.NewAssembler(ing.Publish, subjects)
		srv := api.NewServer(sessions, ing, assembler, bat, cfg.Port)
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("HTTP server error", "error", err)
			}
		}()

		slog.Info("domscribr ready", "port", cfg.Port)

		// Wait for shutdown signal.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("shutting down", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
		// Every batch acknowledged over NATS must be queued before the
		// batcher's final flush.
		ing.Close()
		cancel()
		bat.Wait()
		slog.Info("domscribr stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
