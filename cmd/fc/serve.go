package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
	"github.com/alfredjeanlab/flowcanvas/internal/backup"
	"github.com/alfredjeanlab/flowcanvas/internal/catalog"
	"github.com/alfredjeanlab/flowcanvas/internal/config"
	"github.com/alfredjeanlab/flowcanvas/internal/events"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/server"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
	"github.com/alfredjeanlab/flowcanvas/internal/store/memory"
	"github.com/alfredjeanlab/flowcanvas/internal/store/postgres"
	flowsync "github.com/alfredjeanlab/flowcanvas/internal/sync"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the flowcanvas HTTP server",
	GroupID: "system",
	// serve is the server; it has no client to build.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		envFiles, _ := cmd.Flags().GetStringArray("env-file")
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		// Flow store.
		var st store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
			logger.Info("postgres store connected")
		} else {
			st = memory.New()
			logger.Warn("FLOWCANVAS_DATABASE_URL not set, flows are kept in memory")
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing store", "err", err)
			}
		}()

		// Event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (FLOWCANVAS_NATS_URL not set)")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()

		// Local backups.
		var kv backup.KV
		if cfg.RedisURL != "" {
			rkv, err := backup.OpenRedisKV(context.Background(), cfg.RedisURL, "flowcanvas")
			if err != nil {
				return err
			}
			defer rkv.Close()
			kv = rkv
			logger.Info("backups stored in redis")
		} else {
			kv = backup.NewMemoryKV()
			logger.Info("backups kept in memory (FLOWCANVAS_REDIS_URL not set)")
		}
		backups := backup.NewManager(kv, backup.WithLogger(logger))

		// Node catalog.
		src, err := catalogSource(cfg.CatalogURL, cfg.CatalogFile, cfg.CatalogToken)
		if err != nil {
			return err
		}
		resolver := catalog.NewResolver(src)
		if err := resolver.Load(context.Background()); err != nil {
			// The resolver retries on first use.
			logger.Warn("initial catalog load failed", "err", err)
		}

		authn, err := auth.New(auth.Config{
			Mode:     auth.Mode(cfg.AuthMode),
			Token:    cfg.AuthToken,
			Secret:   cfg.JWTSecret,
			Username: cfg.BasicUsername,
			Password: cfg.BasicPassword,
			TTL:      cfg.TokenTTL,
		})
		if err != nil {
			return err
		}

		srv := server.New(server.Config{
			Store:            st,
			Publisher:        publisher,
			Catalog:          resolver,
			Rules:            model.DefaultRules(),
			Backups:          backups,
			Auth:             authn,
			CORSOrigins:      cfg.CORSOrigins,
			Logger:           logger,
			AutosaveInterval: cfg.AutosaveInterval,
			MonitorInterval:  cfg.BackupCheckInterval,
			SessionIdle:      cfg.SessionIdle,
		})

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "auth", authn.Mode())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startSync(cfg, st, logger)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Closing sessions flushes their autosaves to the backup store.
		srv.Shutdown(shutdownCtx)
		logger.Info("canvas sessions closed")

		if scheduler != nil {
			scheduler.Stop()
			if err := scheduler.Flush(shutdownCtx); err != nil {
				logger.Error("final sync failed", "err", err)
			}
			logger.Info("sync scheduler stopped")
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// startSync starts the export scheduler when an interval and at least one
// destination are configured.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *flowsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []flowsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := flowsync.NewS3Destination(context.Background(), flowsync.S3Options{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
			Compress: cfg.SyncS3Compress,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync destination enabled", "destination", s3Dest.Name())
		}
	}

	if cfg.SyncGitRepo != "" {
		gitDest := flowsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
		dests = append(dests, gitDest)
		logger.Info("sync destination enabled", "destination", gitDest.Name())
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := flowsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

func init() {
	serveCmd.Flags().StringArray("env-file", nil, "dotenv file to load before reading FLOWCANVAS_* variables (default .env)")
}
