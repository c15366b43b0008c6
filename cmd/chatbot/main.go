package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/config"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/db"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/logging"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/server"
	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./config.yaml or the user config dir)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "chatbot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conn *sql.DB
	if cfg.History.Backend == "libsql" {
		conn, err = db.Open(ctx, cfg.History.DSN, logger)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
	}

	factory := harness.NewFactory(cfg, conn, logger)
	provider, err := factory.CreateProvider()
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	orchestrator, store, err := factory.CreateOrchestrator(provider)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close conversation store")
		}
	}()

	srv := server.New(cfg.Server, orchestrator, logger)

	loader.Watch(func(next *config.Config, e fsnotify.Event, err error) {
		if err != nil {
			logger.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		orchestrator.Reconfigure(harness.SettingsFromConfig(next, logger))
		orchestrator.Sessions().SetRequireIssued(next.Session.RequireIssued)
		srv.SetStreamPacing(next.Server.StreamPacing)
		logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
	})

	var wg conc.WaitGroup
	serveErr := make(chan error, 1)
	wg.Go(func() {
		serveErr <- srv.ListenAndServe()
	})
	wg.Go(func() {
		janitor(ctx, orchestrator, cfg.History, logger)
	})

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err = <-serveErr:
		// Listener failed; still drain whatever was accepted.
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("Unclean shutdown")
	}

	wg.Wait()
	return err
}

// janitor evicts idle sessions until ctx is cancelled.
func janitor(ctx context.Context, orchestrator *harness.ChatOrchestrator, cfg config.HistoryConfig, logger zerolog.Logger) {
	if cfg.IdleTTL <= 0 || cfg.SweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := orchestrator.Sweep(ctx, cfg.IdleTTL)
			if err != nil {
				logger.Warn().Err(err).Msg("Session sweep failed")
				continue
			}
			if len(evicted) > 0 {
				logger.Info().Int("evicted", len(evicted)).Msg("Evicted idle sessions")
			}
		}
	}
}
