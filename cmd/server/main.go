package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/eatcast/eatcast/internal/api"
	"github.com/eatcast/eatcast/internal/config"
	"github.com/eatcast/eatcast/internal/discovery"
	"github.com/eatcast/eatcast/internal/discovery/rssfeed"
	"github.com/eatcast/eatcast/internal/discovery/youtube"
	"github.com/eatcast/eatcast/internal/extraction"
	"github.com/eatcast/eatcast/internal/extraction/claude"
	"github.com/eatcast/eatcast/internal/scheduler"
	"github.com/eatcast/eatcast/internal/storage/sqlite"
	"github.com/eatcast/eatcast/internal/worker"
	"github.com/eatcast/eatcast/pkg/logger"
	"github.com/eatcast/eatcast/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eatcast-server",
		Short: "Video discovery and processing pipeline",
		Long: `Runs the subscription scheduler, the extraction worker, and the
control API as one daemon. This is the background service behind the
restaurant-discovery admin dashboard.`,
		RunE: runServer,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting eatcast pipeline server")

	// Initialize storage
	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize rate limiter
	limiter := ratelimit.NewDefaultLimiter()

	// Discovery probe: YouTube Data API when a key is configured, channel RSS
	// feeds otherwise
	var probe discovery.Probe
	if cfg.YouTube.APIKey != "" {
		probe = youtube.New(cfg.YouTube, limiter, log)
	} else {
		log.Info().Msg("No YouTube API key configured, using RSS feed discovery")
		probe = rssfeed.New(limiter, log)
	}

	// Extraction engine
	transcripts := extraction.NewHTTPTranscriptFetcher(cfg.YouTube.TranscriptURL, limiter, log)
	engine := claude.NewEngine(cfg.Anthropic, transcripts, limiter, log)

	// Pipeline worker
	pipeline := worker.New(
		repo,
		engine,
		time.Duration(cfg.Worker.ExtractTimeoutMin)*time.Minute,
		time.Duration(cfg.Worker.PollIntervalSec)*time.Second,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Items left in processing by a crash go back to the queue, each costing
	// one attempt
	if err := pipeline.RecoverAbandoned(ctx); err != nil {
		return fmt.Errorf("failed to recover abandoned items: %w", err)
	}

	go func() {
		if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Worker stopped unexpectedly")
		}
	}()

	// Subscription scheduler
	sched := scheduler.New(
		repo,
		probe,
		pipeline,
		time.Duration(cfg.Scheduler.ProbeTimeoutSec)*time.Second,
		cfg.Worker.MaxAttempts,
		log,
	)

	c := cron.New(cron.WithLogger(cronLogger{log}))
	_, err = c.AddFunc(cfg.Scheduler.TickCron, func() {
		sched.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}
	c.Start()
	log.Info().Str("cron", cfg.Scheduler.TickCron).Msg("Scheduler started")

	// Control API
	handler := api.NewHandler(repo, pipeline, sched, cfg.Worker.MaxAttempts, log)
	server := &http.Server{
		Addr:    ":" + cfg.API.Port,
		Handler: api.NewServer(handler, cfg.API.AccessKey, log),
	}

	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Control API failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")

	cronCtx := c.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API shutdown failed")
	}
	<-cronCtx.Done()

	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
