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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ratchetdb/ratchet/api"
	"github.com/ratchetdb/ratchet/internal/cli"
	"github.com/ratchetdb/ratchet/internal/config"
	"github.com/ratchetdb/ratchet/internal/data/repository/postgres"
	"github.com/ratchetdb/ratchet/internal/data/utils"
	"github.com/ratchetdb/ratchet/internal/engine"
	"github.com/ratchetdb/ratchet/internal/rest"
	"github.com/ratchetdb/ratchet/internal/rest/handlers"
	"github.com/ratchetdb/ratchet/internal/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cli.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build CLI")
	}
	if err := c.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse arguments")
	}

	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn, err := utils.BuildConnectionString(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build connection string")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create connection pool")
	}
	defer pool.Close()

	orchestrator, err := engine.NewOrchestrator(engine.OrchestratorDeps{
		DB:          pool,
		Locks:       engine.NewLockCoordinator(pool, cfg.Lock.Key, cfg.Lock.PollInterval, log.Logger),
		History:     postgres.NewHistoryRepository(),
		Checkpoints: postgres.NewCheckpointRepository(),
		Registry:    api.DefaultRegistry(),
		Sources:     []engine.Source{source.NewSQLDir(cfg.Migrations.Dir)},
		LockTimeout: cfg.Lock.Timeout,
		Batch:       api.BatchConfig{BatchSize: cfg.Batch.Size, Pause: cfg.Batch.Pause},
		Logger:      log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build orchestrator")
	}

	app := &cli.App{
		Ctx:          ctx,
		Config:       cfg,
		Orchestrator: orchestrator,
		Log:          log.Logger,
		ServeFn:      serve,
	}
	if err := c.Execute(app); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func serve(app *cli.App) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	rest.SetupRoutes(r, handlers.NewStatusHandler(app.Orchestrator))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config.HTTP.Port),
		Handler: r,
	}

	go func() {
		log.Info().Int("port", app.Config.HTTP.Port).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-app.Ctx.Done()

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
