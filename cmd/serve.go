package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/auth"
	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/config"
	"github.com/SAP-F-2025/workshop-progress/internal/handlers"
	"github.com/SAP-F-2025/workshop-progress/internal/jobs"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories/memory"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories/postgres"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/SAP-F-2025/workshop-progress/internal/validator"
	"github.com/SAP-F-2025/workshop-progress/pkg"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Environment)
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, err := cfg.Events.CreateEventPublisher(slogger)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	sectionStore, err := newSectionStore(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	outbox, err := newOutbox(cfg)
	if err != nil {
		return err
	}

	api := client.NewWorkshopClient(cfg.WorkshopAPIURL, cfg.WorkshopAPITimeout, slogger)
	v := validator.New()

	syncClient := services.NewProgressSyncClient(api, outbox, publisher, v, slogger, services.SyncOptions{
		MaxAttempts:  cfg.Sync.MaxAttempts,
		InitialWait:  cfg.Sync.InitialWait,
		MaxWait:      cfg.Sync.MaxWait,
		Multiplier:   cfg.Sync.Multiplier,
		ServiceToken: cfg.WorkshopAPIToken,
	})

	manager := services.NewSessionManager(services.SessionManagerConfig{
		API:          api,
		Sync:         syncClient,
		SectionCache: cache.NewSectionCache(sectionStore),
		Publisher:    publisher,
		Validator:    v,
		Logger:       slogger,
		PassPercent:  cfg.FinalQuizPassPercent,
	})

	job := jobs.NewOutboxFlushJob(syncClient, cfg.Sync.OutboxFlushInterval, slogger)
	if err := job.Start(ctx); err != nil {
		return err
	}
	defer job.Stop()

	sweep := jobs.NewSessionSweepJob(manager, cfg.SessionSweepInterval, cfg.SessionIdleTimeout, slogger)
	if err := sweep.Start(); err != nil {
		return err
	}
	defer sweep.Stop()

	hm := handlers.NewHandlerManager(handlers.Dependencies{
		Sessions:    manager,
		Sync:        syncClient,
		Stats:       services.NewStatsService(api, slogger),
		Resolver:    auth.NewCasdoorResolver(cfg.Casdoor, slogger),
		CookieStore: handlers.NewCookieStore(cfg.SessionSecret, cfg.Environment == "production"),
		Logger:      logger,
	})
	srv := handlers.NewServer(cfg, handlers.NewRouter(hm, logger, cfg.Environment))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "HTTP shutdown failed")
	}
	if err := syncClient.Close(shutdownCtx); err != nil {
		logger.LogError(err, "Progress sync did not drain, remaining commands moved to the outbox")
	}
	return nil
}

func newSectionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.CacheService, error) {
	if cfg.CacheBackend == "memory" {
		return cache.NewMemoryCache(), nil
	}
	rdb, err := pkg.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisCache(rdb, logger), nil
}

func newOutbox(cfg *config.Config) (repositories.OutboxRepository, error) {
	if cfg.OutboxBackend == "memory" {
		return memory.NewOutboxMemory(), nil
	}
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return postgres.NewOutboxPostgreSQL(db), nil
}
