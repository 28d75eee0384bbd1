package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/medilink-backend/api/routes"
	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	"github.com/angelmondragon/medilink-backend/internal/settlement/allocation"
	"github.com/angelmondragon/medilink-backend/pkg/config"
	"github.com/angelmondragon/medilink-backend/pkg/db"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	"github.com/angelmondragon/medilink-backend/pkg/metrics"
	"github.com/angelmondragon/medilink-backend/pkg/migrate"
	"github.com/angelmondragon/medilink-backend/pkg/outbox"
	"github.com/angelmondragon/medilink-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	// store stays a nil interface when redis is off.
	var store routes.Store
	if cfg.Redis.Enabled() {
		redisClient, redisErr := redis.New(ctx, cfg.Redis, logg)
		if redisErr != nil {
			return redisErr
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
		store = redisClient
	} else {
		logg.Warn(ctx, "redis not configured, idempotency replay and rate limiting disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	policy, err := allocation.ParsePolicy(cfg.Settlement.AllocationPolicy)
	if err != nil {
		return err
	}
	allocator, err := allocation.New(policy)
	if err != nil {
		return err
	}
	idgen, err := ids.NewGenerator(cfg.Settlement.NodeID)
	if err != nil {
		return err
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	settlementService, err := settlement.NewService(
		dbClient,
		ledgerRepo,
		allocator,
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		idgen,
		settlement.Options{
			Timeout: cfg.Settlement.Timeout,
			Logger:  logg,
			Metrics: settlementMetrics,
		},
	)
	if err != nil {
		return err
	}
	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":               cfg.App.Env,
		"addr":              addr,
		"allocation_policy": string(policy),
		"node_id":           cfg.Settlement.NodeID,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, store, registry, settlementService, ledgerService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "api server shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
