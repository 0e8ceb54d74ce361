package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pacehq/pace/pkg/accessrequest"
	"github.com/pacehq/pace/pkg/api"
	"github.com/pacehq/pace/pkg/audit"
	"github.com/pacehq/pace/pkg/capability"
	"github.com/pacehq/pace/pkg/config"
	"github.com/pacehq/pace/pkg/identity"
	"github.com/pacehq/pace/pkg/observability"
	"github.com/pacehq/pace/pkg/rfp"
	"github.com/pacehq/pace/pkg/workflow"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.DSN(cfg.Auth.DefaultTenant))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to initialize audit log: %v", err)
	}

	capStore := capability.NewStore(db)
	rfpStore := rfp.NewStore(db)
	wfStore := workflow.NewStore(db)
	arStore := accessrequest.NewStore(db)
	for name, ensure := range map[string]func(context.Context) error{
		"capabilities":    capStore.EnsureTable,
		"rfps":            rfpStore.EnsureTable,
		"workflows":       wfStore.EnsureTables,
		"access_requests": arStore.EnsureTable,
	} {
		if err := ensure(ctx); err != nil {
			log.Fatalf("Failed to ensure %s tables: %v", name, err)
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var cache capability.Cache
	switch cfg.Cache.Backend {
	case "redis":
		cache, err = capability.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL, metrics)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
	default:
		cache = capability.NewMemoryCache(cfg.Cache.MemorySize, cfg.Cache.TTL, metrics)
	}

	engine := capability.NewEngine(capStore, cache, cfg.Auth.AdminSeed, metrics, auditLog)
	wfEngine := workflow.NewEngine(wfStore, rfpStore, logger, metrics, auditLog)
	arService := accessrequest.NewService(arStore, capStore, engine, cfg.Workflow.AccessRequestDedupWindow, logger, metrics, auditLog)
	extractor := identity.NewExtractor(cfg.Auth.JWTSecretKey, cfg.Auth.DefaultTenant)

	server := api.NewServer(api.Dependencies{
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
		Extractor:      extractor,
		Engine:         engine,
		Capabilities:   capability.NewHandler(engine, logger),
		Workflows:      workflow.NewHandler(wfEngine, logger),
		AccessRequests: accessrequest.NewHandler(arService, extractor, logger),
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	})

	sweeper := workflow.NewSweeper(wfEngine, logger, cfg.Workflow.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start deadline sweeper: %v", err)
	}
	defer sweeper.Stop()

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
