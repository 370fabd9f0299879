// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"phonegate/internal/backfill"
	"phonegate/internal/directory"
	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	"phonegate/internal/identity/handler"
	"phonegate/internal/identity/metrics"
	"phonegate/internal/identity/service"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/identity/store/duplicate"
	"phonegate/internal/identity/store/migration"
	"phonegate/internal/platform/config"
	"phonegate/internal/platform/db"
	"phonegate/internal/platform/httpserver"
	"phonegate/internal/platform/logger"
	platformredis "phonegate/internal/platform/redis"
	"phonegate/internal/ratelimit"
	"phonegate/pkg/platform/audit"
	auditpublisher "phonegate/pkg/platform/audit/publisher"
	"phonegate/pkg/platform/tx"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}

	engine, err := fingerprint.New(cfg.FingerprintPepper)
	if err != nil {
		log.Error("build fingerprint engine", "error", err)
		os.Exit(1)
	}
	ciph, err := cipher.New(cfg.CipherKey)
	if err != nil {
		log.Error("build cipher", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores fall back to memory when no database is configured.
	var (
		customers  customer.Store
		duplicates duplicate.Store
		ledger     migration.Store
		operators  directory.Lookup
		auditStore audit.Store
		txRunner   tx.Runner
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			log.Error("bootstrap schema", "error", err)
			os.Exit(1)
		}
		customers = customer.NewPostgres(pool)
		duplicates = duplicate.NewPostgres(pool)
		ledger = migration.NewPostgres(pool)
		operators = directory.NewPostgres(pool)
		auditStore = audit.NewPostgres(pool)
		txRunner = tx.NewSQLRunner(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		memCustomers := customer.NewInMemory()
		customers = memCustomers
		duplicates = duplicate.NewInMemory(memCustomers)
		ledger = migration.NewInMemory()
		operators = directory.NewInMemory()
		auditStore = audit.NewInMemory()
		txRunner = tx.NopRunner{}
	}

	identityMetrics := metrics.New()
	runner := backfill.NewRunner(
		customers, duplicates, ledger, engine, ciph, txRunner,
		backfill.WithLogger(log),
		backfill.WithMetrics(identityMetrics),
	)
	svc := service.NewService(
		customers, duplicates, operators, engine, ciph, txRunner,
		service.WithLogger(log),
		service.WithMetrics(identityMetrics),
		service.WithAudit(auditStore),
		service.WithMigrator(runner),
	)

	handlerOpts := []handler.Option{}
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		limiter := ratelimit.New(redisClient.Client, cfg.RegisterRateLimit, cfg.RegisterRateWindow, log)
		handlerOpts = append(handlerOpts, handler.WithThrottle(limiter.Middleware))
	}

	router := chi.NewRouter()
	handler.New(svc, cfg.JWTSigningKey, log, handlerOpts...).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting phonegate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := auditpublisher.New(ctx, cfg.KafkaBrokers, cfg.AuditTopic, auditStore, log)
		if err != nil {
			log.Error("start audit publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		group.Go(func() error {
			err := publisher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// Periodically remove ledger rows whose customer was deleted out of band.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.OrphanSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				removed, err := duplicates.CleanupOrphans(ctx)
				if err != nil {
					log.ErrorContext(ctx, "orphan sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					log.InfoContext(ctx, "orphan duplicates removed", "count", removed)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("phonegate stopped")
}
