package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"retrace/internal/changelog/handler"
	"retrace/internal/changelog/query"
	pgstore "retrace/internal/changelog/store/postgres"
	"retrace/internal/platform/config"
	"retrace/internal/platform/httpserver"
	"retrace/internal/platform/logger"
	"retrace/internal/platform/metrics"
	"retrace/internal/platform/middleware"
	platformredis "retrace/internal/platform/redis"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// The capture/write cycle is a library surface embedded in the host
// application; this binary serves the read side of the audit log.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		log.Error("ping postgres", "error", err)
		os.Exit(1)
	}

	store := pgstore.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.RedisAddr)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	cache := query.NewCache(redisClient, config.ReconstructionCacheTTL, log)

	var queryOpts []query.Option
	if cache != nil {
		queryOpts = append(queryOpts, query.WithCache(cache))
	}
	auditQuery := query.NewService(store, log, m, queryOpts...)

	router := chi.NewRouter()
	router.Use(middleware.Actor([]byte(cfg.JWTSigningKey), log))
	handler.New(auditQuery, log, cfg.AdminToken).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				log.WarnContext(r.Context(), "redis unhealthy", "error", err)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting retrace", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
