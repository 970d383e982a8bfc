package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"evfleet/internal/api"
	"evfleet/internal/auth"
	"evfleet/internal/buildinfo"
	"evfleet/internal/config"
	"evfleet/internal/events"
	"evfleet/internal/metrics"
	"evfleet/internal/runs"
	"evfleet/internal/store"
	"evfleet/internal/webhooks"
)

// main is the composition root: it picks the store and broker from the
// environment, starts the run manager and webhook worker, and serves HTTP.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	log.Printf("starting %s", buildinfo.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults, err := config.Load(os.Getenv("ENGINE_CONFIG"))
	if err != nil {
		log.Fatalf("engine config: %v", err)
	}

	st, closeStore, err := openStore(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	broker, closeBroker := openBroker(ctx, os.Getenv("REDIS_URL"))
	defer closeBroker()

	metrics.RegisterDefault()
	hooks := webhooks.NewPublisher(st, &webhooks.Target{URL: os.Getenv("WEBHOOK_URL"), Secret: os.Getenv("WEBHOOK_SECRET")})
	mgr := runs.NewManager(st, broker, hooks, defaults, envInt("MAX_CONCURRENT_RUNS", 2))
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("RUN_TIMEOUT: %v", err)
		}
		mgr.Timeout = d
	}

	var lim *api.RateLimiter
	if rps := envFloat("RATE_RPS", 0); rps > 0 {
		lim = api.NewRateLimiter(rps, envInt("RATE_BURST", int(rps)*2))
	}
	srvDeps := api.NewServer(st, mgr, broker, auth.NewVerifierFromEnv(), lim)

	addr := ":" + getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("API listening on %s auth=%s", addr, srvDeps.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		webhooks.NewWorker(st).Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Printf("run manager shutdown: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("shutdown complete")
}

// openStore uses Postgres when dsn is set, migrating the schema unless
// DB_MIGRATE=false, and memory otherwise.
func openStore(ctx context.Context, dsn string) (store.Store, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		log.Println("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(dsn)
	if err != nil {
		return nil, nil, err
	}
	if os.Getenv("DB_MIGRATE") != "false" {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

// openBroker falls back to the in-process broker when Redis is absent or
// unreachable; progress then only reaches clients of this replica.
func openBroker(ctx context.Context, url string) (events.Broker, func()) {
	if url == "" {
		return events.NewMemory(), func() {}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rb, err := events.NewRedis(pingCtx, url)
	if err != nil {
		log.Printf("redis broker unavailable, using in-memory: %v", err)
		return events.NewMemory(), func() {}
	}
	return rb, func() { _ = rb.Close() }
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}
