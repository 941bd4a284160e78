package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hostwarden/hostwarden/internal/adapter/agent"
	hwhttp "github.com/hostwarden/hostwarden/internal/adapter/http"
	hwnats "github.com/hostwarden/hostwarden/internal/adapter/nats"
	"github.com/hostwarden/hostwarden/internal/adapter/natskv"
	hwotel "github.com/hostwarden/hostwarden/internal/adapter/otel"
	"github.com/hostwarden/hostwarden/internal/adapter/postgres"
	"github.com/hostwarden/hostwarden/internal/adapter/ristretto"
	"github.com/hostwarden/hostwarden/internal/adapter/tiered"
	"github.com/hostwarden/hostwarden/internal/adapter/ws"
	"github.com/hostwarden/hostwarden/internal/config"
	"github.com/hostwarden/hostwarden/internal/derived"
	"github.com/hostwarden/hostwarden/internal/logger"
	"github.com/hostwarden/hostwarden/internal/middleware"
	"github.com/hostwarden/hostwarden/internal/port/cache"
	"github.com/hostwarden/hostwarden/internal/service"
	"github.com/hostwarden/hostwarden/internal/service/kinds"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"l2_enabled", cfg.Cache.L2Enabled,
		"max_depth", cfg.Tenancy.MaxDepth,
	)

	ctx := context.Background()

	shutdownTelemetry, err := hwotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	conn, err := hwnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// --- Caching ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	var bytes cache.Cache = l1
	if cfg.Cache.L2Enabled {
		kv, err := conn.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L1TTL)
		if err != nil {
			return fmt.Errorf("l2 cache: %w", err)
		}
		bytes = tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)
	}
	derivedCache := derived.New(bytes, cfg.Cache.L1TTL)

	// --- Services ---

	metrics, err := hwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	store := postgres.NewStore(pool)
	gate := service.NewGate(store, derivedCache, postgres.NewAuditSink(store), cfg.Tenancy.MaxDepth)
	gate.OnDenied(func() { metrics.AccessDenials.Add(ctx, 1) })

	hub := ws.NewHub()
	bcast := service.NewBroadcaster(derivedCache, conn, hub)
	bcast.OnPublished(func(string) { metrics.InvalidationsSent.Add(ctx, 1) })
	bcast.OnReceived(func(string) { metrics.InvalidationsReceived.Add(ctx, 1) })
	derivedCache.OnEvict(func(string) { metrics.CacheEvictions.Add(ctx, 1) })

	stopSub, err := bcast.Start(ctx, conn)
	if err != nil {
		return fmt.Errorf("invalidation subscriber: %w", err)
	}
	defer stopSub()

	engine := service.NewEngine(store, gate)
	engine.SetBroadcaster(bcast)
	engine.OnTransition(metrics.RecordTransition)

	connector := agent.New(conn, agent.Options{
		Timeout:        cfg.Agent.Timeout,
		MaxConcurrent:  cfg.Agent.MaxConcurrent,
		MaxFailures:    cfg.Breaker.MaxFailures,
		BreakerTimeout: cfg.Breaker.Timeout,
	})
	connector.OnCall(func(string, string) { metrics.AgentCalls.Add(ctx, 1) })
	connector.OnUnreachable(func(string) { metrics.AgentUnreachable.Add(ctx, 1) })

	authSvc := service.NewAuthService(store, gate)
	tenantSvc, err := service.NewTenantService(store, gate, engine, bcast, cfg.Tenancy.MaxDepth)
	if err != nil {
		return fmt.Errorf("tenant service: %w", err)
	}
	principalSvc, err := service.NewPrincipalService(store, gate, engine, bcast, authSvc)
	if err != nil {
		return fmt.Errorf("principal service: %w", err)
	}
	hostSvc := service.NewHostService(store, gate, bcast, connector)
	registry, err := kinds.New(store, engine, gate, bcast, connector)
	if err != nil {
		return fmt.Errorf("resource kinds: %w", err)
	}

	// --- HTTP ---

	handlers := &hwhttp.Handlers{
		Auth:       authSvc,
		Gate:       gate,
		Tenants:    tenantSvc,
		Principals: principalSvc,
		Hosts:      hostSvc,
		Resources:  registry,
		Hub:        hub,
		Ready: func() error {
			return pool.Ping(context.Background())
		},
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(hwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(hwhttp.SecurityHeaders)
	r.Use(hwhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	if cfg.Telemetry.Enabled {
		r.Use(hwotel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(middleware.Auth(authSvc))

	hwhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
