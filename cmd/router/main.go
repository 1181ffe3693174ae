package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vmtri/llm-router/config"
	"github.com/vmtri/llm-router/internal/auth"
	"github.com/vmtri/llm-router/internal/metrics"
	"github.com/vmtri/llm-router/internal/orchestrator"
	"github.com/vmtri/llm-router/internal/pricing"
	"github.com/vmtri/llm-router/internal/proxy"
	"github.com/vmtri/llm-router/internal/routing"
	"github.com/vmtri/llm-router/internal/seeder"
	"github.com/vmtri/llm-router/internal/telemetry"
	"github.com/vmtri/llm-router/internal/upstream/mistral"
	"github.com/vmtri/llm-router/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-router", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. API key store: Postgres when configured, static key otherwise
	var keyStore auth.Store
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("PostgreSQL connected")
		keyStore = auth.NewPostgresStore(pool)
	} else {
		keyStore = auth.NewStaticStore(cfg.RouterAPIKey)
		log.Println("Using static API key auth")
	}

	// 4. Redis (optional): auth cache + rate limiting
	var rdb *redis.Client
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		log.Println("Redis connected")
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	}

	// 5. Pricing + metrics
	table := pricing.NewTable(map[string]pricing.Rates{
		cfg.ModelSmall: pricing.PerMillion(cfg.PriceSmallInput, cfg.PriceSmallOutput),
		cfg.ModelLarge: pricing.PerMillion(cfg.PriceLargeInput, cfg.PriceLargeOutput),
	})
	collector := metrics.NewCollector(pricing.PerMillion(cfg.PriceLargeInput, cfg.PriceLargeOutput))

	// 6. Routing policy
	policy := routing.NewPolicy(routing.Config{
		ModelSmall:            cfg.ModelSmall,
		ModelLarge:            cfg.ModelLarge,
		ConversationThreshold: cfg.ConversationThreshold,
		TokenThreshold:        cfg.TokenThreshold,
		LengthThreshold:       cfg.LengthThreshold,
		Keywords:              cfg.Keywords,
	})

	// 7. Upstream client + orchestrator
	client := mistral.New(cfg.MistralAPIKey, cfg.MistralBaseURL)
	orch := orchestrator.New(
		orchestrator.Config{
			ModelSmall: cfg.ModelSmall,
			ModelLarge: cfg.ModelLarge,
			Timeout:    cfg.ClientTimeout,
		},
		client, policy, table, collector,
		orchestrator.MinLengthQuality(cfg.MinCompletionChars),
		logger,
	)

	// 8. HTTP handler
	tracer := otel.GetTracerProvider().Tracer("llm-router")
	handler := proxy.NewHandler(orch, collector, limiter, tracer, client, cfg.HealthCheckTimeout, logger)
	authMiddleware := auth.NewMiddleware(keyStore, rdb, collector, logger)

	// 9. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, keyStore)
	}

	// 10. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-router"}`))
	})
	r.Get("/health", handler.HandleHealth)
	r.Get("/metrics", handler.HandleMetrics)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", handler.HandleCompletions)
		r.Post("/query", handler.HandleCompletions)
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("LLM Router starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
