// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wheelhouse/rentpay/internal/api"
	"github.com/wheelhouse/rentpay/internal/auth"
	"github.com/wheelhouse/rentpay/internal/booking"
	"github.com/wheelhouse/rentpay/internal/config"
	"github.com/wheelhouse/rentpay/internal/gateway"
	"github.com/wheelhouse/rentpay/internal/health"
	"github.com/wheelhouse/rentpay/internal/idempotency"
	"github.com/wheelhouse/rentpay/internal/middleware"
	"github.com/wheelhouse/rentpay/internal/payment"
	"github.com/wheelhouse/rentpay/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Rentpay API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "rentpay-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Persistence: Postgres when configured, otherwise in-memory (state is
	// lost on restart; fine for development and the simulated gateway).
	var (
		db           *sql.DB
		bookingRepo  booking.Repository
		paymentStore payment.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Error("failed to reach database", "error", err)
			os.Exit(1)
		}
		cancel()
		bookingRepo = booking.NewPostgresRepository(db)
		paymentStore = payment.NewPostgresStore(db, logger)
		logger.Info("using postgres storage")
	} else {
		inMemBookings := booking.NewInMemoryRepository()
		bookingRepo = inMemBookings
		paymentStore = payment.NewInMemoryStore(inMemBookings)
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
	}

	// Metrics registry with runtime collectors plus the domain counters.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := payment.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewHTTPMetrics(registry)

	var gatewayClient gateway.Client
	var simClient *gateway.SimulatedClient
	switch cfg.GatewayMode {
	case config.GatewayModeStripe:
		gatewayClient = gateway.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("using stripe gateway")
	default:
		simClient = gateway.NewSimulatedClient()
		gatewayClient = simClient
		logger.Warn("using simulated payment gateway")
	}

	service := payment.NewService(paymentStore, bookingRepo, gatewayClient, paymentMetrics)
	service.SetGatewayTimeout(cfg.GatewayTimeout)
	service.SetDefaultCurrency(cfg.DefaultCurrency)

	// The simulated gateway delivers webhook events straight into the
	// lifecycle service; the real gateway delivers over HTTP instead.
	if simClient != nil {
		simClient.SetWebhookSink(func(ctx context.Context, event string, payload []byte) error {
			return service.HandleWebhook(ctx, event, payload)
		})
	}

	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	idemRepo := idempotency.NewInMemoryRepository()
	webhookRepo := payment.NewInMemoryWebhookRepository()

	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	webhookSecret := ""
	if cfg.GatewayMode == config.GatewayModeStripe {
		webhookSecret = cfg.StripeWebhookSecret
	}

	paymentHandlers := api.NewPaymentHandlers(service, bookingRepo)
	webhookHandlers := api.NewWebhookHandlers(service, webhookRepo, webhookSecret)

	var checkers []health.Checker
	if db != nil {
		checkers = append(checkers, health.NewDBChecker(db))
	}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	healthHandlers := api.NewHealthHandlers(checkers...)

	authenticate := middleware.Authenticate(jwtService)
	// Mutating payment routes get a tighter per-org limit than the global
	// one; it runs after auth so the key is the organization.
	paymentLimit := middleware.RateLimit(rateLimitStore, middleware.DefaultPaymentLimit())
	mutating := func(h http.HandlerFunc) http.Handler {
		return authenticate(paymentLimit(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /payments/intents", mutating(paymentHandlers.CreateIntent))
	mux.Handle("POST /payments/{id}/confirm", mutating(paymentHandlers.Confirm))
	mux.Handle("POST /payments/{id}/cancel", mutating(paymentHandlers.Cancel))
	mux.Handle("POST /payments/{id}/refund", mutating(paymentHandlers.Refund))
	mux.Handle("GET /payments/{id}", authenticate(http.HandlerFunc(paymentHandlers.Get)))
	mux.Handle("POST /bookings", mutating(paymentHandlers.CreateBooking))
	mux.Handle("GET /bookings/{id}/payments", authenticate(http.HandlerFunc(paymentHandlers.ListForBooking)))
	mux.HandleFunc("POST /internal/gateway/webhook", webhookHandlers.HandleGatewayWebhook)
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	idempotentRoutes := map[string]bool{
		"/payments/intents":      true,
		"/payments/{id}/confirm": true,
		"/payments/{id}/cancel":  true,
		"/payments/{id}/refund":  true,
		"/bookings":              true,
	}

	// Middleware, inside out: idempotency replay, rate limiting, HTTP
	// metrics, request logging, request IDs, tracing.
	var handler http.Handler = mux
	handler = middleware.Idempotency(idemRepo, idempotentRoutes)(handler)
	handler = middleware.RateLimit(rateLimitStore, middleware.DefaultGlobalLimit())(handler)
	handler = httpMetrics.Middleware(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	if tracingProvider.IsEnabled() {
		handler = otelhttp.NewHandler(handler, "rentpay-api")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go idempotency.RunPeriodicCleanup(cleanupCtx, idemRepo, time.Hour, idempotency.DefaultExpiry, logger)

	go func() {
		logger.Info("starting server", "port", cfg.Port, "gateway_mode", cfg.GatewayMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracing", "error", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}

	logger.Info("server stopped")
}
