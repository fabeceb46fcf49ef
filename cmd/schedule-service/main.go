package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beautycita/schedule-service/internal/cache"
	"github.com/beautycita/schedule-service/internal/handlers"
	"github.com/beautycita/schedule-service/internal/jobs"
	"github.com/beautycita/schedule-service/internal/outbox"
	"github.com/beautycita/schedule-service/internal/scheduling"
	"github.com/beautycita/schedule-service/internal/storage"
	"github.com/beautycita/schedule-service/libs/config"
	"github.com/beautycita/schedule-service/libs/db"
	"github.com/beautycita/schedule-service/libs/httpx"
	"github.com/beautycita/schedule-service/libs/kafkax"
	otelx "github.com/beautycita/schedule-service/libs/otel"
	"github.com/beautycita/schedule-service/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "schedule-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)

	engine := scheduling.New(scheduleRepo, bookingRepo, logger, scheduling.Options{
		MinLeadTime: config.Duration("BOOKING_MIN_LEAD_TIME", 0),
	})

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	expiry := jobs.NewExpiryWorker(engine, logger, jobs.ExpiryConfig{
		Interval:  config.Duration("PENDING_EXPIRY_INTERVAL", time.Minute),
		TTL:       config.Duration("PENDING_EXPIRY_TTL", 30*time.Minute),
		BatchSize: config.Int("PENDING_EXPIRY_BATCH", 100),
	})
	go expiry.Run(ctx)

	var rdb *redis.Client
	var slotsCache *cache.SlotsCache
	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		slotsCache = cache.NewSlotsCache(rdb, logger, config.Duration("SLOTS_CACHE_TTL", 30*time.Second))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	bookingHandler := handlers.NewBookingHandler(engine, slotsCache, logger)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, slotsCache, logger)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Book)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/transition", bookingHandler.Transition)
	mux.HandleFunc("/api/v1/providers", scheduleHandler.UpsertProvider)
	mux.HandleFunc("/api/v1/schedule", scheduleHandler.Schedule)
	mux.HandleFunc("/api/v1/timeoff", scheduleHandler.TimeOff)
	mux.HandleFunc("/api/v1/timeoff/delete", scheduleHandler.DeleteTimeOff)

	middlewares := []httpx.Middleware{
		httpx.WithCORS(corsPolicyFromEnv()),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "schedule")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// corsPolicyFromEnv builds the CORS policy for the public endpoints. With no
// CORS_ALLOWED_ORIGINS configured the middleware is a no-op.
func corsPolicyFromEnv() httpx.CORSPolicy {
	return httpx.CORSPolicy{
		AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
		AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS")),
		AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
		AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
		MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
	}
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
