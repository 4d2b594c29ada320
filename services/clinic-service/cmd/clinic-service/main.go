package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rakibhasan/clinicbook/libs/config"
	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/libs/httpx"
	"github.com/rakibhasan/clinicbook/libs/kafkax"
	"github.com/rakibhasan/clinicbook/libs/otelx"
	"github.com/rakibhasan/clinicbook/libs/runtime"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/approval"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/handlers"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/lifecycle"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/notify"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/outbox"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/reviews"
	"github.com/rakibhasan/clinicbook/services/clinic-service/internal/storage"
)

const serviceName = "clinic-service"

func main() {
	_ = godotenv.Load()

	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	port, err := config.Port("PORT", "8080")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	rawBrokers := config.String("KAFKA_BROKERS", "kafka:9092")
	brokers := kafkax.SplitBrokers(rawBrokers)
	tokenTTL := config.Duration("TOKEN_TTL", time.Hour)

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	userRepo := storage.NewUserRepository(pool)
	doctorRepo := storage.NewDoctorRepository(pool, outboxRepo)
	appointmentRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	reviewRepo := storage.NewReviewRepository(pool, outboxRepo)
	notificationRepo := storage.NewNotificationRepository(pool)

	dispatcher := notify.NewDispatcher(notificationRepo, logger)
	lifecycleSvc := lifecycle.NewService(appointmentRepo, doctorRepo, userRepo, dispatcher, logger)
	approvalSvc := approval.NewService(doctorRepo, userRepo, dispatcher, logger)
	reviewSvc := reviews.NewService(reviewRepo, doctorRepo, dispatcher, logger)

	publisher := outbox.NewPublisher(outboxRepo, brokers, logger)
	go publisher.Run(ctx)

	// Rate limiting goes through Redis when configured so replicas share one
	// window; otherwise each instance limits on its own.
	limit := config.Int("RATE_LIMIT", 120)
	window := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	var limiter httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, limit, window, serviceName).Middleware(logger, true)
	} else {
		limiter = httpx.NewRateLimiter(limit, window).Middleware()
	}

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(rawBrokers)},
	)
	handlers.Register(mux, handlers.Handlers{
		Auth:          handlers.NewAuthHandler(userRepo, jwtSecret, tokenTTL, logger),
		Appointments:  handlers.NewAppointmentHandler(lifecycleSvc, logger),
		Doctors:       handlers.NewDoctorHandler(approvalSvc, reviewSvc, doctorRepo, userRepo, logger),
		Admin:         handlers.NewAdminHandler(approvalSvc, doctorRepo, logger),
		Notifications: handlers.NewNotificationHandler(notificationRepo, logger),
	}, jwtSecret)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(strings.Split(config.String("CORS_ORIGINS", ""), ",")),
		limiter,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("stopped")
}
