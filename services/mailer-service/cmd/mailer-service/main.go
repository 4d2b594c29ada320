package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/rakibhasan/clinicbook/libs/config"
	"github.com/rakibhasan/clinicbook/libs/db"
	"github.com/rakibhasan/clinicbook/libs/kafkax"
	"github.com/rakibhasan/clinicbook/libs/otelx"
	"github.com/rakibhasan/clinicbook/libs/runtime"
	"github.com/rakibhasan/clinicbook/services/mailer-service/internal/consumer"
	"github.com/rakibhasan/clinicbook/services/mailer-service/internal/email"
	"github.com/rakibhasan/clinicbook/services/mailer-service/internal/inbox"
)

const serviceName = "mailer-service"

func main() {
	_ = godotenv.Load()

	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	port, err := config.Port("PORT", "8081")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	rawBrokers := config.String("KAFKA_BROKERS", "kafka:9092")
	smtpAddr := config.String("SMTP_ADDR", "mailpit:1025")
	smtpFrom := config.String("SMTP_FROM", "noreply@clinicbook.local")
	groupID := config.String("KAFKA_GROUP_ID", serviceName)

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

	sender := email.NewSMTPSender(smtpAddr, smtpFrom)
	cons := consumer.New(kafkax.SplitBrokers(rawBrokers), groupID, inbox.NewRepository(pool), sender, logger)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "postgres", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(rawBrokers)},
	)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("health endpoints listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()

	logger.Info("consuming", "topic", consumer.TopicAppointmentBooked, "group", groupID)
	if err := cons.Run(ctx); err != nil {
		logger.Error("consumer failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
