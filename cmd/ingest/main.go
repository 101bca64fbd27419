// Ingest service that bridges producer events from Kafka onto the
// dispatch queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Giftbit/internal-gutenberg/internal/ingest"
	"github.com/Giftbit/internal-gutenberg/internal/observability"
	"github.com/Giftbit/internal-gutenberg/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	nc, err := nats.Connect(natsURL, nats.Name("gutenberg-ingest"))
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	queueConfig := queue.DefaultJetStreamConfig()
	if v := os.Getenv("QUEUE_STREAM"); v != "" {
		queueConfig.Stream = v
	}
	if v := os.Getenv("QUEUE_SUBJECT"); v != "" {
		queueConfig.Subject = v
	}
	queueClient, err := queue.NewJetStreamClient(ctx, nc, queueConfig, logger)
	if err != nil {
		logger.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to queue", "stream", queueConfig.Stream)

	kafkaBrokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(kafkaBrokers) == 0 || kafkaBrokers[0] == "" {
		kafkaBrokers = []string{"localhost:9092"}
	}
	kafkaTopic := os.Getenv("KAFKA_TOPIC")
	if kafkaTopic == "" {
		kafkaTopic = "lightrail.events"
	}
	kafkaGroup := os.Getenv("KAFKA_CONSUMER_GROUP")
	if kafkaGroup == "" {
		kafkaGroup = "gutenberg-ingest"
	}

	metrics := observability.NewMetrics("gutenberg")

	bridgeConfig := ingest.DefaultConfig()
	bridgeConfig.Brokers = kafkaBrokers
	bridgeConfig.Topic = kafkaTopic
	bridgeConfig.GroupID = kafkaGroup

	bridge := ingest.NewBridge(bridgeConfig, queueClient, logger).WithMetrics(metrics)
	bridge.Start(ctx)

	healthHandler := observability.NewHealthHandler()
	healthHandler.AddCheck("queue", queueClient)
	healthHandler.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/ready", healthHandler.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	opsAddr := os.Getenv("OPS_ADDR")
	if opsAddr == "" {
		opsAddr = ":9091"
	}
	opsServer := &http.Server{
		Addr:              opsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	logger.Info("ingest started",
		"brokers", kafkaBrokers,
		"topic", kafkaTopic,
		"group", kafkaGroup,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	bridge.Stop()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
