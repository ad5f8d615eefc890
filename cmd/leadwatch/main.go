// Command leadwatch mirrors one tenant's lead events from RabbitMQ and logs a status summary.
// The mirror starts empty; leads appear as they are created or updated.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/lead-engine/internal/config"
	"github.com/straye-as/lead-engine/internal/domain"
	"github.com/straye-as/lead-engine/internal/events"
	"github.com/straye-as/lead-engine/internal/logger"
	"go.uber.org/zap"
)

const summaryInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: leadwatch <tenant-id>")
	}
	tenantID, err := uuid.Parse(os.Args[1])
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Events.AMQPURL == "" {
		return fmt.Errorf("EVENTS_AMQPURL is not set")
	}

	log, err := logger.NewLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	consumer, err := events.NewAMQPConsumer(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, tenantID, log.Named("amqp"))
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Warn("Error closing AMQP connection", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projection := events.NewProjection(nil)
	go summarize(ctx, projection, log.With(zap.String("tenant_id", tenantID.String())))

	log.Info("Watching lead events", zap.String("tenant_id", tenantID.String()))
	if err := consumer.Run(ctx, projection); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Stopped watching lead events", zap.Int("leads", projection.Len()))
	return nil
}

func summarize(ctx context.Context, projection *events.Projection, log *zap.Logger) {
	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			byStatus := make(map[domain.LeadStatus]int)
			for _, lead := range projection.Snapshot() {
				byStatus[lead.Status]++
			}
			fields := []zap.Field{zap.Int("leads", projection.Len())}
			for status, n := range byStatus {
				fields = append(fields, zap.Int(string(status), n))
			}
			log.Info("lead mirror summary", fields...)
		}
	}
}
