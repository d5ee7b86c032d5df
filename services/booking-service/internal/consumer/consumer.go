package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// Handler applies one message. Returning an error makes the consumer retry
// the same message before moving on; its offset is not committed meanwhile.
type Handler func(ctx context.Context, msg kafka.Message) error

// Recorder deduplicates events by id. Events are recorded only after the
// handler succeeded, so a failed event is retried on redelivery.
type Recorder interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const maxRetryDelay = 30 * time.Second

type Consumer struct {
	reader     MessageReader
	logger     *zap.Logger
	inbox      Recorder
	handler    Handler
	tracer     trace.Tracer
	retryDelay time.Duration
}

func New(reader MessageReader, inbox Recorder, logger *zap.Logger, handler Handler) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:     reader,
		logger:     logger,
		inbox:      inbox,
		handler:    handler,
		tracer:     otelx.Tracer("kafka"),
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is done, then closes the reader.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, c.retryDelay) {
				return
			}
			continue
		}

		if !c.apply(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", zap.Error(err))
		}
	}
}

// apply retries msg with capped backoff until it succeeds. It reports false
// only when ctx ends first.
func (c *Consumer) apply(ctx context.Context, msg kafka.Message) bool {
	delay := c.retryDelay
	for {
		err := c.process(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("event not applied",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if !sleep(ctx, delay) {
			return false
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctx = kafkax.ExtractTrace(ctx, msg)
	ctx, span := c.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" {
		c.logger.Warn("event without id skipped", zap.String("topic", msg.Topic))
		return nil
	}

	seen, err := c.inbox.Seen(ctx, meta.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inbox")
		return fmt.Errorf("inbox lookup: %w", err)
	}
	if seen {
		c.logger.Info("duplicate event ignored", zap.String("event_id", meta.EventID), zap.String("event_type", meta.EventType))
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		return err
	}
	if _, err := c.inbox.Record(ctx, meta.EventID, meta.EventType); err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox record: %w", err)
	}
	return nil
}

// Invalidator drops cached tenant state.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// TenantSettingsHandler evicts the cached tenant named by a
// tenant.settings.updated.v1 event. Other topics are ignored.
func TenantSettingsHandler(inv Invalidator, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg kafka.Message) error {
		if msg.Topic != outbox.TenantSettingsUpdated {
			return nil
		}
		var payload outbox.TenantPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Warn("malformed tenant event dropped", zap.Error(err))
			return nil
		}
		tenantID := payload.TenantID
		if tenantID == "" {
			tenantID = kafkax.ExtractEventMeta(msg).TenantID
		}
		if tenantID == "" {
			return nil
		}
		if err := inv.InvalidateTenant(ctx, tenantID); err != nil {
			return fmt.Errorf("invalidate tenant %s: %w", tenantID, err)
		}
		logger.Debug("tenant cache invalidated", zap.String("tenant_id", tenantID), zap.String("section", payload.Section))
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
