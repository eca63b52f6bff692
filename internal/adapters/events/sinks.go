package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

// LogSink writes security events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event domain.SecurityEvent) error {
	attrs := []any{
		"module", "events.security_sink",
		"layer", "adapter",
		"event_id", event.EventID,
		"event_type", event.Type,
		"session_hash", event.SessionHash,
		"details", event.Details,
		"occurred_at", event.OccurredAt,
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "security event", attrs...)
	return nil
}

// OutboxSink persists security events for the relay worker.
type OutboxSink struct {
	outbox ports.OutboxRepository
}

func NewOutboxSink(outbox ports.OutboxRepository) *OutboxSink {
	return &OutboxSink{outbox: outbox}
}

func (s *OutboxSink) Record(ctx context.Context, event domain.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode security event: %w", err)
	}
	id, err := uuid.Parse(event.EventID)
	if err != nil {
		id = uuid.New()
	}
	return s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      id,
		EventType:    event.Type,
		PartitionKey: event.SessionHash,
		Payload:      payload,
		OccurredAt:   event.OccurredAt,
	})
}

// FanoutSink delivers each event to every sink and joins their errors.
type FanoutSink []ports.SecuritySink

func (f FanoutSink) Record(ctx context.Context, event domain.SecurityEvent) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
