package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/domain"
)

// AuditRepository stores the redacted legal audit trail.
type AuditRepository interface {
	InsertDMCARecord(ctx context.Context, record domain.DMCARecord) error
}

// OutboxEvent is a durable security event waiting to be relayed to the broker.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      json.RawMessage
	OccurredAt   time.Time
}

// OutboxRecord is a claimed outbox row.
type OutboxRecord struct {
	OutboxEvent
	RetryCount int
}

// OutboxRepository persists security events for asynchronous relay.
// Claims are leases: a worker that dies mid-batch loses its claim at claimUntil.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, eventID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
