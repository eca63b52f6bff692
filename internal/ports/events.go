package ports

import (
	"context"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// SecuritySink receives security events. Implementations must not block the
// request path for long and must never receive raw tokens or PII.
type SecuritySink interface {
	Record(ctx context.Context, event domain.SecurityEvent) error
}

// EventPublisher is the outbound broker port used by the outbox relay.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
