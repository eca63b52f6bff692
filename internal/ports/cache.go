package ports

import (
	"context"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// SessionStore persists sessions by hashed identifier.
// Implementations must make Update atomic per key: the read, the mutation and
// the write happen without another writer observing the intermediate state.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Put(ctx context.Context, session domain.Session, ttl time.Duration) error
	// Insert stores session only when its id is unused and reports whether it did.
	Insert(ctx context.Context, session domain.Session, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, id string) error
	// Update applies fn to the stored session and writes the result back.
	// It returns domain.ErrNotFound when no session exists for id. Returning an
	// error from fn aborts the write.
	Update(ctx context.Context, id string, ttl time.Duration, fn func(*domain.Session) error) (domain.Session, error)
}

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	Allowed bool
	// Count is the number of timestamps inside the window after the check.
	Count int
	// Oldest is the oldest surviving timestamp; zero when the window is empty.
	Oldest time.Time
}

// WindowStore keeps ordered timestamp sequences per key.
type WindowStore interface {
	// Hit prunes entries older than now-window, rejects when limit entries
	// remain, otherwise appends now. The three steps are atomic per key.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (WindowResult, error)
}
