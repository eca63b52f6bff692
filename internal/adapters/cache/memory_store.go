package cache

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

// sweepEvery is the number of writes between passes that drop expired
// sessions and idle windows.
const sweepEvery = 256

type memorySession struct {
	session   domain.Session
	expiresAt time.Time
}

// memoryWindow expires one window length after its last hit, like the
// PEXPIRE on the Redis sorted set.
type memoryWindow struct {
	stamps    []time.Time
	expiresAt time.Time
}

// MemoryStore keeps sessions and sliding windows in process. One mutex guards
// both maps, which makes Update and Hit atomic per key.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	windows  map[string]memoryWindow
	writes   int
	nowFn    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memorySession),
		windows:  make(map[string]memoryWindow),
		nowFn:    time.Now,
	}
}

var (
	_ ports.SessionStore = (*MemoryStore)(nil)
	_ ports.WindowStore  = (*MemoryStore)(nil)
)

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := entry.session
	return &out, nil
}

func (s *MemoryStore) Put(_ context.Context, session domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = memorySession{session: session, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, session domain.Session, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(session.ID); ok {
		return false, nil
	}
	s.sessions[session.ID] = memorySession{session: session, expiresAt: s.expiry(ttl)}
	s.countWrite()
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, ttl time.Duration, fn func(*domain.Session) error) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(id)
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	working := entry.session
	if err := fn(&working); err != nil {
		return domain.Session{}, err
	}
	s.sessions[id] = memorySession{session: working, expiresAt: s.expiry(ttl)}
	return working, nil
}

// Hit prunes timestamps at or before now-window, then admits now if fewer
// than limit remain.
func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (ports.WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	current := s.windows[key]
	kept := current.stamps[:0]
	for _, ts := range current.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	result := ports.WindowResult{Count: len(kept)}
	if len(kept) > 0 {
		result.Oldest = kept[0]
	}
	if len(kept) >= limit {
		s.windows[key] = memoryWindow{stamps: kept, expiresAt: current.expiresAt}
		return result, nil
	}

	kept = append(kept, now)
	s.windows[key] = memoryWindow{stamps: kept, expiresAt: s.nowFn().Add(window)}
	s.countWrite()
	result.Allowed = true
	result.Count = len(kept)
	result.Oldest = kept[0]
	return result, nil
}

func (s *MemoryStore) live(id string) (memorySession, bool) {
	entry, ok := s.sessions[id]
	if !ok {
		return memorySession{}, false
	}
	if !entry.expiresAt.IsZero() && s.nowFn().After(entry.expiresAt) {
		delete(s.sessions, id)
		return memorySession{}, false
	}
	return entry, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.nowFn().Add(ttl)
}

func (s *MemoryStore) sweep() {
	now := s.nowFn()
	for id, entry := range s.sessions {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
	for key, w := range s.windows {
		if len(w.stamps) == 0 || now.After(w.expiresAt) {
			delete(s.windows, key)
		}
	}
}

func (s *MemoryStore) countWrite() {
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweep()
	}
}
