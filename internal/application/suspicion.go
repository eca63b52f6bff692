package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// Suspicion increments per observed behavior.
const (
	ScoreRateLimitExceeded  = 10
	ScoreInvalidRequest     = 5
	ScoreUnsupportedURL     = 8
	ScoreConcurrentDownload = 5
	ScoreBandwidthExceeded  = 15
	ScoreFailedExtraction   = 3
	ScoreFileTooLarge       = 8
	ScoreUpstreamRateLimit  = 20
	ScoreUpstreamError      = 2
	ScoreUnhandledError     = 5
)

// escalation records what one score change did, so that events are emitted
// only after the store update that applied it has committed.
type escalation struct {
	amount int
	reason string
	score  int
	banned bool
}

func (s *Service) escalate(session *domain.Session, amount int, reason string, now time.Time) escalation {
	banned := session.Escalate(amount, now, s.policy())
	return escalation{amount: amount, reason: reason, score: session.SuspiciousScore, banned: banned}
}

func (s *Service) report(ctx context.Context, sessionID string, esc escalation) {
	if esc.amount <= 0 {
		return
	}
	s.metrics.SuspicionApplied(esc.reason, esc.amount)
	appLogger().DebugContext(ctx, "suspicion increased",
		"operation", "apply_suspicion",
		"outcome", "success",
		"session_hash", sessionID,
		"amount", esc.amount,
		"score", esc.score,
		"reason", esc.reason,
	)
	if esc.banned {
		s.metrics.SessionBanned()
		s.emit(ctx, domain.EventBan, sessionID, fmt.Sprintf("Score: %d, Reason: %s", esc.score, esc.reason), nil)
	}
}

// Penalize adds amount to the session's score outside of any other update.
func (s *Service) Penalize(ctx context.Context, sessionID string, amount int, reason string) error {
	now := s.nowFn()
	var esc escalation
	_, err := s.sessions.Update(ctx, sessionID, s.sessionTTL(), func(session *domain.Session) error {
		esc = s.escalate(session, amount, reason, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply suspicion: %w", err)
	}
	s.report(ctx, sessionID, esc)
	return nil
}

// penalizeQuietly is Penalize for paths that already fail with a better error.
func (s *Service) penalizeQuietly(ctx context.Context, sessionID string, amount int, reason string) {
	if err := s.Penalize(ctx, sessionID, amount, reason); err != nil && !errors.Is(err, domain.ErrNotFound) {
		appLogger().WarnContext(ctx, "suspicion not applied",
			"operation", "apply_suspicion",
			"outcome", "failure",
			"session_hash", sessionID,
			"reason", reason,
			"error", err,
		)
	}
}

// ReportFault records an unexpected failure while serving the session.
func (s *Service) ReportFault(ctx context.Context, sessionID, detail string) {
	s.emit(ctx, domain.EventUnhandledFailure, sessionID, detail, nil)
	s.penalizeQuietly(ctx, sessionID, ScoreUnhandledError, "unhandled error triggered")
}
