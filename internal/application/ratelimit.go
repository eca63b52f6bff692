package application

import (
	"context"
	"strconv"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

const rateLimitKeyPrefix = "rl:"

// CheckRateLimit counts the request in the session's sliding window. Store
// failures let the request through.
func (s *Service) CheckRateLimit(ctx context.Context, sessionID string) (RateDecision, error) {
	now := s.nowFn()
	window := s.cfg.RateLimitWindow
	result, err := s.windows.Hit(ctx, rateLimitKeyPrefix+sessionID, now, window, s.cfg.RateLimitMaxRequests)
	if err != nil {
		appLogger().WarnContext(ctx, "rate limit store unavailable, allowing request",
			"operation", "check_rate_limit",
			"outcome", "degraded",
			"session_hash", sessionID,
			"error", err,
		)
		return RateDecision{Allowed: true}, nil
	}
	if result.Allowed {
		return RateDecision{Allowed: true, Remaining: s.cfg.RateLimitMaxRequests - result.Count}, nil
	}

	s.metrics.Rejected("rate_limit")
	s.emit(ctx, domain.EventRateLimited, sessionID, "Session window exhausted", map[string]string{
		"count": strconv.Itoa(result.Count),
	})
	s.penalizeQuietly(ctx, sessionID, ScoreRateLimitExceeded, "rate limit exceeded")

	retryAt := result.Oldest.Add(window)
	return RateDecision{}, &domain.PolicyError{
		Err:        domain.ErrRateLimited,
		RetryAfter: time.Duration(ceilSeconds(retryAt.Sub(now))) * time.Second,
	}
}
