package application

import (
	"context"
	"fmt"
)

func (s *Service) Status(ctx context.Context, sessionID string) (StatusView, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return StatusView{}, fmt.Errorf("load session: %w", err)
	}
	return StatusView{
		AgeMillis:       s.nowFn().Sub(session.CreatedAt).Milliseconds(),
		RequestCount:    session.RequestCount,
		SuspiciousScore: session.SuspiciousScore,
		IsBlocked:       session.Blocked(),
		RequiresCaptcha: session.RequiresCaptcha,
		BandwidthUsed:   session.BandwidthUsedMB,
		BandwidthLimit:  s.cfg.DailyBandwidthMB,
	}, nil
}
