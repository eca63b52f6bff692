package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// Authorize enforces bans on every action and the CAPTCHA gate on downloads.
func (s *Service) Authorize(ctx context.Context, sessionID string, action Action) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Blocked() {
		s.metrics.Rejected("blocked")
		return &domain.PolicyError{Err: domain.ErrBlocked, UnblockAt: session.BlockExpiry}
	}
	if action == ActionDownload && session.CaptchaPending() {
		s.metrics.Rejected("captcha_required")
		return &domain.PolicyError{Err: domain.ErrCaptchaRequired}
	}
	return nil
}

// VerifyCaptcha marks the session human-verified once the token passes the verifier.
func (s *Service) VerifyCaptcha(ctx context.Context, sessionID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: missing captcha token", domain.ErrInvalidInput)
	}
	if err := s.captcha.Verify(ctx, token); err != nil {
		return err
	}

	session, err := s.sessions.Update(ctx, sessionID, s.sessionTTL(), func(session *domain.Session) error {
		session.VerifyCaptcha(s.cfg.CaptchaScoreRelief)
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify captcha: %w", err)
	}
	s.emit(ctx, domain.EventCaptchaVerified, sessionID, fmt.Sprintf("New score: %d", session.SuspiciousScore), nil)
	return nil
}
