package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

var errSessionExpired = errors.New("session expired")

// ResolveSession maps the client token to its session, creating or replacing
// it as needed, and records the request against it.
func (s *Service) ResolveSession(ctx context.Context, rawToken string, meta domain.RequestMeta) (SessionHandle, error) {
	token := strings.TrimSpace(rawToken)
	if token != "" {
		handle, err := s.resume(ctx, token)
		switch {
		case err == nil:
			return handle, nil
		case errors.Is(err, errSessionExpired):
			token = ""
		case errors.Is(err, domain.ErrNotFound):
			// Unknown token: adopt it as the credential of a new session.
		default:
			return SessionHandle{}, err
		}
	}

	issued := false
	if token == "" {
		minted, err := newSessionToken()
		if err != nil {
			return SessionHandle{}, err
		}
		token = minted
		issued = true
	}
	return s.create(ctx, token, issued, meta)
}

func (s *Service) resume(ctx context.Context, token string) (SessionHandle, error) {
	id := s.hasher.Hash(token)
	now := s.nowFn()
	banLifted := false

	session, err := s.sessions.Update(ctx, id, s.sessionTTL(), func(session *domain.Session) error {
		banLifted = false
		if session.Expired(now, s.cfg.SessionTimeout) {
			return errSessionExpired
		}
		session.RollBandwidth(now, s.cfg.BandwidthPeriod)
		banLifted = session.LiftExpiredBan(now)
		session.Touch(now)
		return nil
	})
	if errors.Is(err, errSessionExpired) {
		if delErr := s.sessions.Delete(ctx, id); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
			return SessionHandle{}, fmt.Errorf("delete expired session: %w", delErr)
		}
		s.emit(ctx, domain.EventSessionExpired, id, "Session timeout", nil)
		return SessionHandle{}, errSessionExpired
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SessionHandle{}, err
		}
		return SessionHandle{}, fmt.Errorf("resume session: %w", err)
	}
	if banLifted {
		s.emit(ctx, domain.EventBanLifted, id, "Temporary ban expired", nil)
	}
	return SessionHandle{Token: token, Session: session}, nil
}

func (s *Service) create(ctx context.Context, token string, issued bool, meta domain.RequestMeta) (SessionHandle, error) {
	id := s.hasher.Hash(token)
	now := s.nowFn()

	session := domain.NewSession(id, now, s.cfg.BandwidthPeriod)
	session.RequestCount = 1
	initial := domain.ScoreRequest(meta)
	esc := s.escalate(&session, initial, "initial request fingerprint", now)

	inserted, err := s.sessions.Insert(ctx, session, s.sessionTTL())
	if err != nil {
		return SessionHandle{}, fmt.Errorf("create session: %w", err)
	}
	if !inserted {
		// A concurrent request with the same token won the race; join its session.
		handle, err := s.resume(ctx, token)
		if err != nil {
			return SessionHandle{}, err
		}
		handle.Issued = issued
		return handle, nil
	}

	s.metrics.SessionCreated()
	s.emit(ctx, domain.EventNewSession, id, fmt.Sprintf("Initial score: %d", initial), nil)
	s.report(ctx, id, esc)
	return SessionHandle{Token: token, Issued: issued, Session: session}, nil
}
