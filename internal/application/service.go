package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

const (
	serviceName = "Media-Download-Proxy"

	sessionTokenBytes = 32
)

type Service struct {
	cfg       Config
	sessions  ports.SessionStore
	windows   ports.WindowStore
	hasher    ports.TokenHasher
	extractor ports.MediaExtractor
	captcha   ports.CaptchaVerifier
	audit     ports.AuditRepository
	events    ports.SecuritySink
	metrics   ports.Metrics
	nowFn     func() time.Time
}

type Dependencies struct {
	Config    Config
	Sessions  ports.SessionStore
	Windows   ports.WindowStore
	Hasher    ports.TokenHasher
	Extractor ports.MediaExtractor
	Captcha   ports.CaptchaVerifier
	// Audit is optional; without it DMCA records only reach the security sink.
	Audit   ports.AuditRepository
	Events  ports.SecuritySink
	Metrics ports.Metrics
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		cfg:       deps.Config,
		sessions:  deps.Sessions,
		windows:   deps.Windows,
		hasher:    deps.Hasher,
		extractor: deps.Extractor,
		captcha:   deps.Captcha,
		audit:     deps.Audit,
		events:    deps.Events,
		metrics:   deps.Metrics,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	if deps.Clock != nil {
		s.nowFn = deps.Clock
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.metrics == nil {
		s.metrics = ports.NopMetrics{}
	}
	return s
}

// Config returns the active thresholds.
func (s *Service) Config() Config {
	return s.cfg
}

// HashIdentifier exposes the one-way hash used for session and IP keys so
// adapters can log correlatable identifiers without raw values.
func (s *Service) HashIdentifier(raw string) string {
	return s.hasher.Hash(raw)
}

func (s *Service) sessionTTL() time.Duration {
	// Entries outlive the idle timeout so that expiry is observed and answered
	// with a fresh token instead of silently reusing the old one.
	return 2 * s.cfg.SessionTimeout
}

func (s *Service) policy() domain.EscalationPolicy {
	return domain.EscalationPolicy{
		CaptchaThreshold: s.cfg.CaptchaScoreThreshold,
		BanThreshold:     s.cfg.BanScoreThreshold,
		BanDuration:      s.cfg.BanDuration,
	}
}

func (s *Service) emit(ctx context.Context, eventType, sessionHash, details string, attrs map[string]string) {
	event := domain.SecurityEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		SessionHash: sessionHash,
		Details:     details,
		Attributes:  attrs,
		OccurredAt:  s.nowFn(),
	}
	if err := s.events.Record(ctx, event); err != nil {
		appLogger().WarnContext(ctx, "security event not recorded",
			"operation", "emit_security_event",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
	}
}

func appLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

func newSessionToken() (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ceilSeconds rounds a positive duration up to whole seconds, with a floor of one.
func ceilSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

type nopSink struct{}

func (nopSink) Record(context.Context, domain.SecurityEvent) error { return nil }
