package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// complianceSizeRatio is the share of the per-file cap above which every
// download is logged regardless of score.
const complianceSizeRatio = 0.8

// Download runs the guarded extraction flow for one media URL.
func (s *Service) Download(ctx context.Context, sessionID string, req DownloadRequest) (DownloadResult, error) {
	sourceURL, err := domain.ValidateMediaURL(req.URL)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedPlatform) {
			s.penalizeQuietly(ctx, sessionID, ScoreUnsupportedURL, "non-platform URL")
		} else {
			s.penalizeQuietly(ctx, sessionID, ScoreInvalidRequest, "invalid download request")
		}
		s.metrics.Rejected("invalid_url")
		return DownloadResult{}, err
	}

	leaseStart, err := s.acquireLease(ctx, sessionID)
	if err != nil {
		return DownloadResult{}, err
	}
	accounted := false
	defer func() {
		if !accounted {
			s.releaseLease(context.WithoutCancel(ctx), sessionID, leaseStart)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	defer cancel()
	media, err := s.extractor.Extract(callCtx, sourceURL)
	if err != nil {
		return DownloadResult{}, s.upstreamFailure(ctx, sessionID, err)
	}

	if strings.TrimSpace(media.DownloadURL) == "" {
		s.penalizeQuietly(ctx, sessionID, ScoreFailedExtraction, "failed extraction")
		s.metrics.DownloadFailed("no_media")
		return DownloadResult{}, domain.ErrExtractionFailed
	}

	sizeMB := media.SizeMB
	if sizeMB <= 0 {
		sizeMB = s.cfg.DefaultMediaSizeMB
	}
	if sizeMB > s.cfg.MaxFileSizeMB {
		s.penalizeQuietly(ctx, sessionID, ScoreFileTooLarge, fmt.Sprintf("file too large: %.1fMB", sizeMB))
		s.metrics.DownloadFailed("too_large")
		return DownloadResult{}, &domain.PolicyError{
			Err:         domain.ErrFileTooLarge,
			SizeMB:      sizeMB,
			LimitMB:     s.cfg.MaxFileSizeMB,
			Description: fmt.Sprintf("maximum %.0fMB", s.cfg.MaxFileSizeMB),
		}
	}

	session, err := s.account(ctx, sessionID, leaseStart, sizeMB)
	if err != nil {
		return DownloadResult{}, err
	}
	accounted = true

	s.metrics.DownloadCompleted(sizeMB)
	if session.SuspiciousScore > s.cfg.ComplianceScoreFloor || sizeMB > s.cfg.MaxFileSizeMB*complianceSizeRatio {
		s.emit(ctx, domain.EventDownloadLogged, sessionID, fmt.Sprintf("Size: %.1fMB, Score: %d", sizeMB, session.SuspiciousScore), map[string]string{
			"size_mb": fmt.Sprintf("%.1f", sizeMB),
		})
	}

	return DownloadResult{
		DownloadURL:      media.DownloadURL,
		SizeMB:           sizeMB,
		ExpiresInSeconds: int(s.cfg.DownloadLinkTTL / time.Second),
	}, nil
}

// acquireLease checks the concurrency and bandwidth guards and takes the
// download lease in the same atomic update.
func (s *Service) acquireLease(ctx context.Context, sessionID string) (time.Time, error) {
	now := s.nowFn()
	var (
		esc       escalation
		rejection error
	)
	_, err := s.sessions.Update(ctx, sessionID, s.sessionTTL(), func(session *domain.Session) error {
		esc, rejection = escalation{}, nil
		if active, remaining := session.ActiveDownload(now, s.cfg.DownloadTimeout); active {
			esc = s.escalate(session, ScoreConcurrentDownload, "concurrent download attempt", now)
			rejection = &domain.PolicyError{Err: domain.ErrDownloadInProgress, WaitFor: remaining}
			return nil
		}
		if session.BandwidthUsedMB >= s.cfg.DailyBandwidthMB {
			esc = s.escalate(session, ScoreBandwidthExceeded, "daily bandwidth limit exceeded", now)
			rejection = &domain.PolicyError{
				Err:     domain.ErrBandwidthExceeded,
				ResetAt: session.BandwidthResetAt,
				LimitMB: s.cfg.DailyBandwidthMB,
			}
			return nil
		}
		session.BeginDownload(now)
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire download lease: %w", err)
	}
	s.report(ctx, sessionID, esc)
	if rejection != nil {
		switch {
		case errors.Is(rejection, domain.ErrDownloadInProgress):
			s.metrics.Rejected("concurrent_download")
		default:
			s.metrics.Rejected("bandwidth")
		}
		return time.Time{}, rejection
	}
	return now, nil
}

// account adds the transfer to the bandwidth window and ends the lease. A
// transfer that would overshoot the window's cap is refused without charge.
func (s *Service) account(ctx context.Context, sessionID string, leaseStart time.Time, sizeMB float64) (domain.Session, error) {
	var rejection error
	session, err := s.sessions.Update(ctx, sessionID, s.sessionTTL(), func(session *domain.Session) error {
		rejection = nil
		if session.DownloadStartedAt.Equal(leaseStart) {
			session.EndDownload()
		}
		if session.BandwidthUsedMB+sizeMB > s.cfg.DailyBandwidthMB {
			rejection = &domain.PolicyError{
				Err:     domain.ErrBandwidthExceeded,
				ResetAt: session.BandwidthResetAt,
				LimitMB: s.cfg.DailyBandwidthMB,
				SizeMB:  sizeMB,
			}
			return nil
		}
		session.AddBandwidth(sizeMB)
		return nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("account bandwidth: %w", err)
	}
	if rejection != nil {
		s.metrics.Rejected("bandwidth")
		return domain.Session{}, rejection
	}
	return session, nil
}

func (s *Service) releaseLease(ctx context.Context, sessionID string, leaseStart time.Time) {
	_, err := s.sessions.Update(ctx, sessionID, s.sessionTTL(), func(session *domain.Session) error {
		if session.DownloadStartedAt.Equal(leaseStart) {
			session.EndDownload()
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		appLogger().ErrorContext(ctx, "download lease not released",
			"operation", "release_download_lease",
			"outcome", "failure",
			"session_hash", sessionID,
			"error", err,
		)
	}
}

func (s *Service) upstreamFailure(ctx context.Context, sessionID string, err error) error {
	if errors.Is(err, domain.ErrUpstreamRateLimited) {
		s.penalizeQuietly(ctx, sessionID, ScoreUpstreamRateLimit, "upstream rate limit hit - possible abuse pattern")
		s.metrics.DownloadFailed("upstream_rate_limited")
		return err
	}
	s.penalizeQuietly(ctx, sessionID, ScoreUpstreamError, "download API error")
	s.metrics.DownloadFailed("upstream")
	appLogger().WarnContext(ctx, "media extraction failed",
		"operation", "extract_media",
		"outcome", "failure",
		"session_hash", sessionID,
		"error", err,
	)
	if errors.Is(err, domain.ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
}
