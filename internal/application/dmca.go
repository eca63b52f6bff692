package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/media-download-proxy/internal/domain"
)

const (
	dmcaKeyPrefix      = "dmca:"
	dmcaIPHashPrefix   = "ip:"
	dmcaReceiptMessage = "DMCA request received. We will review within 48 hours."
)

// SubmitDMCA validates and throttles a takedown request, then records its
// redacted form. Throttling is per client IP and never touches the score.
func (s *Service) SubmitDMCA(ctx context.Context, sessionID, clientIP string, req domain.DMCARequest) (DMCAReceipt, error) {
	if err := req.Validate(); err != nil {
		return DMCAReceipt{}, err
	}

	now := s.nowFn()
	ipHash := s.hasher.Hash(dmcaIPHashPrefix + clientIP)
	result, err := s.windows.Hit(ctx, dmcaKeyPrefix+ipHash, now, s.cfg.DMCAWindow, s.cfg.DMCAMaxRequests)
	if err != nil {
		appLogger().WarnContext(ctx, "dmca window unavailable, accepting request",
			"operation", "submit_dmca",
			"outcome", "degraded",
			"error", err,
		)
	} else if !result.Allowed {
		s.metrics.Rejected("dmca_limit")
		s.emit(ctx, domain.EventDMCARateLimited, sessionID, "IP hash: "+ipHash, map[string]string{"ip_hash": ipHash})
		return DMCAReceipt{}, &domain.PolicyError{
			Err:         domain.ErrDMCALimit,
			RetryAfter:  result.Oldest.Add(s.cfg.DMCAWindow).Sub(now),
			Description: fmt.Sprintf("maximum %d per %d hours", s.cfg.DMCAMaxRequests, int(s.cfg.DMCAWindow.Hours())),
		}
	}

	requestID := uuid.NewString()
	record := req.Redact(requestID, sessionID, now)
	if s.audit != nil {
		if err := s.audit.InsertDMCARecord(ctx, record); err != nil {
			return DMCAReceipt{}, fmt.Errorf("persist dmca record: %w", err)
		}
	}
	s.emit(ctx, domain.EventDMCARequest, sessionID,
		fmt.Sprintf("URL: %s | Email: %s", record.URL, record.EmailMasked),
		map[string]string{"request_id": requestID, "ip_hash": ipHash},
	)
	return DMCAReceipt{RequestID: requestID, Message: dmcaReceiptMessage}, nil
}
