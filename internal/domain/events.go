package domain

import "time"

// Security event types. Payloads carry hashed identifiers only.
const (
	EventNewSession       = "NEW_SESSION"
	EventSessionExpired   = "SESSION_EXPIRED"
	EventBan              = "BAN"
	EventBanLifted        = "BAN_LIFTED"
	EventCaptchaVerified  = "CAPTCHA_VERIFIED"
	EventRateLimited      = "RATE_LIMIT"
	EventDownloadLogged   = "DOWNLOAD_LOG"
	EventDMCARequest      = "DMCA_REQUEST"
	EventDMCARateLimited  = "DMCA_RATE_LIMIT"
	EventUnhandledFailure = "UNHANDLED_ERROR"
)

// SecurityEvent is one audit-relevant occurrence.
type SecurityEvent struct {
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"`
	SessionHash string            `json:"session_hash"`
	Details     string            `json:"details"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
