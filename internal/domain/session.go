package domain

import "time"

// SessionState is the explicit access state of a session.
// It is recomputed from the underlying facts after every transition so that
// the four states can never disagree with the fields they summarize.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateDownloading    SessionState = "downloading"
	StateCaptchaPending SessionState = "captcha_pending"
	StateBlocked        SessionState = "blocked"
)

// EscalationPolicy holds the score thresholds that drive CAPTCHA and ban consequences.
type EscalationPolicy struct {
	CaptchaThreshold int
	BanThreshold     int
	BanDuration      time.Duration
}

// Session is the server-side state bound to a hashed client token.
// The raw token is never part of this struct.
type Session struct {
	ID string `json:"id"`

	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	BandwidthResetAt time.Time `json:"bandwidth_reset_at"`

	RequestCount    int64   `json:"request_count"`
	SuspiciousScore int     `json:"suspicious_score"`
	BandwidthUsedMB float64 `json:"bandwidth_used_mb"`

	RequiresCaptcha   bool      `json:"requires_captcha"`
	CaptchaVerified   bool      `json:"captcha_verified"`
	BlockExpiry       time.Time `json:"block_expiry"`
	DownloadStartedAt time.Time `json:"download_started_at"`

	State SessionState `json:"state"`
}

// NewSession returns a zeroed session whose bandwidth window starts now.
func NewSession(id string, now time.Time, bandwidthPeriod time.Duration) Session {
	s := Session{
		ID:               id,
		CreatedAt:        now,
		LastActivity:     now,
		BandwidthResetAt: now.Add(bandwidthPeriod),
	}
	s.settle()
	return s
}

// Blocked reports whether a ban is recorded. Expired bans stay recorded until
// LiftExpiredBan observes them on the next request.
func (s *Session) Blocked() bool {
	return !s.BlockExpiry.IsZero()
}

// CaptchaPending reports whether the download endpoint is gated behind verification.
func (s *Session) CaptchaPending() bool {
	return s.RequiresCaptcha && !s.CaptchaVerified
}

// Downloading reports whether a download lease is held, stale or not.
func (s *Session) Downloading() bool {
	return !s.DownloadStartedAt.IsZero()
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Touch records one observed request.
func (s *Session) Touch(now time.Time) {
	s.RequestCount++
	s.LastActivity = now
}

// RollBandwidth resets the bandwidth counter once the reset instant has passed.
func (s *Session) RollBandwidth(now time.Time, period time.Duration) bool {
	if !now.After(s.BandwidthResetAt) {
		return false
	}
	s.BandwidthUsedMB = 0
	s.BandwidthResetAt = now.Add(period)
	return true
}

// LiftExpiredBan clears a ban whose expiry is strictly in the past.
func (s *Session) LiftExpiredBan(now time.Time) bool {
	if !s.Blocked() || !now.After(s.BlockExpiry) {
		return false
	}
	s.BlockExpiry = time.Time{}
	s.settle()
	return true
}

// Escalate adds amount to the suspicion score and applies the consequences.
// It returns true when this call placed (or renewed) a ban.
func (s *Session) Escalate(amount int, now time.Time, policy EscalationPolicy) bool {
	if amount > 0 {
		s.SuspiciousScore += amount
	}
	if s.SuspiciousScore < 0 {
		s.SuspiciousScore = 0
	}
	if s.SuspiciousScore >= policy.CaptchaThreshold {
		s.RequiresCaptcha = true
	}
	banned := false
	if amount > 0 && s.SuspiciousScore >= policy.BanThreshold {
		s.BlockExpiry = now.Add(policy.BanDuration)
		banned = true
	}
	s.settle()
	return banned
}

// VerifyCaptcha marks the session human-verified and relieves part of the score.
func (s *Session) VerifyCaptcha(relief int) {
	s.CaptchaVerified = true
	s.SuspiciousScore -= relief
	if s.SuspiciousScore < 0 {
		s.SuspiciousScore = 0
	}
	s.settle()
}

// ActiveDownload reports a non-stale lease and how long until it goes stale.
func (s *Session) ActiveDownload(now time.Time, timeout time.Duration) (bool, time.Duration) {
	if !s.Downloading() {
		return false, 0
	}
	elapsed := now.Sub(s.DownloadStartedAt)
	if elapsed >= timeout {
		return false, 0
	}
	return true, timeout - elapsed
}

// BeginDownload takes the download lease, replacing a stale one.
func (s *Session) BeginDownload(now time.Time) {
	s.DownloadStartedAt = now
	s.settle()
}

// EndDownload releases the download lease.
func (s *Session) EndDownload() {
	s.DownloadStartedAt = time.Time{}
	s.settle()
}

// AddBandwidth accounts a completed download against the current window.
func (s *Session) AddBandwidth(sizeMB float64) {
	s.BandwidthUsedMB += sizeMB
}

func (s *Session) settle() {
	switch {
	case s.Blocked():
		s.State = StateBlocked
	case s.Downloading():
		s.State = StateDownloading
	case s.CaptchaPending():
		s.State = StateCaptchaPending
	default:
		s.State = StateIdle
	}
}
