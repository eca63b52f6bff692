package application

import (
	"time"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

// Config carries every tunable threshold of the protection pipeline.
type Config struct {
	SessionTimeout time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	CaptchaScoreThreshold int
	BanScoreThreshold     int
	BanDuration           time.Duration
	CaptchaScoreRelief    int

	MaxFileSizeMB      float64
	DefaultMediaSizeMB float64
	DailyBandwidthMB   float64
	BandwidthPeriod    time.Duration
	DownloadTimeout    time.Duration
	DownloadLinkTTL    time.Duration
	// ComplianceScoreFloor is the score above which every download is logged.
	ComplianceScoreFloor int

	DMCAMaxRequests int
	DMCAWindow      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:        24 * time.Hour,
		RateLimitWindow:       time.Minute,
		RateLimitMaxRequests:  10,
		CaptchaScoreThreshold: 50,
		BanScoreThreshold:     100,
		BanDuration:           time.Hour,
		CaptchaScoreRelief:    20,
		MaxFileSizeMB:         200,
		DefaultMediaSizeMB:    50,
		DailyBandwidthMB:      2000,
		BandwidthPeriod:       24 * time.Hour,
		DownloadTimeout:       5 * time.Minute,
		DownloadLinkTTL:       time.Hour,
		ComplianceScoreFloor:  30,
		DMCAMaxRequests:       3,
		DMCAWindow:            24 * time.Hour,
	}
}

// SessionHandle is the resolved session plus the raw token the client must keep.
type SessionHandle struct {
	// Token is the raw credential. It is only ever written to the response cookie.
	Token string
	// Issued is true when Token was minted during this request.
	Issued  bool
	Session domain.Session
}

// Action identifies what the caller is about to do, for gating purposes.
type Action int

const (
	ActionGeneral Action = iota
	ActionDownload
)

// RateDecision is the outcome of a rate-limit check that let the request through.
type RateDecision struct {
	Allowed   bool
	Remaining int
}

type DownloadRequest struct {
	URL string
}

type DownloadResult struct {
	DownloadURL      string  `json:"download_url"`
	SizeMB           float64 `json:"size_mb"`
	ExpiresInSeconds int     `json:"expires_in_seconds"`
}

type DMCAReceipt struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

type StatusView struct {
	AgeMillis       int64   `json:"age"`
	RequestCount    int64   `json:"requestCount"`
	SuspiciousScore int     `json:"suspiciousScore"`
	IsBlocked       bool    `json:"isBlocked"`
	RequiresCaptcha bool    `json:"requiresCaptcha"`
	BandwidthUsed   float64 `json:"bandwidthUsed"`
	BandwidthLimit  float64 `json:"bandwidthLimit"`
}
