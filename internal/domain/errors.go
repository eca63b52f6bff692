package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when no record exists for a key.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput covers malformed client payloads (URL, captcha token, DMCA fields).
	// Adapters map it to 400 without leaking internal detail.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedPlatform is an ErrInvalidInput for URLs outside the supported hosts.
	ErrUnsupportedPlatform = errors.New("only instagram urls are supported")
	// ErrRateLimited signals that a sliding window is full for the caller's key.
	ErrRateLimited = errors.New("rate limited")
	// ErrDMCALimit is the per-IP ceiling on takedown submissions.
	ErrDMCALimit = errors.New("too many dmca requests")
	// ErrBlocked is returned while a session ban is active.
	ErrBlocked            = errors.New("session blocked")
	ErrCaptchaRequired    = errors.New("captcha verification required")
	ErrDownloadInProgress = errors.New("download already in progress")
	ErrBandwidthExceeded  = errors.New("daily bandwidth limit reached")
	ErrFileTooLarge       = errors.New("file too large")
	// ErrExtractionFailed means the collaborator answered but gave no usable media locator.
	ErrExtractionFailed = errors.New("media extraction failed")
	// ErrUpstreamRateLimited is the collaborator's own 429; it weighs heavier in scoring.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrUpstream            = errors.New("upstream failure")
	ErrStoreConflict       = errors.New("store update conflict")
)

// PolicyError carries the machine-readable hints a client needs to self-throttle.
// It wraps one of the sentinels above so errors.Is keeps working in adapters.
type PolicyError struct {
	Err error

	RetryAfter  time.Duration
	WaitFor     time.Duration
	UnblockAt   time.Time
	ResetAt     time.Time
	SizeMB      float64
	LimitMB     float64
	Description string
}

func (e *PolicyError) Error() string {
	if e.Description != "" {
		return e.Err.Error() + ": " + e.Description
	}
	return e.Err.Error()
}

func (e *PolicyError) Unwrap() error { return e.Err }

// AsPolicyError extracts the policy hints from err, if any.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
