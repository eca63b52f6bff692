package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/viralforge/media-download-proxy/internal/domain"
)

const codeInternalError = "INTERNAL_ERROR"

// mapDomainError turns a use-case error into status and body. fallback is the
// message for failures that have no client-facing meaning.
func mapDomainError(err error, fallback string) (int, apiError) {
	hints, _ := domain.AsPolicyError(err)
	if hints == nil {
		hints = &domain.PolicyError{}
	}

	switch {
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		return http.StatusBadRequest, apiError{Error: "Only Instagram URLs are supported", Code: "UNSUPPORTED_PLATFORM"}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, apiError{Error: validationMessage(err), Code: "VALIDATION_ERROR"}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, apiError{
			Error:      "Too many requests. Please try again later.",
			Code:       "RATE_LIMITED",
			RetryAfter: secondsPtr(hints.RetryAfter),
		}
	case errors.Is(err, domain.ErrDMCALimit):
		msg := "Too many DMCA requests."
		if hints.Description != "" {
			msg += " " + capitalize(hints.Description) + "."
		}
		return http.StatusTooManyRequests, apiError{Error: msg, Code: "DMCA_RATE_LIMITED", RetryAfter: secondsPtr(hints.RetryAfter)}
	case errors.Is(err, domain.ErrBlocked):
		return http.StatusForbidden, apiError{
			Error:       "Your session has been temporarily blocked due to suspicious activity.",
			Code:        "SESSION_BLOCKED",
			UnblockTime: unixMillisPtr(hints.UnblockAt),
		}
	case errors.Is(err, domain.ErrCaptchaRequired):
		return http.StatusForbidden, apiError{Error: "CAPTCHA verification required", Code: "CAPTCHA_REQUIRED", RequiresCaptcha: true}
	case errors.Is(err, domain.ErrDownloadInProgress):
		return http.StatusTooManyRequests, apiError{
			Error:       "You already have a download in progress",
			Code:        "DOWNLOAD_IN_PROGRESS",
			WaitSeconds: secondsPtr(hints.WaitFor),
		}
	case errors.Is(err, domain.ErrBandwidthExceeded):
		return http.StatusTooManyRequests, apiError{
			Error:     fmt.Sprintf("Daily bandwidth limit reached (%.0fMB). Try again tomorrow.", hints.LimitMB),
			Code:      "BANDWIDTH_EXCEEDED",
			ResetTime: unixMillisPtr(hints.ResetAt),
		}
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, apiError{
			Error: fmt.Sprintf("File too large (%gMB). Maximum allowed: %gMB", hints.SizeMB, hints.LimitMB),
			Code:  "FILE_TOO_LARGE",
		}
	case errors.Is(err, domain.ErrExtractionFailed):
		return http.StatusBadRequest, apiError{Error: "Could not extract media from this Instagram link", Code: "EXTRACTION_FAILED"}
	case errors.Is(err, domain.ErrUpstreamRateLimited), errors.Is(err, domain.ErrUpstream):
		return http.StatusInternalServerError, apiError{Error: "Failed to process download", Code: "UPSTREAM_ERROR"}
	default:
		return http.StatusInternalServerError, apiError{Error: fallback, Code: codeInternalError}
	}
}

func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": ")
	if msg == domain.ErrInvalidInput.Error() {
		return "Invalid request"
	}
	return capitalize(msg)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func secondsPtr(d time.Duration) *int {
	if d <= 0 {
		return nil
	}
	secs := int((d + time.Second - 1) / time.Second)
	return &secs
}

func unixMillisPtr(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
