package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DMCADescriptionMinLen = 20
	DMCADescriptionMaxLen = 1000

	redactedURL = "[REDACTED]"
)

var contactEmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// DMCARequest is the takedown intake payload as submitted by the claimant.
type DMCARequest struct {
	InstagramURL string `json:"instagramUrl"`
	ContactEmail string `json:"contactEmail"`
	Description  string `json:"description"`
}

// Validate checks the required fields before any throttling is applied.
func (r DMCARequest) Validate() error {
	if strings.TrimSpace(r.InstagramURL) == "" || strings.TrimSpace(r.ContactEmail) == "" || strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if !contactEmailPattern.MatchString(r.ContactEmail) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	n := utf8.RuneCountInString(r.Description)
	if n < DMCADescriptionMinLen || n > DMCADescriptionMaxLen {
		return fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidInput, DMCADescriptionMinLen, DMCADescriptionMaxLen)
	}
	return nil
}

// DMCARecord is the redacted audit form of an accepted request.
// It never holds the full email, the URL or the description.
type DMCARecord struct {
	RequestID   string    `json:"request_id"`
	SessionHash string    `json:"session_hash"`
	EmailMasked string    `json:"email_masked"`
	URL         string    `json:"url"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Redact builds the audit record for an accepted request.
func (r DMCARequest) Redact(requestID, sessionHash string, now time.Time) DMCARecord {
	return DMCARecord{
		RequestID:   requestID,
		SessionHash: sessionHash,
		EmailMasked: MaskEmail(r.ContactEmail),
		URL:         redactedURL,
		ReceivedAt:  now,
	}
}

// MaskEmail keeps the first three characters of the address and hides the rest.
func MaskEmail(email string) string {
	runes := []rune(strings.TrimSpace(email))
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes) + "***@***.***"
}
