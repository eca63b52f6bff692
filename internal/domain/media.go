package domain

import (
	"fmt"
	"net/url"
	"strings"
)

var supportedMediaHosts = []string{"instagram.com", "instagr.am"}

// ValidateMediaURL accepts http(s) links whose host is a supported platform
// domain or one of its subdomains, and returns the normalized form.
func ValidateMediaURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: missing or invalid URL", ErrInvalidInput)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: missing or invalid URL", ErrInvalidInput)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: missing or invalid URL", ErrInvalidInput)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	for _, allowed := range supportedMediaHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return u.String(), nil
		}
	}
	return "", fmt.Errorf("%w (%w)", ErrUnsupportedPlatform, ErrInvalidInput)
}
