package ports

import "context"

// TokenHasher derives the storage key from a raw client token. It must be
// one-way and deterministic.
type TokenHasher interface {
	Hash(raw string) string
}

// CaptchaVerifier checks an opaque CAPTCHA response token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) error
}
