package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/media-download-proxy/internal/domain"
)

// LengthVerifier accepts any token of at least minLength characters. It
// stands in until a CAPTCHA provider is configured.
type LengthVerifier struct {
	minLength int
}

func NewLengthVerifier(minLength int) *LengthVerifier {
	return &LengthVerifier{minLength: minLength}
}

func (v *LengthVerifier) Verify(_ context.Context, token string) error {
	if len(token) < v.minLength {
		return fmt.Errorf("%w: invalid captcha token", domain.ErrInvalidInput)
	}
	return nil
}

// PassTokenVerifier checks HS256 pass tokens minted by the CAPTCHA provider
// after a solved challenge. Tokens must be unexpired and name the configured
// audience.
type PassTokenVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
	nowFn    func() time.Time
}

func NewPassTokenVerifier(secret, audience string) (*PassTokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("captcha pass secret is required")
	}
	return &PassTokenVerifier{
		secret:   []byte(secret),
		audience: audience,
		leeway:   30 * time.Second,
		nowFn:    time.Now,
	}, nil
}

func (v *PassTokenVerifier) Verify(_ context.Context, token string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.nowFn),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: invalid captcha token", domain.ErrInvalidInput)
	}
	return nil
}
