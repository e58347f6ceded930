package apiclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const (
	TokenIssuer  = "isp-console"
	TokenSubject = "admin-console"
	TokenTTL     = time.Minute
)

// TokenSource mints short-lived HS256 tokens identifying the console to a
// backend that chooses to verify them.
type TokenSource struct {
	key   []byte
	clock clockwork.Clock
}

func NewTokenSource(key []byte, clock clockwork.Clock) *TokenSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenSource{key: key, clock: clock}
}

func (s *TokenSource) Token() (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   TokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type bearerTransport struct {
	next   http.RoundTripper
	tokens *TokenSource
}

func (t *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.tokens.Token()
	if err != nil {
		return nil, err
	}
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+tok)
	return t.next.RoundTrip(r)
}
