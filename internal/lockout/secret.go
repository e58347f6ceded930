package lockout

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// Secret checks a submitted password against the single configured secret.
// Either way this is a client-side gate only; the site API does not see it.
type Secret interface {
	Verify(password string) bool
}

// PlainSecret compares against a plaintext secret in constant time.
type PlainSecret string

func (s PlainSecret) Verify(password string) bool {
	return subtle.ConstantTimeCompare([]byte(s), []byte(password)) == 1
}

// BcryptSecret compares against a bcrypt hash of the secret.
type BcryptSecret string

func (s BcryptSecret) Verify(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(s), []byte(password)) == nil
}

// HashSecret returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashSecret(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
