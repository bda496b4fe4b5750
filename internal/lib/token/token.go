package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/o1egl/paseto"
)

const (
	issuer  = "tglink"
	keySize = 32
)

var (
	ErrInvalidKey   = errors.New("session key must be 32 bytes hex encoded")
	ErrInvalidToken = errors.New("invalid session token")
)

// Issuer seals session ids into PASETO v2.local tokens for the session cookie.
type Issuer struct {
	v2    *paseto.V2
	key   []byte
	ttl   time.Duration
	clock clock.Clock
}

func NewIssuer(hexKey string, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Issuer{
		v2:    paseto.NewV2(),
		key:   key,
		ttl:   ttl,
		clock: clk,
	}, nil
}

func (i *Issuer) Issue(sessionID string) (string, error) {
	now := i.clock.Now()

	claims := paseto.JSONToken{
		Issuer:     issuer,
		Subject:    sessionID,
		IssuedAt:   now,
		NotBefore:  now,
		Expiration: now.Add(i.ttl),
	}

	tok, err := i.v2.Encrypt(i.key, claims, nil)
	if err != nil {
		return "", fmt.Errorf("failed to seal token: %w", err)
	}

	return tok, nil
}

// Parse returns the session id sealed in tok.
func (i *Issuer) Parse(tok string) (string, error) {
	var claims paseto.JSONToken

	if err := i.v2.Decrypt(tok, i.key, &claims, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := claims.Validate(paseto.IssuedBy(issuer), paseto.ValidAt(i.clock.Now())); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// TTL is how long an issued token stays valid.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
