package state

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenTooLarge is returned when the signed state would exceed the
// configured size limit.
var ErrTokenTooLarge = errors.New("state token exceeds size limit")

// stateClaims carries the serialized workflow state for one session.
type stateClaims struct {
	State string `json:"st"`
	jwt.RegisteredClaims
}

// TokenCodec signs request-tier state so the client can echo it back on the
// next request without being able to alter it.
type TokenCodec struct {
	secret   []byte
	maxBytes int
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenCodec creates a codec. An empty secret gets a random key, which
// only lets tokens survive for the life of the process.
func NewTokenCodec(secret string, maxBytes int, ttl time.Duration) (*TokenCodec, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate state token key: %w", err)
		}
	}
	return &TokenCodec{secret: key, maxBytes: maxBytes, ttl: ttl, now: time.Now}, nil
}

// Encode signs data for sessionID.
func (c *TokenCodec) Encode(sessionID string, data []byte) (string, error) {
	now := c.now()
	claims := stateClaims{
		State: string(data),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign state token: %w", err)
	}
	if c.maxBytes > 0 && len(signed) > c.maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTokenTooLarge, len(signed), c.maxBytes)
	}
	return signed, nil
}

// Fits reports ErrTokenTooLarge when data for sessionID would not fit in a
// token.
func (c *TokenCodec) Fits(sessionID string, data []byte) error {
	if c.maxBytes <= 0 {
		return nil
	}
	_, err := c.Encode(sessionID, data)
	return err
}

// Decode verifies token and returns the state it carries. Tokens issued for
// another session are rejected.
func (c *TokenCodec) Decode(sessionID, token string) ([]byte, error) {
	if c.maxBytes > 0 && len(token) > c.maxBytes {
		return nil, ErrTokenTooLarge
	}
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(sessionID),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid state token: %w", err)
	}
	return []byte(claims.State), nil
}
