// Package otp holds pending email verification challenges.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Retention is how long an expired challenge is kept so a late verify can be
// told it expired rather than that it never existed.
const Retention = 10 * time.Minute

// Challenge is a pending verification for one email address.
type Challenge struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// Expired reports whether now is at or past the challenge's expiry.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Store keeps at most one challenge per email. Put overwrites; the last
// writer wins. Get returns nil when there is no challenge.
type Store interface {
	Put(ctx context.Context, c Challenge) error
	Get(ctx context.Context, email string) (*Challenge, error)
	Delete(ctx context.Context, email string) error
}

// GenerateCode returns a 6-digit numeric code (100000–999999).
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
