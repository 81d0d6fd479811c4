// Package idempotency stores the outcome of non-repeatable requests, such as
// committing an edit session, so a client retry replays the first response
// instead of running the operation again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to store a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty or malformed.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response can be replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response for one key.
type Record struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	CreatedAt  time.Time `json:"created_at"`
	StatusCode int       `json:"status_code"`
	Body       string    `json:"body"`
	BodyHash   string    `json:"body_hash"`
}

// ValidateKey checks that key is non-empty, printable ASCII and at most
// MaxKeyLength long.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c < 0x21 || c > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputeResponseHash returns the hex SHA-256 of body.
func ComputeResponseHash(body string) string {
	hash := sha256.Sum256([]byte(body))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether the stored body still matches its hash.
func (r *Record) Verify() bool {
	return r.BodyHash == ComputeResponseHash(r.Body)
}

// Repository persists records. Keys are scoped by owner so one viewer can
// never replay another viewer's response.
type Repository interface {
	// Get returns ErrKeyNotFound if owner has no record under key.
	Get(ctx context.Context, owner, key string) (*Record, error)

	// Store returns ErrKeyExists if owner already has a record under key.
	Store(ctx context.Context, record *Record) error
}
