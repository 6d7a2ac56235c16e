// Package ratelimit implements fixed-window request rate limiting with two
// interchangeable backends: an in-process table for single-instance
// deployments and a Redis-backed store for horizontal scaling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config describes one named quota. Immutable once a limiter is constructed.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int

	// Window is the fixed counting window.
	Window time.Duration

	// KeyPrefix namespaces this quota's records in the backend.
	KeyPrefix string

	// UseSharedBackend requests the Redis backend when available.
	UseSharedBackend bool
}

// Validate rejects malformed quota configuration at construction time.
func (c Config) Validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("max requests must be at least 1, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	return nil
}

// Result is the outcome of a rate limit check. Never persisted.
type Result struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// Limit is the configured maximum for the window.
	Limit int

	// ResetIn is how long until the window resets.
	ResetIn time.Duration

	// ResetAt is the absolute reset time.
	ResetAt time.Time
}

// Backend is the contract both counter implementations satisfy.
// Keys passed in already carry the quota's prefix.
type Backend interface {
	// Check counts one request against the key's window and reports
	// whether it is allowed.
	Check(ctx context.Context, key string, cfg Config) (*Result, error)

	// Reset clears the record for a key, making the next check behave
	// as a first-ever request.
	Reset(ctx context.Context, key string) error

	// ResetAll clears every record under a key-prefix scope.
	ResetAll(ctx context.Context, prefix string) error
}

// Identifier resolution precedence: authenticated user, then API key,
// then source IP, then the literal "unknown".
func ResolveIdentifier(userID, apiKey, ip string) string {
	switch {
	case userID != "":
		return "user:" + userID
	case apiKey != "":
		return "key:" + apiKey
	case ip != "":
		return "ip:" + ip
	default:
		return "unknown"
	}
}
