/*
Package idempotency de-duplicates receipt submissions.

PURPOSE:
  A client that retries a POST after a timeout must not pay twice. The
  client sends an Idempotency-Key; the first request reserves the key,
  applies the receipt and completes the key with the receipt ID. A repeat
  finds the completed key and gets the original receipt back.

STATES:
  absent    -> Reserve succeeds, caller proceeds
  pending   -> another request holds the key (Lookup returns "")
  completed -> Lookup returns the stored value

  A failed request releases its reservation so the client can retry.

IMPLEMENTATIONS:
  - Memory: single-instance deployments and tests
  - Redis:  shared state across instances (SETNX + TTL)
*/
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrInProgress is returned to a request whose key is still reserved by
// another request.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Store remembers idempotency keys.
type Store interface {
	// Reserve claims key. It returns false if the key is already reserved
	// or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Complete records the result of a reserved key.
	Complete(ctx context.Context, key, value string, ttl time.Duration) error

	// Lookup returns the completed value. found is false for an unknown or
	// expired key; value is empty while the key is pending.
	Lookup(ctx context.Context, key string) (value string, found bool, err error)

	// Release forgets key.
	Release(ctx context.Context, key string) error
}

// ScopedKey namespaces a client key by the resource it targets, so the same
// key sent for two bills does not collide.
func ScopedKey(scope, key string) string {
	return scope + ":" + key
}
