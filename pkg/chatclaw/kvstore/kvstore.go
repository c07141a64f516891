// Package kvstore provides the ephemeral key-value store used for chat
// sessions and in-flight conversations. Values are JSON blobs with an
// optional per-key TTL. Two backends exist: Redis (production) and an
// in-process map (tests, single-node setups without Redis).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the ephemeral key-value store interface.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every key starting with prefix. Backends that page
	// their keyspace scans must loop until the cursor is exhausted.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}
