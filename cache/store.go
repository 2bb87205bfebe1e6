// Package cache persists the last hydrated ledger snapshot and the session
// token across restarts.
package cache

import (
	"context"
	"errors"
)

// Keys of the two cache entries. They are independent so a logout can clear
// both without reading the snapshot.
const (
	KeySnapshot = "ledger.snapshot"
	KeySession  = "session.token"
)

// ErrNotFound is returned by Store.Get for a missing key
var ErrNotFound = errors.New("cache entry not found")

// Store is a byte-oriented key/value backend
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
