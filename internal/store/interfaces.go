package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("not found")

// KV is the key-value persistence the ledger is written to.
// Values are opaque JSON documents.
type KV interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
