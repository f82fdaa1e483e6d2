// Package vault persists the biometric credential for this device in the strongest available
// secure storage backend.
package vault

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when the key has never been written or was deleted.
var ErrNotFound = errors.New("vault: key not found")

// Backend is a key/value secret store scoped to one named service.
type Backend interface {
	// Name identifies the backend in logs and status output.
	Name() string
	// Available returns nil when the backend can be used on this runtime.
	Available(ctx context.Context) error
	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
