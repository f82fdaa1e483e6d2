package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"verivault/core/internal/capability"
)

// PlatformBackend keeps secrets in process memory, bound to the presence of a user-verifying
// platform authenticator. It is the web fallback when no OS credential store exists: nothing is
// written to disk. Put and Get fail once the authenticator stops verifying the user; Delete always
// succeeds.
type PlatformBackend struct {
	authenticator capability.PlatformAuthenticator
	timeout       time.Duration

	mu sync.RWMutex
	m  map[string][]byte
}

// NewPlatformBackend returns a backend gated on authenticator. timeout bounds the availability query.
func NewPlatformBackend(authenticator capability.PlatformAuthenticator, timeout time.Duration) *PlatformBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PlatformBackend{authenticator: authenticator, timeout: timeout, m: make(map[string][]byte)}
}

// Name returns "platform".
func (b *PlatformBackend) Name() string { return "platform" }

// Available returns nil when the platform authenticator reports user verification within the timeout.
func (b *PlatformBackend) Available(ctx context.Context) error {
	if b.authenticator == nil {
		return errors.New("no platform authenticator")
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ch := make(chan error, 1)
	go func() {
		ok, err := b.authenticator.UserVerifyingAvailable(ctx)
		if err == nil && !ok {
			err = errors.New("platform authenticator cannot verify the user")
		}
		ch <- err
	}()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put writes a copy of value under key.
func (b *PlatformBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.Available(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the value under key.
func (b *PlatformBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.Available(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Delete removes key.
func (b *PlatformBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, key)
	return nil
}
