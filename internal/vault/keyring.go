package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringProbeKey = "__verivault_probe__"

// KeyringBackend stores secrets in the OS credential store (Keychain, Secret Service, Credential Manager).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend returns a backend scoped to service.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

// Name returns "keyring".
func (b *KeyringBackend) Name() string { return "keyring" }

// Available probes the OS store with a read; a missing key still proves the store answers.
func (b *KeyringBackend) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := keyring.Get(b.service, keyringProbeKey)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("keyring unavailable: %w", err)
}

// Put writes value under key.
func (b *KeyringBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return keyring.Set(b.service, key, string(value))
}

// Get returns the value under key.
func (b *KeyringBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := keyring.Get(b.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(v), nil
}

// Delete removes key.
func (b *KeyringBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Delete(b.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
