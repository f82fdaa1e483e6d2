package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"verivault/core/internal/device/domain"
	"verivault/core/internal/vault"
)

// Repository persists the local device identity.
type Repository interface {
	// Get returns the stored device, or nil if none has been saved.
	Get(ctx context.Context) (*domain.Device, error)
	Save(ctx context.Context, d *domain.Device) error
}

const deviceKey = "device_id"

// BackendRepository stores the device identity as JSON in a vault backend.
type BackendRepository struct {
	backend vault.Backend
}

// NewBackendRepository returns a repository over backend.
func NewBackendRepository(backend vault.Backend) *BackendRepository {
	return &BackendRepository{backend: backend}
}

// Get returns the device, or nil if not found.
// It returns an error only for storage failures or an undecodable record, not for a missing key.
func (r *BackendRepository) Get(ctx context.Context) (*domain.Device, error) {
	raw, err := r.backend.Get(ctx, deviceKey)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var d domain.Device
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	return &d, nil
}

// Save writes d.
func (r *BackendRepository) Save(ctx context.Context, d *domain.Device) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	return r.backend.Put(ctx, deviceKey, raw)
}

var _ Repository = (*BackendRepository)(nil)
