package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verivault/core/internal/device/domain"
	"verivault/core/internal/device/repository"
	"verivault/core/internal/logger"
)

// Resolver returns the stable identity of this install, creating it on first use.
type Resolver struct {
	repo     repository.Repository
	platform string
	logger   *zap.Logger
	nowF     func() time.Time

	mu     sync.Mutex
	device *domain.Device
}

// NewResolver returns a Resolver persisting through repo.
func NewResolver(repo repository.Repository, platform string, log *zap.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		platform: platform,
		logger:   logger.OrNop(log),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the stored device, generating and saving a new one when none exists or the stored
// record is unreadable.
func (r *Resolver) Resolve(ctx context.Context) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		return r.device, nil
	}
	d, err := r.repo.Get(ctx)
	if err != nil {
		r.logger.Warn("device identity unreadable, generating a new one", zap.Error(err))
		d = nil
	}
	if d == nil || d.ID == "" {
		d = &domain.Device{ID: uuid.NewString(), Platform: r.platform, CreatedAt: r.nowF()}
		if err := r.repo.Save(ctx, d); err != nil {
			return nil, fmt.Errorf("save device identity: %w", err)
		}
		r.logger.Info("device identity created", zap.String("device_id", d.ID))
	}
	r.device = d
	return d, nil
}
