package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/logger"
)

// credentialKey is the single slot holding this device's credential set.
const credentialKey = "biometric_credential"

// Vault stores at most one credential set per device. The secret is shared by every enabled factor;
// removing the last factor removes the secret and its expiry.
type Vault struct {
	backends []Backend
	deviceID string
	ttl      time.Duration
	logger   *zap.Logger
	nowF     func() time.Time

	mu     sync.Mutex
	active Backend
}

// New returns a Vault over backends, ranked strongest first. deviceID scopes every stored credential.
// ttl <= 0 uses the 24 hour default.
func New(backends []Backend, deviceID string, ttl time.Duration, log *zap.Logger) *Vault {
	if ttl <= 0 {
		ttl = domain.DefaultSettings().CredentialTTL
	}
	return &Vault{
		backends: backends,
		deviceID: deviceID,
		ttl:      ttl,
		logger:   logger.OrNop(log),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// DeviceID returns the device identity credentials are scoped to.
func (v *Vault) DeviceID() string {
	return v.deviceID
}

// BackendName returns the name of the backend in use, selecting one if none has been chosen yet.
func (v *Vault) BackendName(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return "", err
	}
	return b.Name(), nil
}

// backend returns the first available backend in rank order. The choice is kept for the lifetime of
// the Vault so a credential is never split across stores. Caller must hold v.mu.
func (v *Vault) backend(ctx context.Context) (Backend, error) {
	if v.active != nil {
		return v.active, nil
	}
	var reasons []string
	for _, b := range v.backends {
		if b == nil {
			continue
		}
		if err := b.Available(ctx); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		v.active = b
		v.logger.Info("credential vault backend selected", zap.String("backend", b.Name()))
		return b, nil
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no backends configured")
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrBackendUnavailable, strings.Join(reasons, "; "))
}

// Store writes secret for ownerID and enables factor on it. Storing again replaces the secret and
// restarts the expiry window; factors already enabled for the same owner are kept. A credential
// belonging to another owner is replaced outright.
func (v *Vault) Store(ctx context.Context, ownerID, secret string, factor domain.FactorType) (*domain.StoredCredential, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("vault: owner id is required")
	}
	if secret == "" {
		return nil, errors.New("vault: secret is required")
	}
	if !factor.Enrollable() {
		return nil, domain.ErrInvalidFactor
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return nil, err
	}
	now := v.nowF()
	prev, err := v.load(ctx, b)
	if err != nil {
		return nil, err
	}
	factors := []domain.FactorType{factor}
	if prev != nil && prev.OwnerID == ownerID && !prev.IsExpired(now) {
		factors = prev.WithFactor(factor)
	}
	cred := &domain.StoredCredential{
		OwnerID:     ownerID,
		SecretToken: secret,
		DeviceID:    v.deviceID,
		Factors:     factors,
		CreatedAt:   now,
		ExpiresAt:   now.Add(v.ttl),
	}
	if err := v.save(ctx, b, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Retrieve returns the stored credential when it exists, has not expired, and has factor enabled.
// An empty factor (or FactorNone) matches any enabled factor. An expired credential is purged and
// reported as absent (nil, nil).
func (v *Vault) Retrieve(ctx context.Context, factor domain.FactorType) (*domain.StoredCredential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return nil, err
	}
	cred, err := v.load(ctx, b)
	if err != nil || cred == nil {
		return nil, err
	}
	if cred.IsExpired(v.nowF()) || len(cred.Factors) == 0 {
		v.logger.Info("purging expired biometric credential", zap.String("backend", b.Name()))
		if err := v.delete(ctx, b); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if factor != "" && factor != domain.FactorNone && !cred.HasFactor(factor) {
		return nil, nil
	}
	return cred, nil
}

// Purge disables factor on the stored credential, or removes the credential entirely when factor is
// empty. Removing the last enabled factor removes the secret and expiry with it.
func (v *Vault) Purge(ctx context.Context, factor domain.FactorType) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return err
	}
	if factor == "" || factor == domain.FactorNone {
		return v.delete(ctx, b)
	}
	cred, err := v.load(ctx, b)
	if err != nil || cred == nil {
		return err
	}
	cred.Factors = cred.WithoutFactor(factor)
	if len(cred.Factors) == 0 {
		return v.delete(ctx, b)
	}
	return v.save(ctx, b, cred)
}

// Restore puts prev back as the stored credential, or removes the credential when prev is nil.
// Used to roll back a Store whose account-side registration failed.
func (v *Vault) Restore(ctx context.Context, prev *domain.StoredCredential) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return err
	}
	if prev == nil {
		return v.delete(ctx, b)
	}
	return v.save(ctx, b, prev)
}

// Peek returns the raw stored credential without expiry or factor filtering and without purging.
func (v *Vault) Peek(ctx context.Context) (*domain.StoredCredential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.backend(ctx)
	if err != nil {
		return nil, err
	}
	return v.load(ctx, b)
}

func (v *Vault) load(ctx context.Context, b Backend) (*domain.StoredCredential, error) {
	raw, err := b.Get(ctx, credentialKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s get: %v", domain.ErrBackendUnavailable, b.Name(), err)
	}
	var cred domain.StoredCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		// An undecodable record is treated as absent and removed.
		v.logger.Warn("discarding undecodable biometric credential", zap.String("backend", b.Name()), zap.Error(err))
		if derr := b.Delete(ctx, credentialKey); derr != nil {
			return nil, fmt.Errorf("%w: %s delete: %v", domain.ErrBackendUnavailable, b.Name(), derr)
		}
		return nil, nil
	}
	return &cred, nil
}

func (v *Vault) save(ctx context.Context, b Backend, cred *domain.StoredCredential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := b.Put(ctx, credentialKey, raw); err != nil {
		return fmt.Errorf("%w: %s put: %v", domain.ErrBackendUnavailable, b.Name(), err)
	}
	return nil
}

func (v *Vault) delete(ctx context.Context, b Backend) error {
	if err := b.Delete(ctx, credentialKey); err != nil {
		return fmt.Errorf("%w: %s delete: %v", domain.ErrBackendUnavailable, b.Name(), err)
	}
	return nil
}
