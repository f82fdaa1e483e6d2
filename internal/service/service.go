// Package service implements the biometric authentication and enrollment state machines over the
// capability prober, credential vault, lockout tracker, challenger, and account store bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/audit"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/capability"
	"verivault/core/internal/challenge"
	"verivault/core/internal/lockout"
	"verivault/core/internal/logger"
	"verivault/core/internal/platform/keylock"
	policyengine "verivault/core/internal/policy/engine"
	"verivault/core/internal/telemetry"
)

// Prober is the capability probe used by both state machines.
type Prober interface {
	Probe(ctx context.Context) domain.Capability
	Environment() capability.Environment
}

// CredentialVault is the device credential store.
type CredentialVault interface {
	DeviceID() string
	Store(ctx context.Context, ownerID, secret string, factor domain.FactorType) (*domain.StoredCredential, error)
	Retrieve(ctx context.Context, factor domain.FactorType) (*domain.StoredCredential, error)
	Purge(ctx context.Context, factor domain.FactorType) error
	Restore(ctx context.Context, prev *domain.StoredCredential) error
	Peek(ctx context.Context) (*domain.StoredCredential, error)
}

// LockoutTracker counts consecutive failures per owner.
type LockoutTracker interface {
	OnFailure(ctx context.Context, ownerID string) (lockout.Outcome, error)
	OnSuccess(ctx context.Context, ownerID string) error
	Reset(ctx context.Context, ownerID string) error
	IsLockedOut(ctx context.Context, ownerID string) (bool, *time.Time, error)
	Merge(ctx context.Context, ownerID string, st lockout.State) error
}

// Deps are the collaborators shared by Authenticator and Enrollment. Locks must be the same
// Locker for both so an owner never has an authentication and an enrollment running at once.
type Deps struct {
	Prober      Prober
	Vault       CredentialVault
	Tracker     LockoutTracker
	Challenger  challenge.Challenger
	Bridge      bridge.Bridge
	Policy      policyengine.Evaluator
	Audit       audit.AuditLogger
	Instruments *telemetry.Instruments
	Locks       *keylock.Locker
	Settings    domain.Settings
	Logger      *zap.Logger
}

// core holds normalized Deps.
type core struct {
	Deps
	nowF func() time.Time
}

func newCore(d Deps) core {
	def := domain.DefaultSettings()
	s := d.Settings
	if s.MaxFailures <= 0 {
		s.MaxFailures = def.MaxFailures
	}
	if s.Lockout <= 0 {
		s.Lockout = def.Lockout
	}
	if s.CredentialTTL <= 0 {
		s.CredentialTTL = def.CredentialTTL
	}
	if s.ChallengeTimeout <= 0 {
		s.ChallengeTimeout = def.ChallengeTimeout
	}
	if s.EnrollTimeout <= 0 {
		s.EnrollTimeout = def.EnrollTimeout
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = def.ProbeTimeout
	}
	if s.BridgeTimeout <= 0 {
		s.BridgeTimeout = def.BridgeTimeout
	}
	if s.AssertionTTL <= 0 {
		s.AssertionTTL = def.AssertionTTL
	}
	d.Settings = s
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.Instruments == nil {
		d.Instruments = telemetry.NoopInstruments()
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(d.Bridge, nil, s.BridgeTimeout, d.Logger)
	}
	d.Logger = logger.OrNop(d.Logger)
	return core{Deps: d, nowF: func() time.Time { return time.Now().UTC() }}
}

// bridgeCtx bounds a call to the account store.
func (c *core) bridgeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.Settings.BridgeTimeout)
}

// resolveOwner maps an owner id or email to an owner id. An empty value selects the signed-in account.
// ok is false when no account matches.
func (c *core) resolveOwner(ctx context.Context, ownerOrEmail string) (ownerID string, ok bool, err error) {
	ownerOrEmail = strings.TrimSpace(ownerOrEmail)
	bctx, cancel := c.bridgeCtx(ctx)
	defer cancel()
	switch {
	case ownerOrEmail == "":
		id, err := c.Bridge.CurrentUser(bctx)
		if err != nil {
			return "", false, err
		}
		return id, id != "", nil
	case strings.Contains(ownerOrEmail, "@"):
		p, err := c.Bridge.LookupProfileByEmail(bctx, ownerOrEmail)
		if err != nil {
			return "", false, err
		}
		if p == nil {
			return "", false, nil
		}
		return p.OwnerID, true, nil
	default:
		return ownerOrEmail, true, nil
	}
}

// updateProfile applies patch with the bridge timeout. Failures are logged and returned.
func (c *core) updateProfile(ctx context.Context, ownerID string, patch domain.ProfilePatch) error {
	bctx, cancel := c.bridgeCtx(ctx)
	defer cancel()
	if err := c.Bridge.UpdateProfile(bctx, ownerID, patch); err != nil {
		c.Logger.Warn("profile update failed", zap.String("owner_id", ownerID), zap.Error(err))
		return err
	}
	return nil
}

// checkLockout folds the failure counter and lockout persisted on the owner's profile into the tracker,
// then reports whether the owner is locked out. The profile record survives restarts of a tracker
// whose store is in memory.
func (c *core) checkLockout(ctx context.Context, ownerID string, rec domain.FactorEnablementRecord) (bool, *time.Time, error) {
	if rec.FailureCount > 0 || rec.LockedUntil != nil {
		st := lockout.State{FailureCount: rec.FailureCount, LockedUntil: rec.LockedUntil}
		if err := c.Tracker.Merge(ctx, ownerID, st); err != nil {
			return false, nil, fmt.Errorf("restore profile lockout: %w", err)
		}
	}
	return c.Tracker.IsLockedOut(ctx, ownerID)
}

// bridgeReason classifies a failed account-store call. A call that ran out of time is retryable.
func bridgeReason(err error) domain.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonSessionEstablishmentFailed
	}
	return domain.ReasonBackendUnavailable
}

// registration builds the account-store binding for cred.
func registration(cred *domain.StoredCredential) domain.CredentialRegistration {
	return domain.CredentialRegistration{
		OwnerID:   cred.OwnerID,
		DeviceID:  cred.DeviceID,
		Factors:   append([]domain.FactorType(nil), cred.Factors...),
		Secret:    cred.SecretToken,
		ExpiresAt: cred.ExpiresAt,
	}
}
