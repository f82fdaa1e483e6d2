package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"verivault/core/internal/audit"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/challenge"
	"verivault/core/internal/logger"
	"verivault/core/internal/security"
)

// AuthObserver receives state transitions of one authentication attempt. It is called from the
// attempt's goroutine and stops being called once the caller's context is done.
type AuthObserver func(domain.AuthState)

// Authenticator runs the biometric sign-in state machine.
type Authenticator struct {
	core
}

// NewAuthenticator returns an Authenticator. Zero settings fall back to domain.DefaultSettings.
func NewAuthenticator(d Deps) *Authenticator {
	return &Authenticator{core: newCore(d)}
}

// attempt carries the per-call state of one authentication.
type attempt struct {
	a        *Authenticator
	ui       context.Context
	observe  AuthObserver
	ownerID  string
	deviceID string
	factor   domain.FactorType
}

func (at *attempt) enter(s domain.AuthState) {
	if at.observe != nil && at.ui.Err() == nil {
		at.observe(s)
	}
}

// finish sets the terminal state on res and notifies the observer.
func (at *attempt) finish(res domain.Result, s domain.AuthState) domain.Result {
	res.AuthState = s
	at.enter(s)
	return res
}

// Authenticate signs ownerOrEmail in with factor. ownerOrEmail may be an owner id, an email, or empty
// for the signed-in account. Every outcome, including internal faults, is returned as a Result.
// Cancelling ctx detaches observe; the attempt itself always runs to completion so the failure
// counter is never left half-applied.
func (a *Authenticator) Authenticate(ctx context.Context, ownerOrEmail string, factor domain.FactorType, observe AuthObserver) (res domain.Result) {
	at := &attempt{a: a, ui: ctx, observe: observe, factor: factor, deviceID: a.Vault.DeviceID()}
	ctx = context.WithoutCancel(ctx)
	ctx, span := a.Instruments.Start(ctx, "biometric.authenticate", factor)
	defer span.End()
	defer func() {
		span.SetAttributes(
			attribute.Bool("biometric.success", res.Success),
			attribute.String("biometric.reason", string(res.Reason)),
			attribute.String("biometric.state", string(res.AuthState)),
		)
		if !res.Success {
			span.SetStatus(codes.Error, string(res.Reason))
		}
		a.Instruments.Attempt(ctx, factor, res)
	}()
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error("biometric authentication panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = at.finish(domain.Failed(domain.ReasonBackendUnavailable), domain.AuthFailedUnavailable)
		}
	}()

	at.enter(domain.AuthIdle)
	owner, ok, err := a.resolveOwner(ctx, ownerOrEmail)
	if err != nil {
		a.Logger.Warn("resolve owner failed", logger.Owner(ownerOrEmail), zap.Error(err))
		reason := bridgeReason(err)
		return at.finish(domain.Failed(reason), failedState(reason))
	}
	if !ok {
		return at.finish(domain.Failed(domain.ReasonNotEnrolled), domain.AuthFailedUnavailable)
	}
	at.ownerID = owner

	unlock, ok := a.Locks.TryLock(owner)
	if !ok {
		return at.finish(domain.Failed(domain.ReasonAttemptInProgress), domain.AuthFailedRetryable)
	}
	defer unlock()

	return at.run(ctx)
}

func (at *attempt) run(ctx context.Context) domain.Result {
	a := at.a

	at.enter(domain.AuthCheckingLockout)
	bctx, cancel := a.bridgeCtx(ctx)
	profile, err := a.Bridge.GetProfile(bctx, at.ownerID)
	cancel()
	switch {
	case errors.Is(err, bridge.ErrUnknownOwner):
		return at.unavailable(ctx, domain.ReasonNotEnrolled)
	case err != nil:
		a.Logger.Warn("load profile failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		reason := bridgeReason(err)
		at.audit(ctx, audit.EventBiometricLoginFailed, false, string(reason))
		return at.finish(domain.Failed(reason), failedState(reason))
	}
	locked, until, err := a.checkLockout(ctx, at.ownerID, profile.Record)
	if err != nil {
		a.Logger.Warn("lockout check failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		return at.unavailable(ctx, domain.ReasonBackendUnavailable)
	}
	if !locked && profile.Record.LockedUntil != nil {
		patch := domain.ProfilePatch{}
		patch.ResetFailures()
		_ = a.updateProfile(ctx, at.ownerID, patch)
	}
	if locked {
		res := domain.Failed(domain.ReasonLockedOut)
		res.LockedUntil = until
		at.audit(ctx, audit.EventBiometricLoginFailed, false, string(domain.ReasonLockedOut))
		return at.finish(res, domain.AuthFailedLocked)
	}

	at.enter(domain.AuthCheckingEnrolment)
	if !at.factor.Enrollable() {
		return at.unavailable(ctx, domain.ReasonNotEnrolled)
	}
	cred, err := a.Vault.Retrieve(ctx, at.factor)
	if err != nil {
		a.Logger.Warn("credential lookup failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		return at.unavailable(ctx, domain.ReasonOf(err))
	}
	if cred == nil || cred.OwnerID != at.ownerID {
		return at.unavailable(ctx, domain.ReasonNotEnrolled)
	}
	if c := a.Prober.Probe(ctx); !c.Available {
		a.Logger.Info("biometric capability unavailable", zap.String("reason", c.ErrorReason))
		return at.unavailable(ctx, domain.ReasonCapabilityUnavailable)
	}

	at.enter(domain.AuthChallenging)
	prompt := challenge.Prompt{OwnerID: at.ownerID, Factor: at.factor, Purpose: challenge.PurposeAuthenticate}
	if err := challenge.Run(ctx, a.Challenger, prompt, a.Settings.ChallengeTimeout); err != nil {
		reason := domain.ReasonOf(err)
		if reason == domain.ReasonCapabilityUnavailable {
			return at.unavailable(ctx, reason)
		}
		return at.fail(ctx, reason)
	}

	if err := at.verifyBinding(ctx, cred); err != nil {
		a.Logger.Warn("credential binding check failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		if errors.Is(err, domain.ErrCredentialMismatch) {
			return at.fail(ctx, domain.ReasonCredentialMismatch)
		}
		return at.unavailable(ctx, domain.ReasonOf(err))
	}

	if err := a.Tracker.OnSuccess(ctx, at.ownerID); err != nil {
		a.Logger.Warn("lockout reset failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		return at.unavailable(ctx, domain.ReasonBackendUnavailable)
	}

	now := a.nowF()
	assertion, err := security.SignAssertion(cred.SecretToken, at.ownerID, cred.DeviceID, string(at.factor), a.Settings.AssertionTTL, now)
	if err != nil {
		a.Logger.Error("sign biometric assertion", zap.Error(err))
		return at.unavailable(ctx, domain.ReasonBackendUnavailable)
	}
	bctx, cancel = a.bridgeCtx(ctx)
	session, err := a.Bridge.RedeemBiometricAssertion(bctx, assertion)
	cancel()
	if err != nil {
		a.Logger.Warn("session establishment failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		at.audit(ctx, audit.EventBiometricLoginFailed, false, string(domain.ReasonSessionEstablishmentFailed))
		return at.finish(domain.Failed(domain.ReasonSessionEstablishmentFailed), domain.AuthFailedRetryable)
	}

	patch := domain.ProfilePatch{LastLoginAt: &now}
	patch.ResetFailures()
	_ = a.updateProfile(ctx, at.ownerID, patch)
	at.audit(ctx, audit.EventBiometricLogin, true, string(at.factor))

	res := domain.Succeeded()
	res.Session = session
	res.RemainingAttempts = a.Settings.MaxFailures
	return at.finish(res, domain.AuthSuccess)
}

// verifyBinding re-reads the credential after the challenge and checks it still belongs to the owner
// and to this device.
func (at *attempt) verifyBinding(ctx context.Context, before *domain.StoredCredential) error {
	cred, err := at.a.Vault.Retrieve(ctx, at.factor)
	if err != nil {
		return err
	}
	switch {
	case cred == nil:
		return fmt.Errorf("%w: credential removed during challenge", domain.ErrCredentialMismatch)
	case cred.OwnerID != at.ownerID:
		return fmt.Errorf("%w: owner", domain.ErrCredentialMismatch)
	case cred.DeviceID != at.deviceID:
		return fmt.Errorf("%w: device %q, expected %q", domain.ErrCredentialMismatch, cred.DeviceID, at.deviceID)
	case cred.SecretToken != before.SecretToken:
		return fmt.Errorf("%w: credential replaced during challenge", domain.ErrCredentialMismatch)
	}
	return nil
}

// failedState is the terminal state for a failure that is not counted against the owner.
func failedState(reason domain.Reason) domain.AuthState {
	if reason.RequiresFallback() {
		return domain.AuthFailedUnavailable
	}
	return domain.AuthFailedRetryable
}

// unavailable ends the attempt without touching the failure counter.
func (at *attempt) unavailable(ctx context.Context, reason domain.Reason) domain.Result {
	at.audit(ctx, audit.EventBiometricLoginFailed, false, string(reason))
	return at.finish(domain.Failed(reason), domain.AuthFailedUnavailable)
}

// fail records a counted failure and reports either the remaining budget or the new lockout.
func (at *attempt) fail(ctx context.Context, reason domain.Reason) domain.Result {
	a := at.a
	out, err := a.Tracker.OnFailure(ctx, at.ownerID)
	if err != nil {
		a.Logger.Warn("record failure failed", zap.String("owner_id", at.ownerID), zap.Error(err))
		return at.unavailable(ctx, domain.ReasonBackendUnavailable)
	}

	count := out.Count
	patch := domain.ProfilePatch{FailureCount: &count, LockedUntil: out.LockedUntil}
	_ = a.updateProfile(ctx, at.ownerID, patch)
	at.audit(ctx, audit.EventBiometricLoginFailed, false, string(reason))

	if out.Locked {
		if out.NewlyLocked {
			a.Instruments.Lockout(ctx)
			at.audit(ctx, audit.EventBiometricLockout, false, fmt.Sprintf("locked until %s", out.LockedUntil.Format(time.RFC3339)))
		}
		res := domain.Failed(domain.ReasonLockedOut)
		res.LockedUntil = out.LockedUntil
		return at.finish(res, domain.AuthFailedLocked)
	}
	res := domain.Failed(reason)
	res.RemainingAttempts = out.Remaining
	return at.finish(res, domain.AuthFailedRetryable)
}

func (at *attempt) audit(ctx context.Context, event string, success bool, detail string) {
	at.a.Audit.LogEvent(ctx, at.ownerID, at.deviceID, event, success, detail)
}

// SignInWithPassword is the fallback path. A successful password sign-in clears the biometric
// failure counter and lockout for the owner.
func (a *Authenticator) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx = context.WithoutCancel(ctx)
	bctx, cancel := a.bridgeCtx(ctx)
	session, err := a.Bridge.SignInWithPassword(bctx, email, password)
	cancel()
	if err != nil {
		if owner, ok, lerr := a.resolveOwner(ctx, bridge.NormalizeEmail(email)); lerr == nil && ok {
			a.Audit.LogEvent(ctx, owner, "", audit.EventPasswordLogin, false, "")
		}
		if errors.Is(err, bridge.ErrInvalidCredentials) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSessionEstablishmentFailed, err)
		}
		return nil, fmt.Errorf("password sign-in: %w", err)
	}

	unlock := a.Locks.Lock(session.OwnerID)
	defer unlock()
	if err := a.Tracker.Reset(ctx, session.OwnerID); err != nil {
		a.Logger.Warn("lockout reset after password sign-in failed", zap.String("owner_id", session.OwnerID), zap.Error(err))
	}
	patch := domain.ProfilePatch{}
	patch.ResetFailures()
	_ = a.updateProfile(ctx, session.OwnerID, patch)
	a.Audit.LogEvent(ctx, session.OwnerID, "", audit.EventPasswordLogin, true, "")
	return session, nil
}
