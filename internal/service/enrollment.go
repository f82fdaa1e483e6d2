package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"verivault/core/internal/audit"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/challenge"
	policyengine "verivault/core/internal/policy/engine"
	"verivault/core/internal/security"
)

// EnrollObserver receives state transitions of one enrollment.
type EnrollObserver func(domain.EnrollState)

// Enrollment runs the setup wizard, the disable flow, and the settings status query.
type Enrollment struct {
	core
}

// NewEnrollment returns an Enrollment. Pass the same Deps.Locks as the Authenticator.
func NewEnrollment(d Deps) *Enrollment {
	return &Enrollment{core: newCore(d)}
}

type enrollRun struct {
	e        *Enrollment
	ui       context.Context
	observe  EnrollObserver
	ownerID  string
	deviceID string
	factor   domain.FactorType
}

func (r *enrollRun) enter(s domain.EnrollState) {
	if r.observe != nil && r.ui.Err() == nil {
		r.observe(s)
	}
}

func (r *enrollRun) finish(res domain.Result, s domain.EnrollState) domain.Result {
	res.EnrollState = s
	r.enter(s)
	return res
}

// Enroll sets up factor for ownerID (empty selects the signed-in account). On success the Result
// carries the new secret in Token. A declined or timed-out challenge ends in EnrollCancelled with no
// state written.
func (e *Enrollment) Enroll(ctx context.Context, ownerID string, factor domain.FactorType, observe EnrollObserver) (res domain.Result) {
	r := &enrollRun{e: e, ui: ctx, observe: observe, factor: factor, deviceID: e.Vault.DeviceID()}
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.Instruments.Start(ctx, "biometric.enroll", factor)
	defer span.End()
	defer func() {
		span.SetAttributes(
			attribute.Bool("biometric.success", res.Success),
			attribute.String("biometric.reason", string(res.Reason)),
			attribute.String("biometric.state", string(res.EnrollState)),
		)
		if !res.Success {
			span.SetStatus(codes.Error, string(res.Reason))
		}
		e.Instruments.Enrollment(ctx, factor, res)
	}()
	defer func() {
		if p := recover(); p != nil {
			e.Logger.Error("biometric enrollment panicked", zap.Any("panic", p), zap.Stack("stack"))
			res = r.finish(domain.Failed(domain.ReasonBackendUnavailable), domain.EnrollError)
		}
	}()

	r.enter(domain.EnrollWelcome)
	owner, ok, err := e.resolveOwner(ctx, ownerID)
	if err != nil {
		e.Logger.Warn("resolve owner failed", zap.Error(err))
		return r.finish(bridgeFailure(err), domain.EnrollError)
	}
	if !ok {
		return r.finish(domain.Failed(domain.ReasonNotEnrolled), domain.EnrollError)
	}
	r.ownerID = owner

	unlock, ok := e.Locks.TryLock(owner)
	if !ok {
		return r.finish(domain.Failed(domain.ReasonAttemptInProgress), domain.EnrollError)
	}
	defer unlock()

	return r.run(ctx)
}

func (r *enrollRun) run(ctx context.Context) domain.Result {
	e := r.e

	r.enter(domain.EnrollCapabilityCheck)
	capab := e.Prober.Probe(ctx)
	if !capab.Available {
		e.Logger.Info("biometric enrollment unavailable", zap.String("reason", capab.ErrorReason))
		return r.finish(domain.Failed(domain.ReasonCapabilityUnavailable), domain.EnrollUnavailable)
	}

	r.enter(domain.EnrollChooseFactor)
	decision := e.decide(ctx, capab, r.factor)
	if !decision.Allowed {
		e.Logger.Info("biometric enrollment denied by policy",
			zap.String("factor", string(r.factor)),
			zap.Strings("reasons", decision.Reasons),
		)
		res := domain.Failed(domain.ReasonPolicyDenied)
		if len(decision.Reasons) > 0 {
			res.Message = res.Message + " (" + strings.Join(decision.Reasons, ", ") + ")"
		}
		return r.finish(res, domain.EnrollUnavailable)
	}

	r.enter(domain.EnrollEnrolling)
	prompt := challenge.Prompt{OwnerID: r.ownerID, Factor: r.factor, Purpose: challenge.PurposeEnroll}
	if err := challenge.Run(ctx, e.Challenger, prompt, e.Settings.EnrollTimeout); err != nil {
		reason := domain.ReasonOf(err)
		if reason == domain.ReasonCapabilityUnavailable {
			return r.finish(domain.Failed(reason), domain.EnrollUnavailable)
		}
		r.audit(ctx, audit.EventBiometricSetupCancelled, false, string(reason))
		return r.finish(domain.Failed(reason), domain.EnrollCancelled)
	}

	secret, err := security.GenerateSecret()
	if err != nil {
		e.Logger.Error("generate biometric secret", zap.Error(err))
		return r.failed(ctx, domain.ReasonBackendUnavailable)
	}
	unlockDevice := e.Locks.Lock(deviceKey(r.deviceID))
	defer unlockDevice()
	prev, err := e.Vault.Peek(ctx)
	if err != nil {
		e.Logger.Warn("read existing credential failed", zap.Error(err))
		return r.failed(ctx, domain.ReasonOf(err))
	}
	cred, err := e.Vault.Store(ctx, r.ownerID, secret, r.factor)
	if err != nil {
		e.Logger.Warn("store biometric credential failed", zap.Error(err))
		return r.failed(ctx, domain.ReasonOf(err))
	}

	bctx, cancel := e.bridgeCtx(ctx)
	err = e.Bridge.RegisterBiometricCredential(bctx, registration(cred))
	cancel()
	if err != nil {
		e.Logger.Warn("register biometric credential failed", zap.String("owner_id", r.ownerID), zap.Error(err))
		e.rollbackVault(ctx, prev)
		return r.failedWith(ctx, bridgeFailure(err))
	}

	now := e.nowF()
	patch := domain.ProfilePatch{LastSetupAt: &now}
	patch.SetFactor(r.factor, true)
	patch.ResetFailures()
	if err := e.updateProfile(ctx, r.ownerID, patch); err != nil {
		e.rollbackVault(ctx, prev)
		e.rollbackRegistration(ctx, r.ownerID, r.deviceID, prev)
		return r.failedWith(ctx, bridgeFailure(err))
	}

	if prev != nil && prev.OwnerID != r.ownerID {
		e.revoke(ctx, prev.OwnerID, prev.DeviceID)
	}
	if err := e.Tracker.Reset(ctx, r.ownerID); err != nil {
		e.Logger.Warn("lockout reset after enrollment failed", zap.String("owner_id", r.ownerID), zap.Error(err))
	}
	r.audit(ctx, audit.EventBiometricSetup, true, string(r.factor))

	res := domain.Succeeded()
	res.Message = "Biometric sign-in is set up."
	res.Token = secret
	return r.finish(res, domain.EnrollComplete)
}

func (r *enrollRun) failed(ctx context.Context, reason domain.Reason) domain.Result {
	return r.failedWith(ctx, domain.Failed(reason))
}

func (r *enrollRun) failedWith(ctx context.Context, res domain.Result) domain.Result {
	r.audit(ctx, audit.EventBiometricSetup, false, string(res.Reason))
	return r.finish(res, domain.EnrollError)
}

// bridgeFailure is the Result for a failed account-store call outside of sign-in.
func bridgeFailure(err error) domain.Result {
	res := domain.Failed(bridgeReason(err))
	if res.Reason == domain.ReasonSessionEstablishmentFailed {
		res.Message = "The account service did not respond in time. Try again."
	}
	return res
}

// deviceKey is the lock key guarding this device's single credential slot.
func deviceKey(deviceID string) string {
	return "device:" + deviceID
}

func (r *enrollRun) audit(ctx context.Context, event string, success bool, detail string) {
	r.e.Audit.LogEvent(ctx, r.ownerID, r.deviceID, event, success, detail)
}

// decide evaluates the enrollment policy, falling back to the built-in rules.
func (e *Enrollment) decide(ctx context.Context, capab domain.Capability, factor domain.FactorType) policyengine.Decision {
	in := policyengine.EnrollmentInput{Environment: e.Prober.Environment(), Capability: capab, Factor: factor}
	if e.Policy == nil {
		return policyengine.DefaultDecision(in)
	}
	d, err := e.Policy.EvaluateEnrollment(ctx, in)
	if err != nil {
		e.Logger.Warn("enrollment policy failed, using defaults", zap.Error(err))
		return policyengine.DefaultDecision(in)
	}
	return d
}

func (e *Enrollment) rollbackVault(ctx context.Context, prev *domain.StoredCredential) {
	if err := e.Vault.Restore(ctx, prev); err != nil {
		e.Logger.Error("restore previous credential failed", zap.Error(err))
	}
}

// rollbackRegistration puts the account-store binding back to match prev.
func (e *Enrollment) rollbackRegistration(ctx context.Context, ownerID, deviceID string, prev *domain.StoredCredential) {
	if prev != nil && prev.OwnerID == ownerID && !prev.IsExpired(e.nowF()) {
		bctx, cancel := e.bridgeCtx(ctx)
		defer cancel()
		if err := e.Bridge.RegisterBiometricCredential(bctx, registration(prev)); err != nil {
			e.Logger.Error("restore credential registration failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
		return
	}
	e.revoke(ctx, ownerID, deviceID)
}

func (e *Enrollment) revoke(ctx context.Context, ownerID, deviceID string) {
	bctx, cancel := e.bridgeCtx(ctx)
	defer cancel()
	if err := e.Bridge.RevokeBiometricCredential(bctx, ownerID, deviceID); err != nil {
		e.Logger.Warn("revoke credential registration failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

// Disable turns off factor for ownerID, or every factor when factor is empty or FactorNone, and resets
// the failure counter and lockout. Turning off the last enabled factor also removes the stored secret,
// clears LastSetupAt, and revokes the device binding in the account store.
func (e *Enrollment) Disable(ctx context.Context, ownerID string, factor domain.FactorType) (res domain.Result) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.Instruments.Start(ctx, "biometric.disable", factor)
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.Bool("biometric.success", res.Success))
		if !res.Success {
			span.SetStatus(codes.Error, string(res.Reason))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			e.Logger.Error("biometric disable panicked", zap.Any("panic", p), zap.Stack("stack"))
			res = domain.Failed(domain.ReasonBackendUnavailable)
		}
	}()

	owner, ok, err := e.resolveOwner(ctx, ownerID)
	if err != nil {
		e.Logger.Warn("resolve owner failed", zap.Error(err))
		return bridgeFailure(err)
	}
	if !ok {
		return domain.Failed(domain.ReasonNotEnrolled)
	}
	unlock, ok := e.Locks.TryLock(owner)
	if !ok {
		return domain.Failed(domain.ReasonAttemptInProgress)
	}
	defer unlock()

	targets := domain.AllFactors
	if factor != "" && factor != domain.FactorNone {
		if !factor.Enrollable() {
			return domain.Failed(domain.ReasonNotEnrolled)
		}
		targets = []domain.FactorType{factor}
	}
	deviceID := e.Vault.DeviceID()
	unlockDevice := e.Locks.Lock(deviceKey(deviceID))
	defer unlockDevice()

	cred, err := e.Vault.Peek(ctx)
	if err != nil {
		return domain.Failed(domain.ReasonOf(err))
	}
	if cred != nil && cred.OwnerID == owner {
		purge := factor
		if len(targets) > 1 {
			purge = ""
		}
		if err := e.Vault.Purge(ctx, purge); err != nil {
			e.Logger.Warn("purge biometric credential failed", zap.Error(err))
			return domain.Failed(domain.ReasonOf(err))
		}
	}

	var record domain.FactorEnablementRecord
	bctx, cancel := e.bridgeCtx(ctx)
	profile, err := e.Bridge.GetProfile(bctx, owner)
	cancel()
	switch {
	case err == nil:
		record = profile.Record
	case errors.Is(err, bridge.ErrUnknownOwner):
	default:
		e.Logger.Warn("load profile failed", zap.String("owner_id", owner), zap.Error(err))
		return bridgeFailure(err)
	}

	patch := domain.ProfilePatch{}
	for _, f := range targets {
		patch.SetFactor(f, false)
		record.SetFactor(f, false)
	}
	patch.ResetFailures()
	last := !record.BiometricEnabled
	if last {
		patch.ClearLastSetupAt = true
	}
	if err := e.updateProfile(ctx, owner, patch); err != nil && !errors.Is(err, bridge.ErrUnknownOwner) {
		return bridgeFailure(err)
	}

	remaining, err := e.Vault.Peek(ctx)
	if err != nil {
		return domain.Failed(domain.ReasonOf(err))
	}
	if remaining != nil && remaining.OwnerID == owner && len(remaining.Factors) > 0 && !last {
		bctx, cancel := e.bridgeCtx(ctx)
		if err := e.Bridge.RegisterBiometricCredential(bctx, registration(remaining)); err != nil {
			e.Logger.Warn("narrow credential registration failed", zap.String("owner_id", owner), zap.Error(err))
		}
		cancel()
	} else {
		if remaining != nil && remaining.OwnerID == owner {
			if err := e.Vault.Purge(ctx, ""); err != nil {
				return domain.Failed(domain.ReasonOf(err))
			}
		}
		e.revoke(ctx, owner, deviceID)
	}
	if err := e.Tracker.Reset(ctx, owner); err != nil {
		e.Logger.Warn("lockout reset after disable failed", zap.String("owner_id", owner), zap.Error(err))
	}

	names := make([]string, len(targets))
	for i, f := range targets {
		names[i] = string(f)
	}
	e.Audit.LogEvent(ctx, owner, deviceID, audit.EventBiometricDisabled, true, strings.Join(names, ","))

	res = domain.Succeeded()
	res.Message = "Biometric sign-in is turned off."
	return res
}

// Status is the settings-screen view of one owner's biometric setup.
type Status struct {
	Capability     domain.Capability
	Record         domain.FactorEnablementRecord
	Stored         bool
	StoredFactors  []domain.FactorType
	ExpiresAt      *time.Time
	Backend        string
	LockedOut      bool
	LockedUntil    *time.Time
	AllowedFactors []domain.FactorType
}

// Status reports capability, the account store's enablement record, whether this device holds a
// usable credential for ownerID, and the current lockout.
func (e *Enrollment) Status(ctx context.Context, ownerID string) (*Status, error) {
	owner, ok, err := e.resolveOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, bridge.ErrUnknownOwner
	}

	st := &Status{Capability: e.Prober.Probe(ctx)}
	if st.Capability.Available {
		for _, f := range domain.AllFactors {
			if e.decide(ctx, st.Capability, f).Allowed {
				st.AllowedFactors = append(st.AllowedFactors, f)
			}
		}
	}

	bctx, cancel := e.bridgeCtx(ctx)
	profile, err := e.Bridge.GetProfile(bctx, owner)
	cancel()
	if err != nil {
		return nil, err
	}
	st.Record = profile.Record

	cred, err := e.Vault.Retrieve(ctx, "")
	if err != nil {
		return nil, err
	}
	if cred != nil && cred.OwnerID == owner {
		st.Stored = true
		st.StoredFactors = append([]domain.FactorType(nil), cred.Factors...)
		exp := cred.ExpiresAt
		st.ExpiresAt = &exp
	}
	if b, ok := e.Vault.(interface {
		BackendName(ctx context.Context) (string, error)
	}); ok {
		if name, err := b.BackendName(ctx); err == nil {
			st.Backend = name
		}
	}
	st.LockedOut, st.LockedUntil, err = e.checkLockout(ctx, owner, profile.Record)
	if err != nil {
		return nil, err
	}
	return st, nil
}
