package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/logger"
	"verivault/core/internal/platform/keylock"
)

// Policy is the fixed retry budget: MaxFailures consecutive failures lock the owner out for Cooldown.
type Policy struct {
	MaxFailures int
	Cooldown    time.Duration
}

// Outcome describes the state after a recorded failure.
type Outcome struct {
	Count       int
	Remaining   int
	Locked      bool
	NewlyLocked bool
	LockedUntil *time.Time
}

// Tracker applies Policy over a Store. Every read-modify-write is serialized per owner.
type Tracker struct {
	store  Store
	policy Policy
	locks  *keylock.Locker
	logger *zap.Logger
	nowF   func() time.Time
}

// NewTracker returns a Tracker. Non-positive policy values fall back to 3 failures and 15 minutes.
func NewTracker(store Store, policy Policy, log *zap.Logger) *Tracker {
	if policy.MaxFailures <= 0 {
		policy.MaxFailures = 3
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = 15 * time.Minute
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		policy: policy,
		locks:  keylock.New(),
		logger: logger.OrNop(log),
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the tracker's policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// OnFailure increments the owner's counter. Reaching MaxFailures sets LockedUntil to now+Cooldown;
// the counter stays set until OnSuccess or Reset.
func (t *Tracker) OnFailure(ctx context.Context, ownerID string) (Outcome, error) {
	unlock := t.locks.Lock(ownerID)
	defer unlock()

	st, err := t.store.Get(ctx, ownerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load lockout state: %w", err)
	}
	now := t.nowF()
	wasLocked := st.LockedUntil != nil && st.LockedUntil.After(now)
	st.FailureCount++
	if st.FailureCount >= t.policy.MaxFailures && !wasLocked {
		until := now.Add(t.policy.Cooldown)
		st.LockedUntil = &until
	}
	if err := t.store.Save(ctx, ownerID, st); err != nil {
		return Outcome{}, fmt.Errorf("save lockout state: %w", err)
	}

	out := Outcome{Count: st.FailureCount, Remaining: t.policy.MaxFailures - st.FailureCount}
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	if st.LockedUntil != nil && st.LockedUntil.After(now) {
		out.Locked = true
		out.NewlyLocked = !wasLocked
		u := *st.LockedUntil
		out.LockedUntil = &u
	}
	if out.NewlyLocked {
		t.logger.Warn("biometric lockout started",
			zap.String("owner_id", ownerID),
			zap.Int("failures", st.FailureCount),
			zap.Time("locked_until", *out.LockedUntil),
		)
	}
	return out, nil
}

// OnSuccess clears the counter and any lockout.
func (t *Tracker) OnSuccess(ctx context.Context, ownerID string) error {
	return t.Reset(ctx, ownerID)
}

// Reset clears the counter and any lockout.
func (t *Tracker) Reset(ctx context.Context, ownerID string) error {
	unlock := t.locks.Lock(ownerID)
	defer unlock()
	if err := t.store.Delete(ctx, ownerID); err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}
	return nil
}

// IsLockedOut reports whether LockedUntil is set and in the future. An expired lockout is cleared
// along with its counter, and false is returned.
func (t *Tracker) IsLockedOut(ctx context.Context, ownerID string) (bool, *time.Time, error) {
	unlock := t.locks.Lock(ownerID)
	defer unlock()

	st, err := t.store.Get(ctx, ownerID)
	if err != nil {
		return false, nil, fmt.Errorf("load lockout state: %w", err)
	}
	if st.LockedUntil == nil {
		return false, nil, nil
	}
	if st.LockedUntil.After(t.nowF()) {
		u := *st.LockedUntil
		return true, &u, nil
	}
	if err := t.store.Delete(ctx, ownerID); err != nil {
		return false, nil, fmt.Errorf("clear expired lockout: %w", err)
	}
	t.logger.Info("biometric lockout expired", zap.String("owner_id", ownerID))
	return false, nil, nil
}

// Merge raises the stored state for ownerID to at least st: the higher failure count and the later
// LockedUntil are kept. It restores a lockout persisted outside the store, such as on the owner's
// profile, after the store lost it.
func (t *Tracker) Merge(ctx context.Context, ownerID string, st State) error {
	unlock := t.locks.Lock(ownerID)
	defer unlock()

	cur, err := t.store.Get(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load lockout state: %w", err)
	}
	changed := false
	if st.FailureCount > cur.FailureCount {
		cur.FailureCount = st.FailureCount
		changed = true
	}
	if st.LockedUntil != nil && (cur.LockedUntil == nil || st.LockedUntil.After(*cur.LockedUntil)) {
		u := *st.LockedUntil
		cur.LockedUntil = &u
		changed = true
	}
	if !changed {
		return nil
	}
	if err := t.store.Save(ctx, ownerID, cur); err != nil {
		return fmt.Errorf("save lockout state: %w", err)
	}
	return nil
}

// State returns the stored state for ownerID without side effects.
func (t *Tracker) State(ctx context.Context, ownerID string) (State, error) {
	unlock := t.locks.Lock(ownerID)
	defer unlock()
	return t.store.Get(ctx, ownerID)
}
