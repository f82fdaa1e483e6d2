package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestTracker(t *testing.T, now *time.Time) (*Tracker, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	tr := NewTracker(store, Policy{MaxFailures: 3, Cooldown: 15 * time.Minute}, zaptest.NewLogger(t))
	tr.nowF = func() time.Time { return *now }
	return tr, store
}

func TestTracker_LocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, &now)

	for i := 1; i <= 2; i++ {
		out, err := tr.OnFailure(ctx, "owner-1")
		if err != nil {
			t.Fatalf("OnFailure #%d: %v", i, err)
		}
		if out.Locked || out.Count != i || out.Remaining != 3-i {
			t.Fatalf("OnFailure #%d = %+v", i, out)
		}
		locked, _, err := tr.IsLockedOut(ctx, "owner-1")
		if err != nil || locked {
			t.Fatalf("IsLockedOut after %d failures = %v, %v", i, locked, err)
		}
	}

	out, err := tr.OnFailure(ctx, "owner-1")
	if err != nil {
		t.Fatalf("OnFailure #3: %v", err)
	}
	if !out.Locked || !out.NewlyLocked || out.Remaining != 0 {
		t.Fatalf("OnFailure #3 = %+v, want newly locked", out)
	}
	if want := now.Add(15 * time.Minute); !out.LockedUntil.Equal(want) {
		t.Errorf("LockedUntil = %v, want %v", out.LockedUntil, want)
	}

	locked, until, err := tr.IsLockedOut(ctx, "owner-1")
	if err != nil || !locked || until == nil {
		t.Fatalf("IsLockedOut = %v, %v, %v; want locked", locked, until, err)
	}

	st, _ := tr.State(ctx, "owner-1")
	if st.FailureCount != 3 {
		t.Errorf("FailureCount = %d, counter must stay set while locked", st.FailureCount)
	}
}

func TestTracker_FailureWhileLockedDoesNotExtend(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	tr, _ := newTestTracker(t, &now)
	for i := 0; i < 3; i++ {
		if _, err := tr.OnFailure(ctx, "o"); err != nil {
			t.Fatal(err)
		}
	}
	first, _ := tr.State(ctx, "o")
	now = now.Add(time.Minute)
	out, err := tr.OnFailure(ctx, "o")
	if err != nil {
		t.Fatal(err)
	}
	if out.NewlyLocked {
		t.Error("a failure during an active lockout is not a new lockout")
	}
	if !out.LockedUntil.Equal(*first.LockedUntil) {
		t.Errorf("LockedUntil moved from %v to %v", first.LockedUntil, out.LockedUntil)
	}
}

func TestTracker_ExpiredLockoutSelfHeals(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	tr, store := newTestTracker(t, &now)
	for i := 0; i < 3; i++ {
		if _, err := tr.OnFailure(ctx, "owner-1"); err != nil {
			t.Fatal(err)
		}
	}
	now = now.Add(15*time.Minute + time.Second)

	for i := 0; i < 2; i++ {
		locked, until, err := tr.IsLockedOut(ctx, "owner-1")
		if err != nil {
			t.Fatalf("IsLockedOut: %v", err)
		}
		if locked || until != nil {
			t.Fatalf("call %d: locked = %v, want false after expiry", i, locked)
		}
	}
	st, _ := store.Get(ctx, "owner-1")
	if !st.IsZero() {
		t.Errorf("state = %+v, want cleared", st)
	}
}

func TestTracker_SuccessClears(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	tr, _ := newTestTracker(t, &now)
	if _, err := tr.OnFailure(ctx, "owner-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnSuccess(ctx, "owner-1"); err != nil {
		t.Fatalf("OnSuccess: %v", err)
	}
	out, err := tr.OnFailure(ctx, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Errorf("Count = %d after success reset, want 1", out.Count)
	}
}

func TestTracker_OwnersAreIndependent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	tr, _ := newTestTracker(t, &now)
	for i := 0; i < 3; i++ {
		if _, err := tr.OnFailure(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	locked, _, _ := tr.IsLockedOut(ctx, "b")
	if locked {
		t.Error("owner b must not be locked by owner a's failures")
	}
}

func TestTracker_ConcurrentFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := NewMemoryStore()
	tr := NewTracker(store, Policy{MaxFailures: 1000, Cooldown: time.Minute}, nil)
	tr.nowF = func() time.Time { return now }

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.OnFailure(ctx, "owner-1"); err != nil {
				t.Errorf("OnFailure: %v", err)
			}
		}()
	}
	wg.Wait()
	st, _ := tr.State(ctx, "owner-1")
	if st.FailureCount != 50 {
		t.Errorf("FailureCount = %d, want 50 (lost update)", st.FailureCount)
	}
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(nil, Policy{}, nil)
	p := tr.Policy()
	if p.MaxFailures != 3 || p.Cooldown != 15*time.Minute {
		t.Errorf("Policy = %+v, want 3 / 15m", p)
	}
}

func TestTracker_MergeRestoresPersistedLockout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, &now)

	until := now.Add(10 * time.Minute)
	if err := tr.Merge(ctx, "owner-1", State{FailureCount: 3, LockedUntil: &until}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	locked, got, err := tr.IsLockedOut(ctx, "owner-1")
	if err != nil || !locked || !got.Equal(until) {
		t.Fatalf("IsLockedOut = %v, %v, %v; want locked until %v", locked, got, err, until)
	}

	// a lower or earlier state never lowers what is stored
	earlier := now.Add(time.Minute)
	if err := tr.Merge(ctx, "owner-1", State{FailureCount: 1, LockedUntil: &earlier}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	st, _ := tr.State(ctx, "owner-1")
	if st.FailureCount != 3 || !st.LockedUntil.Equal(until) {
		t.Errorf("state = %+v, want count 3 until %v", st, until)
	}
}

func TestTracker_MergeExpiredLockoutClears(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, &now)

	past := now.Add(-time.Minute)
	if err := tr.Merge(ctx, "owner-1", State{FailureCount: 3, LockedUntil: &past}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if locked, _, err := tr.IsLockedOut(ctx, "owner-1"); err != nil || locked {
		t.Fatalf("IsLockedOut = %v, %v; want expired", locked, err)
	}
	if st, _ := tr.State(ctx, "owner-1"); st.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want cleared with the expired lockout", st.FailureCount)
	}
}
