package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/capability"
	"verivault/core/internal/challenge"
	"verivault/core/internal/lockout"
	"verivault/core/internal/platform/keylock"
	"verivault/core/internal/security"
	"verivault/core/internal/vault"
)

// mapBackend is an in-memory vault.Backend.
type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string][]byte)}
}

func (b *mapBackend) Name() string                        { return "test" }
func (b *mapBackend) Available(ctx context.Context) error { return nil }

func (b *mapBackend) Put(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *mapBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *mapBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

type fakeProber struct {
	capability domain.Capability
	env        capability.Environment
}

func (p *fakeProber) Probe(ctx context.Context) domain.Capability { return p.capability }
func (p *fakeProber) Environment() capability.Environment         { return p.env }

// scriptChallenger answers every prompt with respond and counts presentations.
type scriptChallenger struct {
	calls   atomic.Int32
	respond func(ctx context.Context, p challenge.Prompt) error
}

func (c *scriptChallenger) Present(ctx context.Context, p challenge.Prompt) error {
	c.calls.Add(1)
	if c.respond == nil {
		return nil
	}
	return c.respond(ctx, p)
}

func accept(ctx context.Context, p challenge.Prompt) error { return nil }

func reject(ctx context.Context, p challenge.Prompt) error { return domain.ErrChallengeRejected }

// flakyBridge fails selected calls of an in-memory bridge. The stall flags make a call block until
// its context is done.
type flakyBridge struct {
	*bridge.Memory
	registerErr   error
	updateErr     error
	redeemErr     error
	stallLookup   atomic.Bool
	stallRegister atomic.Bool
}

func (b *flakyBridge) LookupProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	if b.stallLookup.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.Memory.LookupProfileByEmail(ctx, email)
}

func (b *flakyBridge) RegisterBiometricCredential(ctx context.Context, reg domain.CredentialRegistration) error {
	if b.stallRegister.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if b.registerErr != nil {
		return b.registerErr
	}
	return b.Memory.RegisterBiometricCredential(ctx, reg)
}

func (b *flakyBridge) UpdateProfile(ctx context.Context, ownerID string, patch domain.ProfilePatch) error {
	if b.updateErr != nil {
		return b.updateErr
	}
	return b.Memory.UpdateProfile(ctx, ownerID, patch)
}

func (b *flakyBridge) RedeemBiometricAssertion(ctx context.Context, assertion string) (*domain.Session, error) {
	if b.redeemErr != nil {
		return nil, b.redeemErr
	}
	return b.Memory.RedeemBiometricAssertion(ctx, assertion)
}

type harness struct {
	t        *testing.T
	mem      *bridge.Memory
	bridge   *flakyBridge
	backend  *mapBackend
	vault    *vault.Vault
	tracker  *lockout.Tracker
	prober   *fakeProber
	ch       *scriptChallenger
	deps     Deps
	auth     *Authenticator
	enroll   *Enrollment
	owner    string
	email    string
	password string
}

type harnessOption func(*harness)

func withSettings(s domain.Settings) harnessOption {
	return func(h *harness) { h.deps.Settings = s }
}

func withEnvironment(env capability.Environment) harnessOption {
	return func(h *harness) { h.prober.env = env }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	tp, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	mem := bridge.NewMemory(security.NewHasher(4), tp)
	h := &harness{
		t:        t,
		mem:      mem,
		bridge:   &flakyBridge{Memory: mem},
		backend:  newMapBackend(),
		prober:   &fakeProber{capability: domain.Capability{Available: true, Enrolled: true, FactorType: domain.FactorFace}, env: capability.Environment{Platform: capability.PlatformIOS, Native: true}},
		ch:       &scriptChallenger{respond: accept},
		email:    "owner@example.com",
		password: "correct horse",
	}
	h.deps = Deps{Settings: domain.DefaultSettings(), Locks: keylock.New()}
	for _, o := range opts {
		o(h)
	}
	h.owner, err = mem.CreateAccount(context.Background(), h.email, h.password)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	h.vault = vault.New([]vault.Backend{h.backend}, "device-1", h.deps.Settings.CredentialTTL, nil)
	h.tracker = lockout.NewTracker(lockout.NewMemoryStore(), lockout.Policy{
		MaxFailures: h.deps.Settings.MaxFailures,
		Cooldown:    h.deps.Settings.Lockout,
	}, nil)
	h.deps.Prober = h.prober
	h.deps.Vault = h.vault
	h.deps.Tracker = h.tracker
	h.deps.Challenger = h.ch
	h.deps.Bridge = h.bridge
	h.auth = NewAuthenticator(h.deps)
	h.enroll = NewEnrollment(h.deps)
	return h
}

func (h *harness) mustEnroll(f domain.FactorType) domain.Result {
	h.t.Helper()
	res := h.enroll.Enroll(context.Background(), h.owner, f, nil)
	if !res.Success {
		h.t.Fatalf("Enroll(%s) = %+v, want success", f, res)
	}
	return res
}

func (h *harness) record() domain.FactorEnablementRecord {
	h.t.Helper()
	p, err := h.mem.GetProfile(context.Background(), h.owner)
	if err != nil {
		h.t.Fatalf("GetProfile: %v", err)
	}
	return p.Record
}

func (h *harness) failureCount() int {
	h.t.Helper()
	st, err := h.tracker.State(context.Background(), h.owner)
	if err != nil {
		h.t.Fatalf("tracker State: %v", err)
	}
	return st.FailureCount
}

func (h *harness) auditEvents() []string {
	var out []string
	for _, e := range h.mem.AuditLog(h.owner) {
		out = append(out, e.EventType)
	}
	return out
}

func hasEvent(events []string, want string) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

var errBridgeDown = errors.New("account store unreachable")

// slowVault widens the window between reading the device's credential slot and writing it.
type slowVault struct {
	*vault.Vault
	delay time.Duration
}

func (v *slowVault) Peek(ctx context.Context) (*domain.StoredCredential, error) {
	cred, err := v.Vault.Peek(ctx)
	time.Sleep(v.delay)
	return cred, err
}

// shortSettings returns defaults with a short cooldown and challenge timeout for expiry tests.
func shortSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.Lockout = 50 * time.Millisecond
	s.ChallengeTimeout = 30 * time.Millisecond
	return s
}
