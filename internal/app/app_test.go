package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/capability"
	"verivault/core/internal/challenge"
	"verivault/core/internal/config"
	"verivault/core/internal/health"
)

type staticSensor struct {
	status capability.SensorStatus
}

func (s staticSensor) Status(ctx context.Context) (capability.SensorStatus, error) {
	return s.status, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MaxFailures:        3,
		LockoutMinutes:     15,
		CredentialTTLHours: 24,
		ChallengeTimeoutMs: 1000,
		EnrollTimeoutMs:    1000,
		ProbeTimeoutMs:     500,
		BridgeTimeoutMs:    1000,
		AssertionTTL:       "60s",
		VaultPath:          filepath.Join(t.TempDir(), "vault.db"),
		KeyringService:     "com.verivault.test",
		JWTIssuer:          "verivault-auth",
		JWTAudience:        "verivault-app",
		JWTAccessTTL:       "15m",
		JWTRefreshTTL:      "1h",
		BcryptCost:         4,
		AuditKafkaTopic:    "verivault-audit",
	}
}

func nativeOptions() Options {
	return Options{
		Environment: capability.Environment{Platform: capability.PlatformIOS, Native: true},
		Sensor:      staticSensor{status: capability.SensorStatus{Present: true, Enrolled: true, Factor: domain.FactorFace}},
		Confirm: func(ctx context.Context, p challenge.Prompt) (bool, error) {
			return true, nil
		},
		Logger: zap.NewNop(),
	}
}

func newApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatal("New(nil) expected error")
	}
}

func TestNew_InMemoryEndToEnd(t *testing.T) {
	keyring.MockInit()
	a := newApp(t, testConfig(t), nativeOptions())
	ctx := context.Background()

	mem, ok := a.Bridge.(*bridge.Memory)
	if !ok {
		t.Fatalf("Bridge = %T, want *bridge.Memory without DATABASE_URL", a.Bridge)
	}
	owner, err := mem.CreateAccount(ctx, "owner@example.com", "correct horse")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if a.Device == nil || a.Device.ID == "" || a.Vault.DeviceID() != a.Device.ID {
		t.Fatalf("device = %+v, vault device = %q", a.Device, a.Vault.DeviceID())
	}

	enrolled := a.Enrollment.Enroll(ctx, owner, domain.FactorFace, nil)
	if !enrolled.Success || enrolled.Token == "" {
		t.Fatalf("Enroll = %+v, want success", enrolled)
	}
	if !mem.HasBiometricCredential(owner, a.Device.ID) {
		t.Error("bridge has no credential for the device after enrollment")
	}

	res := a.Authenticator.Authenticate(ctx, "owner@example.com", domain.FactorFace, nil)
	if !res.Success || res.Session == nil {
		t.Fatalf("Authenticate = %+v, want success", res)
	}

	st, err := a.Enrollment.Status(ctx, owner)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Backend != "keyring" {
		t.Errorf("Backend = %q, want keyring on a native build", st.Backend)
	}
	if !st.Stored || !st.Record.FaceEnabled {
		t.Errorf("Status = %+v, want a stored face credential", st)
	}

	rep, err := a.Health.Check(ctx)
	if err != nil || rep.Status != health.StatusServing {
		t.Errorf("Health = %+v, %v", rep, err)
	}
}

func TestNew_DeviceIDStableAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	opts := Options{Environment: capability.Environment{Platform: capability.PlatformWeb}, Logger: zap.NewNop()}

	first, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := first.Device.ID
	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newApp(t, cfg, opts)
	if second.Device.ID != id {
		t.Errorf("device id = %q after restart, want %q", second.Device.ID, id)
	}
}

func TestNew_WebWithoutAuthenticatorIsUnavailable(t *testing.T) {
	a := newApp(t, testConfig(t), Options{
		Environment: capability.Environment{Platform: capability.PlatformWeb},
		Logger:      zap.NewNop(),
	})
	ctx := context.Background()
	owner, err := a.Bridge.(*bridge.Memory).CreateAccount(ctx, "web@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	res := a.Enrollment.Enroll(ctx, owner, domain.FactorFingerprint, nil)
	if res.Success || res.Reason != domain.ReasonCapabilityUnavailable {
		t.Errorf("Enroll = %+v, want CapabilityUnavailable", res)
	}
}

func TestNew_RedisLockoutStore(t *testing.T) {
	keyring.MockInit()
	server := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + server.Addr()

	opts := nativeOptions()
	opts.Confirm = func(ctx context.Context, p challenge.Prompt) (bool, error) {
		return p.Purpose == challenge.PurposeEnroll, nil
	}
	a := newApp(t, cfg, opts)
	ctx := context.Background()
	owner, err := a.Bridge.(*bridge.Memory).CreateAccount(ctx, "redis@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if res := a.Enrollment.Enroll(ctx, owner, domain.FactorFace, nil); !res.Success {
		t.Fatalf("Enroll = %+v", res)
	}
	res := a.Authenticator.Authenticate(ctx, owner, domain.FactorFace, nil)
	if res.Success || res.RemainingAttempts != 2 {
		t.Fatalf("Authenticate = %+v, want a counted failure", res)
	}
	if !server.Exists(lockoutKeyPrefix + ":" + owner) {
		t.Errorf("expected the failure count in redis under %s:%s", lockoutKeyPrefix, owner)
	}

	rep, err := a.Health.Check(ctx)
	if _, ok := rep.Components["redis"]; err != nil || !ok {
		t.Errorf("Health = %+v, %v", rep, err)
	}
	server.Close()
	if _, err := a.Health.Check(ctx); err == nil {
		t.Error("Health after redis shutdown expected error")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1"
	if _, err := New(context.Background(), cfg, Options{Logger: zap.NewNop()}); err == nil {
		t.Fatal("New with unreachable redis expected error")
	}
}

func TestNew_EnrollmentPolicyFile(t *testing.T) {
	keyring.MockInit()
	cfg := testConfig(t)
	cfg.EnrollmentPolicyFile = filepath.Join(t.TempDir(), "enrollment.rego")
	const policy = `package verivault.enrollment

default allowed := false

deny contains "enrollment_closed" if {
	true
}
`
	if err := os.WriteFile(cfg.EnrollmentPolicyFile, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}
	a := newApp(t, cfg, nativeOptions())
	ctx := context.Background()
	owner, err := a.Bridge.(*bridge.Memory).CreateAccount(ctx, "policy@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	res := a.Enrollment.Enroll(ctx, owner, domain.FactorFace, nil)
	if res.Success || res.Reason != domain.ReasonPolicyDenied {
		t.Errorf("Enroll = %+v, want PolicyDenied", res)
	}
}

func TestNew_MissingPolicyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnrollmentPolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	if _, err := New(context.Background(), cfg, Options{Logger: zap.NewNop()}); err == nil {
		t.Fatal("New with a missing policy file expected error")
	}
}

func TestTokenProvider_ConfiguredKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTPrivateKey = "not a pem"
	if _, err := tokenProvider(cfg, zap.NewNop()); err == nil {
		t.Fatal("tokenProvider with an invalid key expected error")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	var nilApp *App
	if err := nilApp.Close(context.Background()); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
