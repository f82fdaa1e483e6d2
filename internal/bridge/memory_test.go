package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/security"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	tp, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return NewMemory(security.NewHasher(4), tp)
}

func TestMemory_PasswordSignIn(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)
	id, err := m.CreateAccount(ctx, "Alice@Example.com", "pw-123456")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := m.CreateAccount(ctx, "alice@example.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email err = %v, want ErrEmailTaken", err)
	}

	if _, err := m.SignInWithPassword(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := m.SignInWithPassword(ctx, "bob@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v", err)
	}
	sess, err := m.SignInWithPassword(ctx, " alice@example.com ", "pw-123456")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if sess.OwnerID != id || sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Errorf("session = %+v", sess)
	}
	if cur, _ := m.CurrentUser(ctx); cur != id {
		t.Errorf("CurrentUser = %q, want %q", cur, id)
	}
	m.SignOut()
	if cur, _ := m.CurrentUser(ctx); cur != "" {
		t.Errorf("CurrentUser after SignOut = %q", cur)
	}
}

func TestMemory_ProfileUpdate(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)
	id, _ := m.CreateAccount(ctx, "a@example.com", "pw")

	var patch domain.ProfilePatch
	patch.SetFactor(domain.FactorFace, true)
	now := time.Now().UTC()
	patch.LastSetupAt = &now
	if err := m.UpdateProfile(ctx, id, patch); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	p, err := m.LookupProfileByEmail(ctx, "A@example.com")
	if err != nil || p == nil {
		t.Fatalf("LookupProfileByEmail = %v, %v", p, err)
	}
	if !p.Record.FaceEnabled || !p.Record.BiometricEnabled || p.Record.LastSetupAt == nil {
		t.Errorf("record = %+v", p.Record)
	}

	p.Record.FaceEnabled = false
	again, _ := m.GetProfile(ctx, id)
	if !again.Record.FaceEnabled {
		t.Error("GetProfile must return a copy")
	}

	if err := m.UpdateProfile(ctx, "missing", patch); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("UpdateProfile(missing) err = %v", err)
	}
	if p, err := m.LookupProfileByEmail(ctx, "nobody@example.com"); err != nil || p != nil {
		t.Errorf("LookupProfileByEmail(missing) = %v, %v", p, err)
	}
}

func TestMemory_AssertionExchange(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)
	id, _ := m.CreateAccount(ctx, "a@example.com", "pw")
	now := time.Now().UTC()

	reg := domain.CredentialRegistration{
		OwnerID:   id,
		DeviceID:  "dev-1",
		Factors:   []domain.FactorType{domain.FactorFace},
		Secret:    "device-secret",
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := m.RegisterBiometricCredential(ctx, reg); err != nil {
		t.Fatalf("RegisterBiometricCredential: %v", err)
	}

	assertion, err := security.SignAssertion("device-secret", id, "dev-1", "face", time.Minute, now)
	if err != nil {
		t.Fatalf("SignAssertion: %v", err)
	}
	sess, err := m.RedeemBiometricAssertion(ctx, assertion)
	if err != nil {
		t.Fatalf("RedeemBiometricAssertion: %v", err)
	}
	if sess.OwnerID != id {
		t.Errorf("session owner = %q", sess.OwnerID)
	}
	if _, err := m.RedeemBiometricAssertion(ctx, assertion); !errors.Is(err, ErrAssertionReplayed) {
		t.Errorf("replay err = %v, want ErrAssertionReplayed", err)
	}

	wrongFactor, _ := security.SignAssertion("device-secret", id, "dev-1", "fingerprint", time.Minute, now)
	if _, err := m.RedeemBiometricAssertion(ctx, wrongFactor); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("unregistered factor err = %v", err)
	}
	otherDevice, _ := security.SignAssertion("device-secret", id, "dev-2", "face", time.Minute, now)
	if _, err := m.RedeemBiometricAssertion(ctx, otherDevice); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("other device err = %v", err)
	}
	forged, _ := security.SignAssertion("guess", id, "dev-1", "face", time.Minute, now)
	if _, err := m.RedeemBiometricAssertion(ctx, forged); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("forged err = %v", err)
	}

	if err := m.RevokeBiometricCredential(ctx, id, "dev-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	fresh, _ := security.SignAssertion("device-secret", id, "dev-1", "face", time.Minute, now)
	if _, err := m.RedeemBiometricAssertion(ctx, fresh); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("revoked binding err = %v", err)
	}
}

func TestMemory_ExpiredRegistration(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)
	id, _ := m.CreateAccount(ctx, "a@example.com", "pw")
	now := time.Now().UTC()
	_ = m.RegisterBiometricCredential(ctx, domain.CredentialRegistration{
		OwnerID: id, DeviceID: "dev-1", Factors: []domain.FactorType{domain.FactorFace},
		Secret: "s", ExpiresAt: now.Add(time.Hour),
	})
	m.nowF = func() time.Time { return now.Add(2 * time.Hour) }
	a, _ := security.SignAssertion("s", id, "dev-1", "face", 3*time.Hour, now)
	if _, err := m.RedeemBiometricAssertion(ctx, a); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("expired registration err = %v", err)
	}
}

func TestMemory_RegisterUnknownOwner(t *testing.T) {
	m := newTestMemory(t)
	err := m.RegisterBiometricCredential(context.Background(), domain.CredentialRegistration{
		OwnerID: "ghost", DeviceID: "d", Secret: "s", ExpiresAt: time.Now().Add(time.Hour),
	})
	if !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("err = %v, want ErrUnknownOwner", err)
	}
}

func TestMemory_AuditLog(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)
	_ = m.AppendAuditLogEntry(ctx, domain.AuditEntry{OwnerID: "o1", EventType: "biometric_login", Success: true})
	_ = m.AppendAuditLogEntry(ctx, domain.AuditEntry{OwnerID: "o2", EventType: "biometric_login"})
	log := m.AuditLog("o1")
	if len(log) != 1 || log[0].ID == "" || log[0].CreatedAt.IsZero() {
		t.Errorf("AuditLog = %+v", log)
	}
}
