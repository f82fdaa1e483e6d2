package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"verivault/core/internal/app"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/capability"
	"verivault/core/internal/config"
)

func newTestShell(t *testing.T, script ...string) (*shell, *bytes.Buffer) {
	t.Helper()
	keyring.MockInit()
	lines := make(chan string, len(script))
	for _, l := range script {
		lines <- l
	}
	close(lines)

	var out bytes.Buffer
	sh := newShell(lines, &out, domain.FactorFingerprint)
	cfg := &config.Config{
		MaxFailures:        3,
		LockoutMinutes:     15,
		CredentialTTLHours: 24,
		ChallengeTimeoutMs: 2000,
		EnrollTimeoutMs:    2000,
		ProbeTimeoutMs:     500,
		BridgeTimeoutMs:    1000,
		VaultPath:          filepath.Join(t.TempDir(), "vault.db"),
		KeyringService:     "com.verivault.shell-test",
		BcryptCost:         4,
	}
	a, err := app.New(context.Background(), cfg, app.Options{
		Environment: capability.Environment{Platform: capability.PlatformLinux, Native: true},
		Sensor:      staticSensor{factor: domain.FactorFingerprint},
		Confirm:     sh.confirm,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	sh.app = a
	return sh, &out
}

func TestShell_EnrollAuthenticateDisable(t *testing.T) {
	sh, out := newTestShell(t,
		"signup dev@example.com password123",
		"login dev@example.com password123",
		"enroll",
		"y",
		"auth dev@example.com",
		"y",
		"status",
		"disable",
		"quit",
		"status",
	)
	sh.run(context.Background())

	got := out.String()
	for _, want := range []string{
		"created account",
		"signed in as",
		"ok: Biometric sign-in is set up.",
		"session ",
		"enabled: fingerprint=true",
		"ok: Biometric sign-in is turned off.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "enabled:") != 1 {
		t.Errorf("commands after quit ran:\n%s", got)
	}
}

func TestShell_DeclinedChallengeCountsFailure(t *testing.T) {
	sh, out := newTestShell(t,
		"signup dev@example.com password123",
		"login dev@example.com password123",
		"enroll fingerprint",
		"y",
		"auth",
		"n",
	)
	sh.run(context.Background())

	got := out.String()
	if !strings.Contains(got, "failed (challenge_rejected)") || !strings.Contains(got, "2 attempt(s) left") {
		t.Errorf("output:\n%s", got)
	}
}

func TestShell_BadInput(t *testing.T) {
	sh, out := newTestShell(t, "enroll retina", "login", "frobnicate")
	sh.run(context.Background())

	got := out.String()
	for _, want := range []string{"invalid", "usage: login", `unknown command "frobnicate"`} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
