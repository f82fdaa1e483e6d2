package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseFactorType(t *testing.T) {
	f, err := ParseFactorType("  Face ")
	if err != nil {
		t.Fatalf("ParseFactorType: %v", err)
	}
	if f != FactorFace {
		t.Errorf("factor = %q, want face", f)
	}
	for _, bad := range []string{"", "none", "voice"} {
		if _, err := ParseFactorType(bad); !errors.Is(err, ErrInvalidFactor) {
			t.Errorf("ParseFactorType(%q) err = %v, want ErrInvalidFactor", bad, err)
		}
	}
}

func TestStoredCredential_Factors(t *testing.T) {
	c := &StoredCredential{Factors: []FactorType{FactorFingerprint}}
	got := c.WithFactor(FactorFace)
	if len(got) != 2 {
		t.Fatalf("WithFactor = %v, want 2 factors", got)
	}
	if again := (&StoredCredential{Factors: got}).WithFactor(FactorFace); len(again) != 2 {
		t.Errorf("WithFactor should not duplicate, got %v", again)
	}
	if left := c.WithoutFactor(FactorFingerprint); len(left) != 0 {
		t.Errorf("WithoutFactor = %v, want empty", left)
	}
	if len(c.Factors) != 1 {
		t.Error("WithFactor/WithoutFactor must not mutate the receiver")
	}
}

func TestStoredCredential_IsExpired(t *testing.T) {
	now := time.Now()
	c := &StoredCredential{ExpiresAt: now}
	if !c.IsExpired(now) {
		t.Error("credential expiring exactly now should be expired")
	}
	c.ExpiresAt = now.Add(time.Second)
	if c.IsExpired(now) {
		t.Error("credential expiring in the future should not be expired")
	}
}

func TestFactorEnablementRecord_SetFactorKeepsOverallFlag(t *testing.T) {
	var r FactorEnablementRecord
	r.SetFactor(FactorFace, true)
	if !r.BiometricEnabled {
		t.Fatal("BiometricEnabled should be true after enabling face")
	}
	r.SetFactor(FactorFingerprint, true)
	r.SetFactor(FactorFace, false)
	if !r.BiometricEnabled {
		t.Error("BiometricEnabled should stay true while fingerprint is enabled")
	}
	r.SetFactor(FactorFingerprint, false)
	if r.BiometricEnabled {
		t.Error("BiometricEnabled should be false once no factor is enabled")
	}
}

func TestProfilePatch_Apply(t *testing.T) {
	now := time.Now().UTC()
	r := FactorEnablementRecord{FailureCount: 2, LockedUntil: &now}
	var p ProfilePatch
	p.SetFactor(FactorIris, true)
	p.ResetFailures()
	p.LastSetupAt = &now
	p.Apply(&r)
	if !r.IrisEnabled || !r.BiometricEnabled {
		t.Errorf("iris/overall = %v/%v, want true/true", r.IrisEnabled, r.BiometricEnabled)
	}
	if r.FailureCount != 0 || r.LockedUntil != nil {
		t.Errorf("failures = %d lockedUntil = %v, want cleared", r.FailureCount, r.LockedUntil)
	}
	if r.LastSetupAt == nil || !r.LastSetupAt.Equal(now) {
		t.Errorf("LastSetupAt = %v, want %v", r.LastSetupAt, now)
	}

	reset := ProfilePatch{ClearLastSetupAt: true, LastSetupAt: &now}
	reset.Apply(&r)
	if r.LastSetupAt != nil {
		t.Error("ClearLastSetupAt should win over LastSetupAt")
	}
}

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{fmt.Errorf("vault: keyring: %w", ErrBackendUnavailable), ReasonBackendUnavailable},
		{fmt.Errorf("wrap: %w", ErrChallengeTimedOut), ReasonChallengeTimedOut},
		{ErrLockedOut, ReasonLockedOut},
		{errors.New("something unexpected"), ReasonBackendUnavailable},
	}
	for _, tt := range tests {
		if got := ReasonOf(tt.err); got != tt.want {
			t.Errorf("ReasonOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFailed_MessagesDistinguishRetryFromFallback(t *testing.T) {
	retry := Failed(ReasonChallengeRejected)
	if retry.RequiresFallback {
		t.Error("rejected challenge should be retryable")
	}
	fallback := Failed(ReasonLockedOut)
	if !fallback.RequiresFallback {
		t.Error("lockout should require fallback")
	}
	if retry.Message == fallback.Message {
		t.Error("retryable and fallback messages should differ")
	}
}
