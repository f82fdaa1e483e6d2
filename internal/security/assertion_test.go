package security

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != SecretBytes {
		t.Errorf("len = %d, want %d", len(raw), SecretBytes)
	}
	b, _ := GenerateSecret()
	if a == b {
		t.Error("two secrets should differ")
	}
}

func TestAssertion_SignAndVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok, err := SignAssertion("s3cret", "owner-1", "dev-1", "face", time.Minute, now)
	if err != nil {
		t.Fatalf("SignAssertion: %v", err)
	}

	unverified, err := ParseAssertionUnverified(tok)
	if err != nil {
		t.Fatalf("ParseAssertionUnverified: %v", err)
	}
	if unverified.Subject != "owner-1" || unverified.DeviceID != "dev-1" || unverified.Factor != "face" {
		t.Errorf("claims = %+v", unverified)
	}

	claims, err := VerifyAssertion(tok, "s3cret", now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("VerifyAssertion: %v", err)
	}
	if claims.ID != unverified.ID {
		t.Errorf("jti mismatch %q vs %q", claims.ID, unverified.ID)
	}
}

func TestAssertion_Rejections(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tok, _ := SignAssertion("s3cret", "owner-1", "dev-1", "face", time.Minute, now)

	if _, err := VerifyAssertion(tok, "other", now); err != ErrInvalidAssertion {
		t.Errorf("wrong secret err = %v", err)
	}
	if _, err := VerifyAssertion(tok, "s3cret", now.Add(2*time.Minute)); err != ErrInvalidAssertion {
		t.Errorf("expired err = %v", err)
	}

	p, _ := NewTestTokenProvider()
	session, _ := p.IssueAccess("s", "owner-1", "dev-1", "bio")
	if _, err := VerifyAssertion(session.Token, "s3cret", now); err != ErrInvalidAssertion {
		t.Errorf("session token accepted as assertion: %v", err)
	}
	if _, err := ParseAssertionUnverified("garbage"); err == nil {
		t.Error("ParseAssertionUnverified should reject garbage")
	}
	if _, err := SignAssertion("", "owner-1", "dev-1", "face", time.Minute, now); err != ErrInvalidAssertion {
		t.Errorf("empty secret err = %v", err)
	}
}

func TestAssertion_UniqueJTI(t *testing.T) {
	now := time.Now()
	a, _ := SignAssertion("s", "o", "d", "face", time.Minute, now)
	b, _ := SignAssertion("s", "o", "d", "face", time.Minute, now)
	ca, _ := ParseAssertionUnverified(a)
	cb, _ := ParseAssertionUnverified(b)
	if ca.ID == cb.ID {
		t.Error("assertions must carry distinct jti")
	}
}
