package domain

import "time"

// AuthState is a state of the biometric authentication state machine.
type AuthState string

const (
	AuthIdle              AuthState = "idle"
	AuthCheckingLockout   AuthState = "checking-lockout"
	AuthCheckingEnrolment AuthState = "checking-enrollment"
	AuthChallenging       AuthState = "challenging"
	AuthSuccess           AuthState = "success"
	AuthFailedRetryable   AuthState = "failed-retryable"
	AuthFailedLocked      AuthState = "failed-locked"
	AuthFailedUnavailable AuthState = "failed-unavailable"
)

// Terminal reports whether s ends an attempt.
func (s AuthState) Terminal() bool {
	switch s {
	case AuthSuccess, AuthFailedRetryable, AuthFailedLocked, AuthFailedUnavailable:
		return true
	}
	return false
}

// EnrollState is a state of the enrollment wizard.
type EnrollState string

const (
	EnrollWelcome         EnrollState = "welcome"
	EnrollCapabilityCheck EnrollState = "capability-check"
	EnrollUnavailable     EnrollState = "unavailable"
	EnrollChooseFactor    EnrollState = "choose-factor"
	EnrollEnrolling       EnrollState = "enrolling"
	EnrollComplete        EnrollState = "complete"
	EnrollCancelled       EnrollState = "cancelled"
	EnrollError           EnrollState = "error"
)

// Terminal reports whether s ends an enrollment.
func (s EnrollState) Terminal() bool {
	switch s {
	case EnrollUnavailable, EnrollComplete, EnrollCancelled, EnrollError:
		return true
	}
	return false
}

// Settings are the named overridable thresholds of the biometric core.
type Settings struct {
	MaxFailures      int
	Lockout          time.Duration
	CredentialTTL    time.Duration
	ChallengeTimeout time.Duration
	EnrollTimeout    time.Duration
	ProbeTimeout     time.Duration
	BridgeTimeout    time.Duration
	AssertionTTL     time.Duration
}

// DefaultSettings returns the design defaults: 3 failures, 15 minute lockout, 24 hour credential
// lifetime, 60s authentication challenge, 30s enrollment challenge, 5s capability probe.
func DefaultSettings() Settings {
	return Settings{
		MaxFailures:      3,
		Lockout:          15 * time.Minute,
		CredentialTTL:    24 * time.Hour,
		ChallengeTimeout: 60 * time.Second,
		EnrollTimeout:    30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		BridgeTimeout:    10 * time.Second,
		AssertionTTL:     60 * time.Second,
	}
}
