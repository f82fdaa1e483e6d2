package domain

import (
	"errors"
	"time"
)

// Reason classifies why a biometric attempt did not succeed.
type Reason string

const (
	ReasonNone                       Reason = ""
	ReasonCapabilityUnavailable      Reason = "capability_unavailable"
	ReasonNotEnrolled                Reason = "not_enrolled"
	ReasonLockedOut                  Reason = "locked_out"
	ReasonChallengeRejected          Reason = "challenge_rejected"
	ReasonChallengeTimedOut          Reason = "challenge_timed_out"
	ReasonCredentialMismatch         Reason = "credential_mismatch"
	ReasonBackendUnavailable         Reason = "backend_unavailable"
	ReasonSessionEstablishmentFailed Reason = "session_establishment_failed"
	ReasonAttemptInProgress          Reason = "attempt_in_progress"
	ReasonPolicyDenied               Reason = "policy_denied"
)

// Sentinel errors for each Reason. Lower layers wrap these so the state machines can classify failures.
var (
	ErrCapabilityUnavailable      = errors.New("biometric capability unavailable")
	ErrNotEnrolled                = errors.New("biometric credential not enrolled")
	ErrLockedOut                  = errors.New("biometric authentication locked out")
	ErrChallengeRejected          = errors.New("biometric challenge rejected")
	ErrChallengeTimedOut          = errors.New("biometric challenge timed out")
	ErrCredentialMismatch         = errors.New("stored credential does not match owner or device")
	ErrBackendUnavailable         = errors.New("credential backend unavailable")
	ErrSessionEstablishmentFailed = errors.New("session establishment failed")
	ErrAttemptInProgress          = errors.New("another biometric attempt is in progress")
	ErrPolicyDenied               = errors.New("enrollment denied by policy")
)

var reasonErrors = []struct {
	err    error
	reason Reason
}{
	{ErrCapabilityUnavailable, ReasonCapabilityUnavailable},
	{ErrNotEnrolled, ReasonNotEnrolled},
	{ErrLockedOut, ReasonLockedOut},
	{ErrChallengeRejected, ReasonChallengeRejected},
	{ErrChallengeTimedOut, ReasonChallengeTimedOut},
	{ErrCredentialMismatch, ReasonCredentialMismatch},
	{ErrBackendUnavailable, ReasonBackendUnavailable},
	{ErrSessionEstablishmentFailed, ReasonSessionEstablishmentFailed},
	{ErrAttemptInProgress, ReasonAttemptInProgress},
	{ErrPolicyDenied, ReasonPolicyDenied},
}

// ReasonOf maps err to its Reason. Errors outside the taxonomy map to ReasonBackendUnavailable; nil maps to ReasonNone.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, re := range reasonErrors {
		if errors.Is(err, re.err) {
			return re.reason
		}
	}
	return ReasonBackendUnavailable
}

// RequiresFallback reports whether the caller must offer password sign-in instead of another biometric try.
func (r Reason) RequiresFallback() bool {
	switch r {
	case ReasonCapabilityUnavailable, ReasonNotEnrolled, ReasonLockedOut, ReasonBackendUnavailable, ReasonPolicyDenied:
		return true
	}
	return false
}

// Message is the user-facing text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return "Signed in."
	case ReasonCapabilityUnavailable:
		return "Biometric authentication is not available on this device. Use your password."
	case ReasonNotEnrolled:
		return "Biometric sign-in is not set up. Use your password."
	case ReasonLockedOut:
		return "Too many failed attempts. Use your password."
	case ReasonChallengeRejected:
		return "Biometric verification failed. Try biometrics again."
	case ReasonChallengeTimedOut:
		return "Biometric verification timed out. Try biometrics again."
	case ReasonCredentialMismatch:
		return "Biometric credential did not match. Try biometrics again."
	case ReasonSessionEstablishmentFailed:
		return "Could not finish signing in. Try biometrics again."
	case ReasonAttemptInProgress:
		return "A biometric prompt is already open. Try biometrics again."
	case ReasonPolicyDenied:
		return "This factor cannot be used on this device. Use your password."
	default:
		return "Biometric sign-in is unavailable. Use your password."
	}
}

// Result is the structured outcome of an authentication, enrollment, or disable attempt.
type Result struct {
	Success           bool
	Reason            Reason
	RequiresFallback  bool
	Message           string
	AuthState         AuthState
	EnrollState       EnrollState
	RemainingAttempts int
	LockedUntil       *time.Time
	Session           *Session
	Token             string // enrollment only: the newly stored secret
}

// Failed returns a Result for reason with fallback and message derived from it.
func Failed(reason Reason) Result {
	return Result{
		Reason:           reason,
		RequiresFallback: reason.RequiresFallback(),
		Message:          reason.Message(),
	}
}

// Succeeded returns a successful Result.
func Succeeded() Result {
	return Result{Success: true, Message: ReasonNone.Message()}
}
