// Package bridge is the contract with the remote account store: canonical profiles, the audit log,
// password sign-in, and the biometric assertion exchange that turns a device secret into a session.
package bridge

import (
	"context"
	"errors"

	"verivault/core/internal/biometric/domain"
)

var (
	// ErrInvalidCredentials is returned by SignInWithPassword for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnknownOwner is returned when an owner id has no account.
	ErrUnknownOwner = errors.New("unknown owner")
	// ErrEmailTaken is returned by CreateAccount when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidAssertion is returned when an assertion fails signature, expiry, binding, or factor checks.
	ErrInvalidAssertion = errors.New("biometric assertion rejected")
	// ErrAssertionReplayed is returned when an assertion's jti was already redeemed.
	ErrAssertionReplayed = errors.New("biometric assertion already redeemed")
)

// Bridge is the account store as seen by the biometric core.
type Bridge interface {
	// CurrentUser returns the owner id of the signed-in account, or "" when signed out.
	CurrentUser(ctx context.Context) (string, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	// LookupProfileByEmail returns nil when no account has email.
	LookupProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
	// GetProfile returns ErrUnknownOwner when ownerID has no account.
	GetProfile(ctx context.Context, ownerID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, ownerID string, patch domain.ProfilePatch) error
	AppendAuditLogEntry(ctx context.Context, entry domain.AuditEntry) error

	// RegisterBiometricCredential binds a device secret to an owner, replacing any earlier binding
	// for the same device.
	RegisterBiometricCredential(ctx context.Context, reg domain.CredentialRegistration) error
	// RevokeBiometricCredential removes the binding. Revoking a missing binding is not an error.
	RevokeBiometricCredential(ctx context.Context, ownerID, deviceID string) error
	// RedeemBiometricAssertion verifies a signed assertion and issues a session. Each assertion
	// is accepted at most once.
	RedeemBiometricAssertion(ctx context.Context, assertion string) (*domain.Session, error)
}
