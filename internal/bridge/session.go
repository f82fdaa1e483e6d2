package bridge

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/security"
)

// Authentication methods recorded on issued sessions.
const (
	MethodPassword  = "pwd"
	MethodBiometric = "bio"
)

// IssueSession signs an access/refresh pair for a new session id and returns the session with the
// hash of its refresh token.
func IssueSession(tokens *security.TokenProvider, ownerID, deviceID, method string) (*domain.Session, string, error) {
	sessionID := uuid.NewString()
	access, err := tokens.IssueAccess(sessionID, ownerID, deviceID, method)
	if err != nil {
		return nil, "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := tokens.IssueRefresh(sessionID, ownerID, deviceID, method)
	if err != nil {
		return nil, "", fmt.Errorf("issue refresh token: %w", err)
	}
	return &domain.Session{
		ID:           sessionID,
		OwnerID:      ownerID,
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresAt:    access.ExpiresAt,
	}, security.HashToken(refresh.Token), nil
}

// Registration is the account-store copy of a device binding.
type Registration struct {
	OwnerID   string
	DeviceID  string
	Factors   []domain.FactorType
	Secret    string
	ExpiresAt time.Time
}

func (r *Registration) Allows(f domain.FactorType) bool {
	for _, have := range r.Factors {
		if have == f {
			return true
		}
	}
	return false
}

// VerifyAssertion checks an assertion against the registration found for its subject and device.
// lookup returns nil when no registration exists.
func VerifyAssertion(assertion string, now time.Time, lookup func(ownerID, deviceID string) (*Registration, error)) (*security.AssertionClaims, error) {
	unverified, err := security.ParseAssertionUnverified(assertion)
	if err != nil {
		return nil, ErrInvalidAssertion
	}
	reg, err := lookup(unverified.Subject, unverified.DeviceID)
	if err != nil {
		return nil, err
	}
	if reg == nil || !reg.ExpiresAt.After(now) {
		return nil, ErrInvalidAssertion
	}
	claims, err := security.VerifyAssertion(assertion, reg.Secret, now)
	if err != nil {
		return nil, ErrInvalidAssertion
	}
	if claims.Subject != reg.OwnerID || claims.DeviceID != reg.DeviceID {
		return nil, ErrInvalidAssertion
	}
	if f := domain.FactorType(claims.Factor); f != "" && !reg.Allows(f) {
		return nil, ErrInvalidAssertion
	}
	return claims, nil
}
