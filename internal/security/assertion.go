package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidAssertion is returned when a biometric assertion fails verification.
var ErrInvalidAssertion = errors.New("invalid biometric assertion")

const assertionAudience = "verivault-biometric"

// AssertionClaims are signed on the device with the vault secret and redeemed by the account store
// for a session.
type AssertionClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
	Factor   string `json:"factor"`
}

// SignAssertion returns an HS256 JWT binding ownerID, deviceID, and factor, valid for ttl from now.
// Every assertion carries a fresh jti so it can be redeemed at most once.
func SignAssertion(secret, ownerID, deviceID, factor string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" || ownerID == "" || deviceID == "" {
		return "", ErrInvalidAssertion
	}
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{assertionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID: deviceID,
		Factor:   factor,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAssertionUnverified reads the claims without checking the signature, so the verifier can
// look up the secret registered for the subject and device. Never trust the result on its own.
func ParseAssertionUnverified(token string) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}
	if claims.Subject == "" || claims.DeviceID == "" || claims.ID == "" {
		return nil, ErrInvalidAssertion
	}
	return claims, nil
}

// VerifyAssertion checks the HS256 signature against secret plus expiry and audience at now.
func VerifyAssertion(token, secret string, now time.Time) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(assertionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidAssertion
	}
	return claims, nil
}
