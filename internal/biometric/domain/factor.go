// Package domain holds the biometric data model shared by the prober, vault, lockout tracker,
// and the authentication and enrollment state machines.
package domain

import (
	"errors"
	"strings"
	"time"
)

// FactorType is a biometric modality.
type FactorType string

const (
	FactorFingerprint FactorType = "fingerprint"
	FactorFace        FactorType = "face"
	FactorIris        FactorType = "iris"
	FactorNone        FactorType = "none"
)

// ErrInvalidFactor is returned when a factor string is not an enrollable modality.
var ErrInvalidFactor = errors.New("invalid biometric factor")

// AllFactors lists the enrollable factors in display order.
var AllFactors = []FactorType{FactorFingerprint, FactorFace, FactorIris}

// Enrollable reports whether f names a modality a credential can be bound to.
func (f FactorType) Enrollable() bool {
	switch f {
	case FactorFingerprint, FactorFace, FactorIris:
		return true
	}
	return false
}

// ParseFactorType normalizes s and returns the matching enrollable factor.
func ParseFactorType(s string) (FactorType, error) {
	f := FactorType(strings.ToLower(strings.TrimSpace(s)))
	if !f.Enrollable() {
		return "", ErrInvalidFactor
	}
	return f, nil
}

// Capability is the result of a device capability probe. It is recomputed on demand and never persisted.
type Capability struct {
	Available   bool
	Enrolled    bool // the OS reports at least one biometric enrolled
	FactorType  FactorType
	ErrorReason string
}

// Unavailable returns a Capability that reports reason.
func Unavailable(reason string) Capability {
	return Capability{FactorType: FactorNone, ErrorReason: reason}
}

// StoredCredential is the opaque secret kept by the credential vault for one device.
// Factors lists the modalities the secret is currently enabled for.
type StoredCredential struct {
	OwnerID     string       `json:"owner_id"`
	SecretToken string       `json:"secret_token"`
	DeviceID    string       `json:"device_id"`
	Factors     []FactorType `json:"factors"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// HasFactor reports whether f is enabled on the credential.
func (c *StoredCredential) HasFactor(f FactorType) bool {
	for _, have := range c.Factors {
		if have == f {
			return true
		}
	}
	return false
}

// IsExpired reports whether the credential must be treated as absent at now.
func (c *StoredCredential) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// WithFactor returns the factor list with f added once.
func (c *StoredCredential) WithFactor(f FactorType) []FactorType {
	if c.HasFactor(f) {
		return append([]FactorType(nil), c.Factors...)
	}
	return append(append([]FactorType(nil), c.Factors...), f)
}

// WithoutFactor returns the factor list with f removed.
func (c *StoredCredential) WithoutFactor(f FactorType) []FactorType {
	out := make([]FactorType, 0, len(c.Factors))
	for _, have := range c.Factors {
		if have != f {
			out = append(out, have)
		}
	}
	return out
}
