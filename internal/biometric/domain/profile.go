package domain

import "time"

// FactorEnablementRecord is the durable biometric portion of a user's profile, owned by the
// account store. BiometricEnabled is true iff at least one factor flag is true.
type FactorEnablementRecord struct {
	FingerprintEnabled bool
	FaceEnabled        bool
	IrisEnabled        bool
	BiometricEnabled   bool
	FailureCount       int
	LockedUntil        *time.Time
	LastSetupAt        *time.Time
	LastLoginAt        *time.Time
}

// FactorEnabled reports the flag for f.
func (r *FactorEnablementRecord) FactorEnabled(f FactorType) bool {
	switch f {
	case FactorFingerprint:
		return r.FingerprintEnabled
	case FactorFace:
		return r.FaceEnabled
	case FactorIris:
		return r.IrisEnabled
	}
	return false
}

// SetFactor sets the flag for f and recomputes BiometricEnabled.
func (r *FactorEnablementRecord) SetFactor(f FactorType, enabled bool) {
	switch f {
	case FactorFingerprint:
		r.FingerprintEnabled = enabled
	case FactorFace:
		r.FaceEnabled = enabled
	case FactorIris:
		r.IrisEnabled = enabled
	}
	r.BiometricEnabled = r.FingerprintEnabled || r.FaceEnabled || r.IrisEnabled
}

// EnabledFactors returns the factors whose flag is set.
func (r *FactorEnablementRecord) EnabledFactors() []FactorType {
	var out []FactorType
	for _, f := range AllFactors {
		if r.FactorEnabled(f) {
			out = append(out, f)
		}
	}
	return out
}

// Profile is the account store's view of an owner.
type Profile struct {
	OwnerID string
	Email   string
	Record  FactorEnablementRecord
}

// ProfilePatch is a partial update of a FactorEnablementRecord. Nil fields are left unchanged.
// Clear* flags take precedence over the matching timestamp.
type ProfilePatch struct {
	FingerprintEnabled *bool
	FaceEnabled        *bool
	IrisEnabled        *bool
	FailureCount       *int
	LockedUntil        *time.Time
	ClearLockedUntil   bool
	LastSetupAt        *time.Time
	ClearLastSetupAt   bool
	LastLoginAt        *time.Time
}

// SetFactor sets the patch field for f.
func (p *ProfilePatch) SetFactor(f FactorType, enabled bool) {
	v := enabled
	switch f {
	case FactorFingerprint:
		p.FingerprintEnabled = &v
	case FactorFace:
		p.FaceEnabled = &v
	case FactorIris:
		p.IrisEnabled = &v
	}
}

// ResetFailures sets the patch to clear the failure counter and lockout.
func (p *ProfilePatch) ResetFailures() {
	zero := 0
	p.FailureCount = &zero
	p.LockedUntil = nil
	p.ClearLockedUntil = true
}

// Apply applies the patch to r and keeps BiometricEnabled consistent with the factor flags.
func (p ProfilePatch) Apply(r *FactorEnablementRecord) {
	if p.FingerprintEnabled != nil {
		r.FingerprintEnabled = *p.FingerprintEnabled
	}
	if p.FaceEnabled != nil {
		r.FaceEnabled = *p.FaceEnabled
	}
	if p.IrisEnabled != nil {
		r.IrisEnabled = *p.IrisEnabled
	}
	r.BiometricEnabled = r.FingerprintEnabled || r.FaceEnabled || r.IrisEnabled
	if p.FailureCount != nil {
		r.FailureCount = *p.FailureCount
	}
	switch {
	case p.ClearLockedUntil:
		r.LockedUntil = nil
	case p.LockedUntil != nil:
		t := *p.LockedUntil
		r.LockedUntil = &t
	}
	switch {
	case p.ClearLastSetupAt:
		r.LastSetupAt = nil
	case p.LastSetupAt != nil:
		t := *p.LastSetupAt
		r.LastSetupAt = &t
	}
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		r.LastLoginAt = &t
	}
}

// Session is a real login session issued by the account store.
type Session struct {
	ID           string
	OwnerID      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AuditEntry is one audit log event.
type AuditEntry struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	EventType string    `json:"event_type"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialRegistration binds a device secret to an owner in the account store so that
// assertions signed with it can be redeemed for a session.
type CredentialRegistration struct {
	OwnerID   string
	DeviceID  string
	Factors   []FactorType
	Secret    string
	ExpiresAt time.Time
}
