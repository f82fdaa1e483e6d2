package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/security"
)

type memAccount struct {
	profile      domain.Profile
	passwordHash string
}

// Memory is an in-process Bridge for development, tests, and the embedded single-user build.
type Memory struct {
	hasher *security.Hasher
	tokens *security.TokenProvider
	nowF   func() time.Time

	mu       sync.Mutex
	accounts map[string]*memAccount // by owner id
	byEmail  map[string]string
	creds    map[string]*Registration // by owner|device
	redeemed map[string]time.Time     // jti -> expiry
	sessions map[string]string        // session id -> refresh hash
	audit    []domain.AuditEntry
	current  string
}

// NewMemory returns an empty Memory bridge.
func NewMemory(hasher *security.Hasher, tokens *security.TokenProvider) *Memory {
	return &Memory{
		hasher:   hasher,
		tokens:   tokens,
		nowF:     func() time.Time { return time.Now().UTC() },
		accounts: make(map[string]*memAccount),
		byEmail:  make(map[string]string),
		creds:    make(map[string]*Registration),
		redeemed: make(map[string]time.Time),
		sessions: make(map[string]string),
	}
}

// NormalizeEmail lowercases and trims email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func credKey(ownerID, deviceID string) string {
	return ownerID + "|" + deviceID
}

// CreateAccount registers email with password and returns the new owner id.
func (m *Memory) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return "", ErrEmailTaken
	}
	id := uuid.NewString()
	m.accounts[id] = &memAccount{profile: domain.Profile{OwnerID: id, Email: email}, passwordHash: hash}
	m.byEmail[email] = id
	return id, nil
}

// CurrentUser returns the owner of the last session issued, or "".
func (m *Memory) CurrentUser(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

// SignOut clears the current user.
func (m *Memory) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
}

// SignInWithPassword verifies the password and issues a session.
func (m *Memory) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	m.mu.Lock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	var hash string
	if ok {
		hash = m.accounts[id].passwordHash
	}
	m.mu.Unlock()
	if !ok {
		_ = m.hasher.VerifyUnknown(password)
		return nil, ErrInvalidCredentials
	}
	if err := m.hasher.Verify(hash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return m.startSession(id, "", MethodPassword)
}

func (m *Memory) startSession(ownerID, deviceID, method string) (*domain.Session, error) {
	sess, refreshHash, err := IssueSession(m.tokens, ownerID, deviceID, method)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = refreshHash
	m.current = ownerID
	return sess, nil
}

// LookupProfileByEmail returns a copy of the profile for email, or nil.
func (m *Memory) LookupProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	p := copyProfile(m.accounts[id].profile)
	return &p, nil
}

// GetProfile returns a copy of the profile for ownerID.
func (m *Memory) GetProfile(ctx context.Context, ownerID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[ownerID]
	if !ok {
		return nil, ErrUnknownOwner
	}
	p := copyProfile(a.profile)
	return &p, nil
}

// UpdateProfile applies patch to the owner's enablement record.
func (m *Memory) UpdateProfile(ctx context.Context, ownerID string, patch domain.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[ownerID]
	if !ok {
		return ErrUnknownOwner
	}
	patch.Apply(&a.profile.Record)
	return nil
}

// AppendAuditLogEntry appends entry, filling ID and CreatedAt when empty.
func (m *Memory) AppendAuditLogEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.nowF()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditLog returns a copy of the entries for ownerID, oldest first.
func (m *Memory) AuditLog(ownerID string) []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.audit {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

// RegisterBiometricCredential binds the device secret to the owner.
func (m *Memory) RegisterBiometricCredential(ctx context.Context, reg domain.CredentialRegistration) error {
	if reg.OwnerID == "" || reg.DeviceID == "" || reg.Secret == "" {
		return errors.New("owner, device, and secret are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[reg.OwnerID]; !ok {
		return ErrUnknownOwner
	}
	m.creds[credKey(reg.OwnerID, reg.DeviceID)] = &Registration{
		OwnerID:   reg.OwnerID,
		DeviceID:  reg.DeviceID,
		Factors:   append([]domain.FactorType(nil), reg.Factors...),
		Secret:    reg.Secret,
		ExpiresAt: reg.ExpiresAt,
	}
	return nil
}

// RevokeBiometricCredential removes the binding.
func (m *Memory) RevokeBiometricCredential(ctx context.Context, ownerID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, credKey(ownerID, deviceID))
	return nil
}

// HasBiometricCredential reports whether a binding exists for the owner and device.
func (m *Memory) HasBiometricCredential(ownerID, deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.creds[credKey(ownerID, deviceID)]
	return ok
}

// RedeemBiometricAssertion verifies the assertion, burns its jti, and issues a session.
func (m *Memory) RedeemBiometricAssertion(ctx context.Context, assertion string) (*domain.Session, error) {
	now := m.nowF()
	m.mu.Lock()
	claims, err := VerifyAssertion(assertion, now, func(ownerID, deviceID string) (*Registration, error) {
		return m.creds[credKey(ownerID, deviceID)], nil
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for jti, exp := range m.redeemed {
		if !exp.After(now) {
			delete(m.redeemed, jti)
		}
	}
	if _, used := m.redeemed[claims.ID]; used {
		m.mu.Unlock()
		return nil, ErrAssertionReplayed
	}
	m.redeemed[claims.ID] = claims.ExpiresAt.Time
	m.mu.Unlock()
	return m.startSession(claims.Subject, claims.DeviceID, MethodBiometric)
}

func copyProfile(p domain.Profile) domain.Profile {
	r := &p.Record
	r.LockedUntil = copyTime(r.LockedUntil)
	r.LastSetupAt = copyTime(r.LastSetupAt)
	r.LastLoginAt = copyTime(r.LastLoginAt)
	return p
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var _ Bridge = (*Memory)(nil)
