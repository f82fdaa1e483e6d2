// Package postgres implements the account store bridge on Postgres through database/sql and pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/bridge"
	"verivault/core/internal/security"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Bridge is a bridge.Bridge backed by the schema in internal/db/migrations.
type Bridge struct {
	db     *sql.DB
	hasher *security.Hasher
	tokens *security.TokenProvider
	nowF   func() time.Time

	mu      sync.Mutex
	current string
}

// New returns a Bridge over db.
func New(db *sql.DB, hasher *security.Hasher, tokens *security.TokenProvider) *Bridge {
	return &Bridge{
		db:     db,
		hasher: hasher,
		tokens: tokens,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount inserts an account with its empty biometric profile and returns the owner id.
func (b *Bridge) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email = bridge.NormalizeEmail(email)
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	id := uuid.NewString()
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
			id, email, hash, b.nowF()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO biometric_profiles (owner_id) VALUES ($1)`, id)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", bridge.ErrEmailTaken
		}
		return "", err
	}
	return id, nil
}

// CurrentUser returns the owner of the last session issued by this process, or "".
func (b *Bridge) CurrentUser(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

// SignInWithPassword verifies the password and issues a session.
func (b *Bridge) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var id, hash string
	err := b.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM accounts WHERE email = $1`, bridge.NormalizeEmail(email)).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = b.hasher.VerifyUnknown(password)
			return nil, bridge.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := b.hasher.Verify(hash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, bridge.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}
	return b.startSession(ctx, b.db, id, "", bridge.MethodPassword)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Bridge) startSession(ctx context.Context, ex execer, ownerID, deviceID, method string) (*domain.Session, error) {
	sess, refreshHash, err := bridge.IssueSession(b.tokens, ownerID, deviceID, method)
	if err != nil {
		return nil, err
	}
	if _, err := ex.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, device_id, method, refresh_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, ownerID, deviceID, method, refreshHash, sess.ExpiresAt, b.nowF()); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	b.mu.Lock()
	b.current = ownerID
	b.mu.Unlock()
	return sess, nil
}

const profileColumns = `a.id, a.email, p.fingerprint_enabled, p.face_enabled, p.iris_enabled, p.biometric_enabled,
	p.failure_count, p.locked_until, p.last_setup_at, p.last_login_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var p domain.Profile
	var lockedUntil, lastSetup, lastLogin sql.NullTime
	r := &p.Record
	if err := row.Scan(&p.OwnerID, &p.Email, &r.FingerprintEnabled, &r.FaceEnabled, &r.IrisEnabled,
		&r.BiometricEnabled, &r.FailureCount, &lockedUntil, &lastSetup, &lastLogin); err != nil {
		return nil, err
	}
	r.LockedUntil = nullTime(lockedUntil)
	r.LastSetupAt = nullTime(lastSetup)
	r.LastLoginAt = nullTime(lastLogin)
	return &p, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// LookupProfileByEmail returns the profile for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (b *Bridge) LookupProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	p, err := scanProfile(b.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM accounts a JOIN biometric_profiles p ON p.owner_id = a.id WHERE a.email = $1`,
		bridge.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetProfile returns the profile for ownerID or bridge.ErrUnknownOwner.
func (b *Bridge) GetProfile(ctx context.Context, ownerID string) (*domain.Profile, error) {
	p, err := scanProfile(b.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM accounts a JOIN biometric_profiles p ON p.owner_id = a.id WHERE a.id = $1`,
		ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridge.ErrUnknownOwner
	}
	return p, err
}

// UpdateProfile applies patch under a row lock so concurrent patches do not lose updates.
func (b *Bridge) UpdateProfile(ctx context.Context, ownerID string, patch domain.ProfilePatch) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		p, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileColumns+` FROM accounts a JOIN biometric_profiles p ON p.owner_id = a.id
			 WHERE a.id = $1 FOR UPDATE OF p`, ownerID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bridge.ErrUnknownOwner
			}
			return err
		}
		r := p.Record
		patch.Apply(&r)
		_, err = tx.ExecContext(ctx,
			`UPDATE biometric_profiles SET fingerprint_enabled = $2, face_enabled = $3, iris_enabled = $4,
			 biometric_enabled = $5, failure_count = $6, locked_until = $7, last_setup_at = $8, last_login_at = $9
			 WHERE owner_id = $1`,
			ownerID, r.FingerprintEnabled, r.FaceEnabled, r.IrisEnabled, r.BiometricEnabled, r.FailureCount,
			toNullTime(r.LockedUntil), toNullTime(r.LastSetupAt), toNullTime(r.LastLoginAt))
		return err
	})
}

// AppendAuditLogEntry inserts entry, filling ID and CreatedAt when empty.
func (b *Bridge) AppendAuditLogEntry(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = b.nowF()
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, owner_id, device_id, event_type, success, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.OwnerID, entry.DeviceID, entry.EventType, entry.Success, entry.Detail, entry.CreatedAt)
	return err
}

// AuditLog returns up to limit entries for ownerID, newest first.
func (b *Bridge) AuditLog(ctx context.Context, ownerID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, owner_id, device_id, event_type, success, detail, created_at
		 FROM audit_logs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.DeviceID, &e.EventType, &e.Success, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RegisterBiometricCredential upserts the binding for (owner, device).
func (b *Bridge) RegisterBiometricCredential(ctx context.Context, reg domain.CredentialRegistration) error {
	if reg.OwnerID == "" || reg.DeviceID == "" || reg.Secret == "" {
		return errors.New("owner, device, and secret are required")
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO biometric_credentials (owner_id, device_id, factors, secret, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_id, device_id) DO UPDATE
		 SET factors = EXCLUDED.factors, secret = EXCLUDED.secret, expires_at = EXCLUDED.expires_at`,
		reg.OwnerID, reg.DeviceID, joinFactors(reg.Factors), reg.Secret, reg.ExpiresAt, b.nowF())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return bridge.ErrUnknownOwner
		}
		return err
	}
	return nil
}

// RevokeBiometricCredential deletes the binding.
func (b *Bridge) RevokeBiometricCredential(ctx context.Context, ownerID, deviceID string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM biometric_credentials WHERE owner_id = $1 AND device_id = $2`, ownerID, deviceID)
	return err
}

// RedeemBiometricAssertion verifies the assertion, records its jti, and issues a session in one transaction.
func (b *Bridge) RedeemBiometricAssertion(ctx context.Context, assertion string) (*domain.Session, error) {
	now := b.nowF()
	var sess *domain.Session
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		claims, err := bridge.VerifyAssertion(assertion, now, func(ownerID, deviceID string) (*bridge.Registration, error) {
			return lookupRegistration(ctx, tx, ownerID, deviceID)
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assertion_redemptions WHERE expires_at <= $1`, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO assertion_redemptions (jti, owner_id, expires_at) VALUES ($1, $2, $3)
			 ON CONFLICT (jti) DO NOTHING`,
			claims.ID, claims.Subject, claims.ExpiresAt.Time)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return bridge.ErrAssertionReplayed
		}
		sess, err = b.startSession(ctx, tx, claims.Subject, claims.DeviceID, bridge.MethodBiometric)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func lookupRegistration(ctx context.Context, tx *sql.Tx, ownerID, deviceID string) (*bridge.Registration, error) {
	reg := bridge.Registration{OwnerID: ownerID, DeviceID: deviceID}
	var factors string
	err := tx.QueryRowContext(ctx,
		`SELECT factors, secret, expires_at FROM biometric_credentials WHERE owner_id = $1 AND device_id = $2`,
		ownerID, deviceID).Scan(&factors, &reg.Secret, &reg.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reg.Factors = splitFactors(factors)
	return &reg, nil
}

func joinFactors(fs []domain.FactorType) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func splitFactors(s string) []domain.FactorType {
	if s == "" {
		return nil
	}
	var out []domain.FactorType
	for _, p := range strings.Split(s, ",") {
		if f, err := domain.ParseFactorType(p); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (b *Bridge) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var _ bridge.Bridge = (*Bridge)(nil)
