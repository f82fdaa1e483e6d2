// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"verivault/core/internal/biometric/domain"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production"). Selects the zap config.
	Env string `mapstructure:"APP_ENV"`

	// MaxFailures is the number of consecutive failed biometric challenges that triggers a lockout.
	MaxFailures int `mapstructure:"BIOMETRIC_MAX_FAILURES"`
	// LockoutMinutes is the lockout cooldown.
	LockoutMinutes int `mapstructure:"BIOMETRIC_LOCKOUT_MINUTES"`
	// CredentialTTLHours is how long a stored biometric credential stays valid after enrollment.
	CredentialTTLHours int `mapstructure:"BIOMETRIC_CREDENTIAL_TTL_HOURS"`
	// ChallengeTimeoutMs bounds the authentication prompt; at most 60000.
	ChallengeTimeoutMs int `mapstructure:"BIOMETRIC_CHALLENGE_TIMEOUT_MS"`
	// EnrollTimeoutMs bounds the enrollment prompt; at most 30000.
	EnrollTimeoutMs int `mapstructure:"BIOMETRIC_ENROLL_TIMEOUT_MS"`
	// ProbeTimeoutMs bounds the platform authenticator availability query.
	ProbeTimeoutMs int `mapstructure:"BIOMETRIC_PROBE_TIMEOUT_MS"`
	// BridgeTimeoutMs bounds every call to the account store.
	BridgeTimeoutMs int `mapstructure:"BRIDGE_TIMEOUT_MS"`
	// AssertionTTL is the lifetime of the signed assertion redeemed for a session (e.g. "60s").
	AssertionTTL string `mapstructure:"ASSERTION_TTL"`

	// VaultPath is the bbolt file used by the last-resort vault backend and for the device id.
	VaultPath string `mapstructure:"VAULT_PATH"`
	// KeyringService is the OS keyring service name for the secure vault backend.
	KeyringService string `mapstructure:"KEYRING_SERVICE"`
	// RedisURL selects the Redis lockout store when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// DatabaseURL is the Postgres DSN for the account store; empty selects the in-memory account store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file for session tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of session tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTLPEndpoint is the OTLP gRPC collector; empty selects no-op telemetry providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses for the audit stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic audit events are written to.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// AuditKafkaGroupID is the consumer group of cmd/worker.
	AuditKafkaGroupID string `mapstructure:"AUDIT_KAFKA_GROUP_ID"`

	// EnrollmentPolicyFile is an optional Rego file replacing the built-in enrollment policy.
	EnrollmentPolicyFile string `mapstructure:"ENROLLMENT_POLICY_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("BIOMETRIC_MAX_FAILURES", 3)
	v.SetDefault("BIOMETRIC_LOCKOUT_MINUTES", 15)
	v.SetDefault("BIOMETRIC_CREDENTIAL_TTL_HOURS", 24)
	v.SetDefault("BIOMETRIC_CHALLENGE_TIMEOUT_MS", 60000)
	v.SetDefault("BIOMETRIC_ENROLL_TIMEOUT_MS", 30000)
	v.SetDefault("BIOMETRIC_PROBE_TIMEOUT_MS", 5000)
	v.SetDefault("BRIDGE_TIMEOUT_MS", 10000)
	v.SetDefault("ASSERTION_TTL", "60s")
	v.SetDefault("VAULT_PATH", "verivault.db")
	v.SetDefault("KEYRING_SERVICE", "com.verivault.biometric")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "verivault-auth")
	v.SetDefault("JWT_AUDIENCE", "verivault-app")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "verivault-audit")
	v.SetDefault("AUDIT_KAFKA_GROUP_ID", "verivault-audit-worker")
	v.SetDefault("ENROLLMENT_POLICY_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the biometric thresholds and hashing cost.
func (c *Config) Validate() error {
	if c.MaxFailures < 1 {
		return errors.New("config: BIOMETRIC_MAX_FAILURES must be at least 1")
	}
	if c.LockoutMinutes < 1 {
		return errors.New("config: BIOMETRIC_LOCKOUT_MINUTES must be at least 1")
	}
	if c.CredentialTTLHours < 1 {
		return errors.New("config: BIOMETRIC_CREDENTIAL_TTL_HOURS must be at least 1")
	}
	if c.ChallengeTimeoutMs <= 0 || c.ChallengeTimeoutMs > 60000 {
		return errors.New("config: BIOMETRIC_CHALLENGE_TIMEOUT_MS must be between 1 and 60000")
	}
	if c.EnrollTimeoutMs <= 0 || c.EnrollTimeoutMs > 30000 {
		return errors.New("config: BIOMETRIC_ENROLL_TIMEOUT_MS must be between 1 and 30000")
	}
	if c.ProbeTimeoutMs <= 0 {
		return errors.New("config: BIOMETRIC_PROBE_TIMEOUT_MS must be positive")
	}
	if c.BridgeTimeoutMs <= 0 {
		return errors.New("config: BRIDGE_TIMEOUT_MS must be positive")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	return nil
}

// Biometric returns the biometric thresholds as durations.
func (c *Config) Biometric() domain.Settings {
	s := domain.DefaultSettings()
	s.MaxFailures = c.MaxFailures
	s.Lockout = time.Duration(c.LockoutMinutes) * time.Minute
	s.CredentialTTL = time.Duration(c.CredentialTTLHours) * time.Hour
	s.ChallengeTimeout = time.Duration(c.ChallengeTimeoutMs) * time.Millisecond
	s.EnrollTimeout = time.Duration(c.EnrollTimeoutMs) * time.Millisecond
	s.ProbeTimeout = time.Duration(c.ProbeTimeoutMs) * time.Millisecond
	s.BridgeTimeout = time.Duration(c.BridgeTimeoutMs) * time.Millisecond
	if d, err := time.ParseDuration(c.AssertionTTL); err == nil && d > 0 {
		s.AssertionTTL = d
	}
	return s
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the audit stream.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
