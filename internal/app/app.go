// Package app builds the biometric core once at process start and hands out the wired services.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/audit"
	"verivault/core/internal/bridge"
	pgbridge "verivault/core/internal/bridge/postgres"
	"verivault/core/internal/capability"
	"verivault/core/internal/challenge"
	"verivault/core/internal/config"
	"verivault/core/internal/db"
	devicedomain "verivault/core/internal/device/domain"
	devicerepo "verivault/core/internal/device/repository"
	deviceservice "verivault/core/internal/device/service"
	"verivault/core/internal/health"
	"verivault/core/internal/lockout"
	"verivault/core/internal/logger"
	"verivault/core/internal/platform/keylock"
	policyengine "verivault/core/internal/policy/engine"
	"verivault/core/internal/security"
	"verivault/core/internal/service"
	"verivault/core/internal/telemetry"
	telemetryotel "verivault/core/internal/telemetry/otel"
	"verivault/core/internal/telemetry/producer"
	"verivault/core/internal/vault"
)

const (
	defaultServiceName = "verivault-biometric"
	lockoutKeyPrefix   = "verivault:lockout"
)

// Options are the runtime adapters supplied by the embedding UI shell.
type Options struct {
	// Environment is the platform family and whether the build is native.
	Environment capability.Environment
	// Sensor is the native biometric sensor; nil on web builds.
	Sensor capability.Sensor
	// PlatformAuthenticator is the web fallback; nil when the runtime has none.
	PlatformAuthenticator capability.PlatformAuthenticator
	// Challenger presents the biometric prompt. When nil a consent challenger over Confirm is used.
	Challenger challenge.Challenger
	Confirm    challenge.ConfirmFunc
	// Logger overrides the logger built from config.
	Logger      *zap.Logger
	ServiceName string
}

// App is the dependency-injection container.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Device        *devicedomain.Device
	Vault         *vault.Vault
	Tracker       *lockout.Tracker
	Bridge        bridge.Bridge
	Authenticator *service.Authenticator
	Enrollment    *service.Enrollment
	Health        *health.Checker

	drain   bool
	closers []func(context.Context) error
}

// New wires every component from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Logger = opts.Logger
	if a.Logger == nil {
		if a.Logger, err = logger.New(cfg.Env); err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			_ = a.Logger.Sync()
			return nil
		})
	}
	log := a.Logger
	settings := cfg.Biometric()
	env := opts.Environment

	bolt, err := vault.OpenBolt(cfg.VaultPath, cfg.KeyringService)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return bolt.Close() })

	resolver := deviceservice.NewResolver(devicerepo.NewBackendRepository(bolt), string(env.Platform), log)
	if a.Device, err = resolver.Resolve(ctx); err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}

	var backends []vault.Backend
	if env.Native {
		backends = append(backends, vault.NewKeyringBackend(cfg.KeyringService))
	}
	if opts.PlatformAuthenticator != nil {
		backends = append(backends, vault.NewPlatformBackend(opts.PlatformAuthenticator, settings.ProbeTimeout))
	}
	backends = append(backends, bolt)
	a.Vault = vault.New(backends, a.Device.ID, settings.CredentialTTL, log)

	pingers := map[string]health.Pinger{}
	var store lockout.Store = lockout.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := lockout.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store = lockout.NewRedisStore(client, lockoutKeyPrefix)
		pingers["redis"] = health.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	a.Tracker = lockout.NewTracker(store, lockout.Policy{MaxFailures: settings.MaxFailures, Cooldown: settings.Lockout}, log)

	tokens, err := tokenProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	hasher := security.NewHasher(cfg.BcryptCost)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		a.Bridge = pgbridge.New(conn, hasher, tokens)
		pingers["database"] = conn
	} else {
		log.Info("DATABASE_URL not set, using the in-memory account store")
		a.Bridge = bridge.NewMemory(hasher, tokens)
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, providers.Shutdown)
	drain := false
	if cfg.OTLPEndpoint != "" {
		providers.SetGlobal()
		drain = true
	}
	instruments, err := telemetry.NewInstruments(providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("telemetry instruments: %w", err)
	}

	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); kp != nil {
		emitters = append(emitters, kp)
		a.closers = append(a.closers, func(context.Context) error { return kp.Close() })
		drain = true
	}
	auditLogger := audit.NewLogger(a.Bridge, emitters, settings.BridgeTimeout, log)

	module := ""
	if cfg.EnrollmentPolicyFile != "" {
		raw, err := os.ReadFile(cfg.EnrollmentPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("enrollment policy: %w", err)
		}
		module = string(raw)
	}
	evaluator, err := policyengine.NewOPAEvaluator(ctx, module, log)
	if err != nil {
		return nil, err
	}

	challenger := opts.Challenger
	if challenger == nil {
		challenger = challenge.NewConsentChallenger(opts.Confirm)
	}

	deps := service.Deps{
		Prober:      capability.NewProber(env, opts.Sensor, opts.PlatformAuthenticator, settings.ProbeTimeout, log),
		Vault:       a.Vault,
		Tracker:     a.Tracker,
		Challenger:  challenger,
		Bridge:      a.Bridge,
		Policy:      evaluator,
		Audit:       auditLogger,
		Instruments: instruments,
		Locks:       keylock.New(),
		Settings:    settings,
		Logger:      log,
	}
	a.Authenticator = service.NewAuthenticator(deps)
	a.Enrollment = service.NewEnrollment(deps)
	a.Health = health.NewChecker(pingers, evaluator, 0)
	a.drain = drain

	log.Info("biometric core ready",
		zap.String("device_id", a.Device.ID),
		zap.String("platform", string(env.Platform)),
		zap.Bool("native", env.Native),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
	)
	return a, nil
}

// tokenProvider builds the session signer from the configured key pair, or from a fresh ES256 key
// when none is configured.
func tokenProvider(cfg *config.Config, log *zap.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" {
		key, err := security.GenerateSigningKey()
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		log.Warn("JWT_PRIVATE_KEY not set, sessions are signed with an ephemeral key")
		return security.NewTokenProvider(key, key.Public(), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
	}
	key, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWT key pair: %w", err)
	}
	return security.NewTokenProvider(key, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

// Close waits for in-flight audit emits when exporters are enabled, then releases resources in
// reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if a.drain {
		t := time.NewTimer(telemetry.ShutdownDrainDuration)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
		a.drain = false
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
