// Package capability detects whether a biometric factor is usable on the current device.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/logger"
)

// ErrNotAvailable is returned by platform adapters when the runtime has no biometric API at all.
var ErrNotAvailable = errors.New("capability: biometric API not available on this platform")

// Platform is the runtime family the app shell reports.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformWeb     Platform = "web"
)

// Environment describes where the core is embedded. Native is true for app-store builds with
// access to the OS biometric sensor and secure credential store.
type Environment struct {
	Platform Platform
	Native   bool
}

// SensorStatus is what a native biometric sensor reports.
type SensorStatus struct {
	Present  bool
	Enrolled bool
	Factor   domain.FactorType // FactorNone when the OS does not say
}

// Sensor queries the native runtime's biometric hardware.
type Sensor interface {
	Status(ctx context.Context) (SensorStatus, error)
}

// PlatformAuthenticator is the web fallback: asks whether a user-verifying platform authenticator
// is present. Some platforms never answer, so callers bound it with a timeout.
type PlatformAuthenticator interface {
	UserVerifyingAvailable(ctx context.Context) (bool, error)
}

// DefaultFactor is the UI label heuristic for a platform family: Apple platforms default to face,
// everything else to fingerprint. It never feeds a security decision.
func DefaultFactor(p Platform) domain.FactorType {
	switch p {
	case PlatformIOS, PlatformMacOS:
		return domain.FactorFace
	default:
		return domain.FactorFingerprint
	}
}

// Prober implements the capability probe over a native sensor and/or a platform authenticator.
type Prober struct {
	env      Environment
	sensor   Sensor
	platform PlatformAuthenticator
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber returns a Prober. sensor is consulted on native runtimes; platform is the web fallback.
// Either may be nil. timeout <= 0 uses the 5 second default.
func NewProber(env Environment, sensor Sensor, platform PlatformAuthenticator, timeout time.Duration, log *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = domain.DefaultSettings().ProbeTimeout
	}
	return &Prober{env: env, sensor: sensor, platform: platform, timeout: timeout, logger: logger.OrNop(log)}
}

// Environment returns the runtime description the prober was built with.
func (p *Prober) Environment() Environment {
	return p.env
}

// Probe reports the current biometric capability. It never panics and never returns an error:
// every failure, including a timeout, is reported as an unavailable capability.
func (p *Prober) Probe(ctx context.Context) (c domain.Capability) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("capability probe panicked", zap.Any("panic", r))
			c = domain.Unavailable(fmt.Sprintf("capability probe failed: %v", r))
		}
	}()

	if p.env.Native && p.sensor != nil {
		return p.probeSensor(ctx)
	}
	if p.platform != nil {
		return p.probePlatform(ctx)
	}
	return domain.Unavailable("no biometric API on this platform")
}

func (p *Prober) probeSensor(ctx context.Context) domain.Capability {
	status, err := withTimeout(ctx, p.timeout, p.sensor.Status)
	if err != nil {
		p.logger.Warn("biometric sensor query failed", zap.Error(err))
		return domain.Unavailable(describe(err))
	}
	factor := status.Factor
	if !factor.Enrollable() {
		factor = DefaultFactor(p.env.Platform)
	}
	switch {
	case !status.Present:
		return domain.Unavailable("no biometric hardware")
	case !status.Enrolled:
		return domain.Capability{FactorType: factor, ErrorReason: "no biometrics enrolled on this device"}
	}
	return domain.Capability{Available: true, Enrolled: true, FactorType: factor}
}

func (p *Prober) probePlatform(ctx context.Context) domain.Capability {
	ok, err := withTimeout(ctx, p.timeout, p.platform.UserVerifyingAvailable)
	if err != nil {
		p.logger.Warn("platform authenticator query failed", zap.Error(err))
		return domain.Unavailable(describe(err))
	}
	if !ok {
		return domain.Unavailable("no user-verifying platform authenticator")
	}
	return domain.Capability{Available: true, Enrolled: true, FactorType: DefaultFactor(p.env.Platform)}
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "capability check timed out"
	case errors.Is(err, ErrNotAvailable):
		return "no biometric API on this platform"
	default:
		return err.Error()
	}
}

// withTimeout runs fn in its own goroutine so an adapter that ignores ctx still cannot hang the caller.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("capability: adapter panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
