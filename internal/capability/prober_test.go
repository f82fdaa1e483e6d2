package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"verivault/core/internal/biometric/domain"
)

type fakeSensor struct {
	status SensorStatus
	err    error
	panic  bool
}

func (s *fakeSensor) Status(ctx context.Context) (SensorStatus, error) {
	if s.panic {
		panic("sensor exploded")
	}
	return s.status, s.err
}

type fakePlatform struct {
	ok    bool
	err   error
	block bool
}

func (p *fakePlatform) UserVerifyingAvailable(ctx context.Context) (bool, error) {
	if p.block {
		select {} // never answers, ignoring ctx
	}
	return p.ok, p.err
}

func TestProbe_NativeSensorAvailable(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformAndroid, Native: true},
		&fakeSensor{status: SensorStatus{Present: true, Enrolled: true, Factor: domain.FactorFace}}, nil, time.Second, zaptest.NewLogger(t))

	c := p.Probe(context.Background())
	if !c.Available || !c.Enrolled {
		t.Fatalf("capability = %+v, want available and enrolled", c)
	}
	if c.FactorType != domain.FactorFace {
		t.Errorf("FactorType = %q, want face (sensor-reported)", c.FactorType)
	}
}

func TestProbe_NativeSensorDefaultsFactorByPlatform(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformIOS, Native: true},
		&fakeSensor{status: SensorStatus{Present: true, Enrolled: true, Factor: domain.FactorNone}}, nil, time.Second, nil)
	if c := p.Probe(context.Background()); c.FactorType != domain.FactorFace {
		t.Errorf("iOS FactorType = %q, want face", c.FactorType)
	}

	p = NewProber(Environment{Platform: PlatformAndroid, Native: true},
		&fakeSensor{status: SensorStatus{Present: true, Enrolled: true}}, nil, time.Second, nil)
	if c := p.Probe(context.Background()); c.FactorType != domain.FactorFingerprint {
		t.Errorf("Android FactorType = %q, want fingerprint", c.FactorType)
	}
}

func TestProbe_NativeSensorNotEnrolled(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformAndroid, Native: true},
		&fakeSensor{status: SensorStatus{Present: true}}, nil, time.Second, nil)
	c := p.Probe(context.Background())
	if c.Available || c.Enrolled {
		t.Errorf("capability = %+v, want unavailable", c)
	}
	if c.ErrorReason == "" {
		t.Error("ErrorReason should explain the missing enrollment")
	}
}

func TestProbe_NoHardware(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformAndroid, Native: true}, &fakeSensor{}, nil, time.Second, nil)
	if c := p.Probe(context.Background()); c.Available || c.ErrorReason != "no biometric hardware" {
		t.Errorf("capability = %+v, want no hardware", c)
	}
}

func TestProbe_SensorErrorMapsToUnavailable(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformAndroid, Native: true}, &fakeSensor{err: ErrNotAvailable}, nil, time.Second, nil)
	c := p.Probe(context.Background())
	if c.Available {
		t.Fatal("sensor error should report unavailable")
	}
	if c.ErrorReason != "no biometric API on this platform" {
		t.Errorf("ErrorReason = %q", c.ErrorReason)
	}
}

func TestProbe_SensorPanicIsRecovered(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformAndroid, Native: true}, &fakeSensor{panic: true}, nil, time.Second, zaptest.NewLogger(t))
	if c := p.Probe(context.Background()); c.Available {
		t.Error("panicking sensor should report unavailable")
	}
}

func TestProbe_PlatformAuthenticatorTimeout(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformWeb}, nil, &fakePlatform{block: true}, 20*time.Millisecond, nil)

	start := time.Now()
	c := p.Probe(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("Probe should return once the timeout elapses")
	}
	if c.Available {
		t.Error("timed-out probe should report unavailable")
	}
	if c.ErrorReason != "capability check timed out" {
		t.Errorf("ErrorReason = %q, want timeout", c.ErrorReason)
	}
}

func TestProbe_PlatformAuthenticatorAvailable(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformWindows}, nil, &fakePlatform{ok: true}, time.Second, nil)
	c := p.Probe(context.Background())
	if !c.Available || c.FactorType != domain.FactorFingerprint {
		t.Errorf("capability = %+v, want available fingerprint", c)
	}
}

func TestProbe_PlatformAuthenticatorAbsent(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformWeb}, nil, &fakePlatform{ok: false}, time.Second, nil)
	if c := p.Probe(context.Background()); c.Available {
		t.Error("absent authenticator should report unavailable")
	}
	p = NewProber(Environment{Platform: PlatformWeb}, nil, &fakePlatform{err: errors.New("blocked by permissions policy")}, time.Second, nil)
	if c := p.Probe(context.Background()); c.Available || c.ErrorReason != "blocked by permissions policy" {
		t.Errorf("capability = %+v, want error reason passed through", c)
	}
}

func TestProbe_NoAPI(t *testing.T) {
	p := NewProber(Environment{Platform: PlatformLinux}, nil, nil, 0, nil)
	if c := p.Probe(context.Background()); c.Available || c.FactorType != domain.FactorNone {
		t.Errorf("capability = %+v, want unavailable/none", c)
	}
}
