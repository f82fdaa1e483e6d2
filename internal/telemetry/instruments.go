package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"verivault/core/internal/biometric/domain"
)

const instrumentationName = "verivault/core/biometric"

// Instruments records spans and counters for biometric attempts.
type Instruments struct {
	tracer      trace.Tracer
	attempts    metric.Int64Counter
	failures    metric.Int64Counter
	lockouts    metric.Int64Counter
	enrollments metric.Int64Counter
}

// NewInstruments creates the biometric spans and counters. Nil providers select no-op implementations.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	in := &Instruments{tracer: tp.Tracer(instrumentationName)}
	var err error
	if in.attempts, err = meter.Int64Counter("biometric.attempts",
		metric.WithDescription("Biometric authentication attempts")); err != nil {
		return nil, err
	}
	if in.failures, err = meter.Int64Counter("biometric.failures",
		metric.WithDescription("Failed biometric authentication attempts by reason")); err != nil {
		return nil, err
	}
	if in.lockouts, err = meter.Int64Counter("biometric.lockouts",
		metric.WithDescription("Lockouts started after repeated failures")); err != nil {
		return nil, err
	}
	if in.enrollments, err = meter.Int64Counter("biometric.enrollments",
		metric.WithDescription("Biometric enrollment outcomes")); err != nil {
		return nil, err
	}
	return in, nil
}

// NoopInstruments returns Instruments that record nothing.
func NoopInstruments() *Instruments {
	in, _ := NewInstruments(nil, nil)
	return in
}

// Start opens a span named name with the factor attribute.
func (in *Instruments) Start(ctx context.Context, name string, factor domain.FactorType) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("biometric.factor", string(factor))))
}

// Attempt counts one authentication attempt with its outcome.
func (in *Instruments) Attempt(ctx context.Context, factor domain.FactorType, res domain.Result) {
	attrs := metric.WithAttributes(
		attribute.String("factor", string(factor)),
		attribute.Bool("success", res.Success),
	)
	in.attempts.Add(ctx, 1, attrs)
	if !res.Success {
		in.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("factor", string(factor)),
			attribute.String("reason", string(res.Reason)),
		))
	}
}

// Lockout counts a newly started lockout.
func (in *Instruments) Lockout(ctx context.Context) {
	in.lockouts.Add(ctx, 1)
}

// Enrollment counts one enrollment outcome.
func (in *Instruments) Enrollment(ctx context.Context, factor domain.FactorType, res domain.Result) {
	in.enrollments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("factor", string(factor)),
		attribute.String("state", string(res.EnrollState)),
	))
}
