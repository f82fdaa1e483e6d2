// Package health reports readiness of the account store, lockout store, and enrollment policy.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pinger is implemented by *sql.DB and by store adapters that can check connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA enrollment evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Status is the overall readiness.
type Status string

const (
	StatusServing    Status = "serving"
	StatusNotServing Status = "not_serving"
)

// Report is the result of one readiness check. Components maps each checked dependency to its error
// text, or "" when healthy.
type Report struct {
	Status     Status
	Components map[string]string
}

// Checker runs readiness checks. Nil dependencies are skipped.
type Checker struct {
	pingers map[string]Pinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewChecker returns a Checker for the named pingers and the policy engine. timeout <= 0 uses 2 seconds.
func NewChecker(pingers map[string]Pinger, policy PolicyChecker, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{pingers: pingers, policy: policy, timeout: timeout}
}

// Check runs every check and returns the report plus the joined error of failing components.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rep := Report{Status: StatusServing, Components: make(map[string]string)}
	var errs []error
	record := func(name string, err error) {
		if err != nil {
			rep.Components[name] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		rep.Components[name] = ""
	}
	for name, p := range c.pingers {
		if p == nil {
			continue
		}
		record(name, p.PingContext(ctx))
	}
	if c.policy != nil {
		record("policy", c.policy.HealthCheck(ctx))
	}
	if len(errs) > 0 {
		rep.Status = StatusNotServing
	}
	return rep, errors.Join(errs...)
}
