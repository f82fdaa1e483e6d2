// Package engine decides whether a biometric factor may be enrolled on the current device.
package engine

import (
	"context"
	"sort"

	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/capability"
)

// Deny reasons produced by the built-in policy.
const (
	DenyUnknownFactor         = "unknown_factor"
	DenyCapabilityUnavailable = "capability_unavailable"
	DenyIrisRequiresNative    = "iris_requires_native"
)

// EnrollmentInput is the policy input for one enrollment request.
type EnrollmentInput struct {
	Environment capability.Environment
	Capability  domain.Capability
	Factor      domain.FactorType
}

// Decision is the result of enrollment policy evaluation. Reasons is sorted and empty when Allowed.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Evaluator evaluates enrollment policy using OPA or other engines.
type Evaluator interface {
	// EvaluateEnrollment returns whether in.Factor may be enrolled. Implementations fall back to
	// DefaultDecision when their engine fails.
	EvaluateEnrollment(ctx context.Context, in EnrollmentInput) (Decision, error)
}

// DefaultDecision applies the built-in rules without a policy engine: the factor must be enrollable,
// the capability available, and iris is only offered on native runtimes.
func DefaultDecision(in EnrollmentInput) Decision {
	var reasons []string
	if !in.Factor.Enrollable() {
		reasons = append(reasons, DenyUnknownFactor)
	}
	if !in.Capability.Available {
		reasons = append(reasons, DenyCapabilityUnavailable)
	}
	if in.Factor == domain.FactorIris && !in.Environment.Native {
		reasons = append(reasons, DenyIrisRequiresNative)
	}
	sort.Strings(reasons)
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}
}
