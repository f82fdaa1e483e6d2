package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"verivault/core/internal/logger"
)

const policyQuery = "data.verivault.enrollment"

// DefaultRegoPolicy matches DefaultDecision.
const DefaultRegoPolicy = `package verivault.enrollment

default allowed := false

factors := {"fingerprint", "face", "iris"}

allowed if {
	count(deny) == 0
}

deny contains "unknown_factor" if {
	not factors[input.factor]
}

deny contains "capability_unavailable" if {
	not input.capability.available
}

deny contains "iris_requires_native" if {
	input.factor == "iris"
	not input.native
}
`

// OPAEvaluator evaluates enrollment policy using OPA Rego. The policy must define
// data.verivault.enrollment.allowed and may define a deny set of reason strings.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAEvaluator compiles module, or DefaultRegoPolicy when module is empty.
func NewOPAEvaluator(ctx context.Context, module string, log *zap.Logger) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"enrollment.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile enrollment policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare enrollment policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger.OrNop(log)}, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, map[string]interface{}{
		"platform":   "",
		"native":     false,
		"factor":     "fingerprint",
		"capability": map[string]interface{}{"available": false},
	})
	return err
}

// EvaluateEnrollment evaluates the policy. On evaluation failure it logs and returns DefaultDecision.
func (e *OPAEvaluator) EvaluateEnrollment(ctx context.Context, in EnrollmentInput) (Decision, error) {
	d, err := e.eval(ctx, buildInput(in))
	if err != nil {
		e.logger.Warn("policy: evaluation failed, using defaults",
			zap.String("factor", string(in.Factor)),
			zap.Error(err),
		)
		return DefaultDecision(in), nil
	}
	return d, nil
}

func buildInput(in EnrollmentInput) map[string]interface{} {
	return map[string]interface{}{
		"platform": string(in.Environment.Platform),
		"native":   in.Environment.Native,
		"factor":   string(in.Factor),
		"capability": map[string]interface{}{
			"available":   in.Capability.Available,
			"enrolled":    in.Capability.Enrolled,
			"factor_type": string(in.Capability.FactorType),
		},
	}
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval enrollment policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy document has type %T", rs[0].Expressions[0].Value)
	}
	allowed, ok := doc["allowed"].(bool)
	if !ok {
		return Decision{}, fmt.Errorf("policy does not define a boolean allowed rule")
	}
	var reasons []string
	if deny, ok := doc["deny"].([]interface{}); ok {
		for _, r := range deny {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)
	if allowed {
		reasons = nil
	}
	return Decision{Allowed: allowed, Reasons: reasons}, nil
}

var _ Evaluator = (*OPAEvaluator)(nil)
