package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	defaultPolicyPackage = "lmsbridge.access"
	accessQuery          = "allow := data.lmsbridge.access.allow; reason := data.lmsbridge.access.deny_reason"
)

// DefaultPolicy is the built-in bridge access policy. A replacement must define both allow and
// deny_reason in package lmsbridge.access.
const DefaultPolicy = `package lmsbridge.access

default allow := false

admin_ops := {"SyncCategories", "SyncCourses", "FullSync", "TestConnection", "SiteInfo", "ListAuditLogs"}

is_admin if input.caller.role == "admin"

is_self if {
	input.caller.id != ""
	input.caller.id == input.subject
}

allow if {
	input.operation in admin_ops
	is_admin
}

allow if {
	input.operation == "Provision"
	is_self
	input.enrolled
}

allow if {
	input.operation == "Provision"
	is_admin
}

allow if {
	input.operation == "MintSSOURL"
	is_self
	input.enrolled
}

allow if {
	input.operation == "MintSSOURL"
	is_self
	is_admin
}

allow if {
	input.operation == "CourseAccessURL"
	is_self
	input.enrolled
}

allow if {
	input.operation == "CourseAccessURL"
	is_self
	is_admin
}

deny_reason := "admin role required" if {
	input.operation in admin_ops
} else := "caller is not the subject" if {
	not is_self
} else := "not enrolled in course" if {
	input.operation == "CourseAccessURL"
} else := "no course enrollment" if {
	input.operation in {"Provision", "MintSSOURL"}
} else := "operation not permitted"
`

// OPAEvaluator evaluates the bridge access policy with an in-process OPA Rego engine.
// The query is compiled once; evaluation errors deny.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty) and prepares the access query.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"access.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(accessQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// HealthCheck evaluates a fixed admin request against the compiled policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.Authorize(ctx, Input{Operation: OpSiteInfo, Caller: Caller{ID: "health", Role: "admin"}})
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("policy %s denied the health probe: %s", defaultPolicyPackage, d.Reason)
	}
	return nil
}

// Authorize evaluates in. A policy that yields no decision denies.
func (e *OPAEvaluator) Authorize(ctx context.Context, in Input) (Decision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return Decision{Reason: "policy evaluation failed"}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 {
		return Decision{Reason: "no policy decision"}, nil
	}
	allow, _ := rs[0].Bindings["allow"].(bool)
	if allow {
		return Decision{Allow: true}, nil
	}
	reason, _ := rs[0].Bindings["reason"].(string)
	if reason == "" {
		reason = "denied by policy"
	}
	return Decision{Reason: reason}, nil
}

func buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"operation": in.Operation,
		"caller": map[string]interface{}{
			"id":   in.Caller.ID,
			"role": in.Caller.Role,
		},
		"subject":  in.Subject,
		"enrolled": in.Enrolled,
	}
}
