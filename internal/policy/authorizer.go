package policy

import (
	"context"
	"io"
	"log/slog"
)

// Result is the combined decision for a policy.
type Result struct {
	Policy    Policy
	Allowed   bool
	Decisions []Decision
}

// Authorizer resolves a policy name and evaluates every requirement in it.
type Authorizer struct {
	resolver  *Resolver
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(resolver *Resolver, evaluator *Evaluator, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authorizer{resolver: resolver, evaluator: evaluator, logger: logger}
}

// Authorize reports whether p satisfies the named policy. A policy without
// requirements, or any requirement left unsatisfied, denies.
func (a *Authorizer) Authorize(ctx context.Context, p *Principal, policyName string) Result {
	pol := a.resolver.Resolve(policyName)
	res := Result{Policy: pol, Decisions: make([]Decision, 0, len(pol.Requirements))}
	allowed := len(pol.Requirements) > 0
	for _, req := range pol.Requirements {
		d := a.evaluate(ctx, p, req)
		res.Decisions = append(res.Decisions, d)
		if !d.Succeeded() {
			allowed = false
		}
	}
	res.Allowed = allowed
	if !allowed {
		a.logger.DebugContext(ctx, "policy: denied", slog.String("policy", policyName))
	}
	return res
}

func (a *Authorizer) evaluate(ctx context.Context, p *Principal, req Requirement) Decision {
	if !p.IsAuthenticated() {
		return Decision{Requirement: req, Outcome: Fail, Reason: ReasonUnauthenticated}
	}
	switch r := req.(type) {
	case AuthenticatedRequirement:
		return Decision{Requirement: req, Outcome: Succeed, Reason: ReasonGranted}
	case PermissionRequirement:
		return a.evaluator.Evaluate(ctx, p, r)
	default:
		return Decision{Requirement: req, Outcome: Fail, Reason: ReasonUnsupported}
	}
}

// ResolveUserID maps p to an internal user id using the same identity rules
// as permission evaluation.
func (a *Authorizer) ResolveUserID(ctx context.Context, p *Principal) (int64, error) {
	if !p.IsAuthenticated() {
		return 0, ErrMalformedIdentity
	}
	id, _, err := a.evaluator.resolveIdentity(ctx, p)
	return id, err
}
