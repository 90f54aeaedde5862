package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-portal/internal/users"
)

// ErrMalformedIdentity means the principal carries neither a usable user id
// nor a resolvable external token.
var ErrMalformedIdentity = errors.New("policy: malformed identity")

//go:generate mockgen -source=evaluator.go -destination=mock_evaluator_test.go -package=policy

// PermissionChecker answers permission questions for an internal user id.
type PermissionChecker interface {
	UserHasPermission(ctx context.Context, userID int64, permissionName string) (bool, error)
}

// UserFinder maps an external identity token to a user.
type UserFinder interface {
	FindByExternalToken(ctx context.Context, token string) (users.User, error)
}

// Outcome is the result of evaluating one requirement.
type Outcome int

const (
	// Fail leaves the requirement unsatisfied. It is the zero value.
	Fail Outcome = iota
	// Succeed satisfies the requirement.
	Succeed
)

// String returns "succeed" or "fail".
func (o Outcome) String() string {
	if o == Succeed {
		return "succeed"
	}
	return "fail"
}

// Reason describes why an evaluation ended where it did.
type Reason int

const (
	// ReasonGranted means the user holds the permission.
	ReasonGranted Reason = iota
	// ReasonNoIdentity means neither identity claim was usable.
	ReasonNoIdentity
	// ReasonUnknownUser means the external token matched no user.
	ReasonUnknownUser
	// ReasonPermissionMissing means no held role grants the permission.
	ReasonPermissionMissing
	// ReasonStoreFailure means a lookup failed.
	ReasonStoreFailure
	// ReasonUnauthenticated means the principal is anonymous.
	ReasonUnauthenticated
	// ReasonUnsupported means no handler exists for the requirement type.
	ReasonUnsupported
)

// String returns a human-readable reason.
func (r Reason) String() string {
	switch r {
	case ReasonGranted:
		return "granted"
	case ReasonNoIdentity:
		return "no usable identity claim"
	case ReasonUnknownUser:
		return "external token matches no user"
	case ReasonPermissionMissing:
		return "permission not held"
	case ReasonStoreFailure:
		return "store failure"
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonUnsupported:
		return "unsupported requirement"
	default:
		return "unknown"
	}
}

// Decision records the outcome of one requirement evaluation.
type Decision struct {
	Requirement Requirement
	Outcome     Outcome
	Reason      Reason
	// UserID is the resolved internal id, zero when resolution failed.
	UserID int64
}

// Succeeded reports whether the requirement was satisfied.
func (d Decision) Succeeded() bool {
	return d.Outcome == Succeed
}

// Evaluator decides PermissionRequirements. Evaluation never returns an
// error: every failure path is a logged Fail.
type Evaluator struct {
	checker PermissionChecker
	finder  UserFinder
	logger  *slog.Logger
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(checker PermissionChecker, finder UserFinder, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{checker: checker, finder: finder, logger: logger}
}

// Evaluate resolves the principal to an internal user and checks the permission.
func (e *Evaluator) Evaluate(ctx context.Context, p *Principal, req PermissionRequirement) Decision {
	decision := Decision{Requirement: req, Outcome: Fail}

	userID, reason, err := e.resolveIdentity(ctx, p)
	if err != nil {
		decision.Reason = reason
		e.logFail(ctx, decision, err)
		return decision
	}
	decision.UserID = userID

	granted, err := e.checker.UserHasPermission(ctx, userID, req.Permission)
	if err != nil {
		decision.Reason = ReasonStoreFailure
		e.logFail(ctx, decision, err)
		return decision
	}
	if !granted {
		decision.Reason = ReasonPermissionMissing
		e.logFail(ctx, decision, nil)
		return decision
	}
	decision.Outcome = Succeed
	decision.Reason = ReasonGranted
	return decision
}

// resolveIdentity reads the numeric user id claim first and falls back to
// looking the user up by the object identifier claim.
func (e *Evaluator) resolveIdentity(ctx context.Context, p *Principal) (int64, Reason, error) {
	if raw, ok := p.FindFirst(ClaimUserID); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return id, ReasonGranted, nil
		}
		e.logger.DebugContext(ctx, "policy: unparseable user id claim", slog.String("value", raw))
	}
	token, ok := p.FindFirst(ClaimObjectIdentifier)
	if !ok {
		return 0, ReasonNoIdentity, ErrMalformedIdentity
	}
	user, err := e.finder.FindByExternalToken(ctx, token)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return 0, ReasonUnknownUser, ErrMalformedIdentity
		}
		return 0, ReasonStoreFailure, err
	}
	return user.ID, ReasonGranted, nil
}

func (e *Evaluator) logFail(ctx context.Context, d Decision, err error) {
	attrs := []any{
		slog.String("requirement", d.Requirement.String()),
		slog.String("reason", d.Reason.String()),
		slog.Int64("user_id", d.UserID),
	}
	if d.Reason == ReasonStoreFailure {
		e.logger.ErrorContext(ctx, "policy: requirement failed", append(attrs, slog.Any("error", err))...)
		return
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	e.logger.InfoContext(ctx, "policy: requirement failed", attrs...)
}
