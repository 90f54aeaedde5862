package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/odyssey-erp/odyssey-portal/internal/policy"
)

// PermissionReader answers effective permission questions.
type PermissionReader interface {
	CheckPermissions(ctx context.Context, userID int64, names []string) (map[string]bool, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// AuthzCLI inspects policy resolution and user permissions.
type AuthzCLI struct {
	resolver    *policy.Resolver
	permissions PermissionReader
}

// NewAuthzCLI builds the helpers. permissions may be nil for resolve-only use.
func NewAuthzCLI(resolver *policy.Resolver, permissions PermissionReader) *AuthzCLI {
	return &AuthzCLI{resolver: resolver, permissions: permissions}
}

// ResolveOptions defines the arguments of authz resolve.
type ResolveOptions struct {
	Names      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type resolvedPolicy struct {
	Name         string   `json:"name"`
	Requirements []string `json:"requirements"`
}

// ResolveCommand prints the policy each name resolves to.
func (c *AuthzCLI) ResolveCommand(opts ResolveOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if len(opts.Names) == 0 {
		_, _ = fmt.Fprintln(stderr, "resolve: at least one policy name is required")
		return 1
	}
	out := make([]resolvedPolicy, 0, len(opts.Names))
	for _, name := range opts.Names {
		p := c.resolver.Resolve(name)
		reqs := make([]string, 0, len(p.Requirements))
		for _, r := range p.Requirements {
			reqs = append(reqs, r.String())
		}
		out = append(out, resolvedPolicy{Name: name, Requirements: reqs})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(stderr, "resolve: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	for _, p := range out {
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", p.Name, strings.Join(p.Requirements, ", "))
	}
	return 0
}

// CheckOptions defines the flags of authz check.
type CheckOptions struct {
	UserID      int64
	Permissions []string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

type checkSummary struct {
	UserID      int64           `json:"user_id"`
	Granted     map[string]bool `json:"granted,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
}

// CheckCommand reports whether the user holds each permission, or lists all
// effective permissions when none are named. Exit code 10 means at least one
// named permission is missing.
func (c *AuthzCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c.permissions == nil {
		_, _ = fmt.Fprintln(stderr, "check: permission store not configured")
		return 1
	}
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(stderr, "check: --user is required and must be positive")
		return 1
	}
	summary := checkSummary{UserID: opts.UserID}
	exit := 0
	if len(opts.Permissions) == 0 {
		perms, err := c.permissions.EffectivePermissions(ctx, opts.UserID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "check: %v\n", err)
			return 1
		}
		summary.Permissions = perms
	} else {
		granted, err := c.permissions.CheckPermissions(ctx, opts.UserID, opts.Permissions)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "check: %v\n", err)
			return 1
		}
		summary.Granted = granted
		for _, ok := range granted {
			if !ok {
				exit = 10
			}
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "check: encode json: %v\n", err)
			return 1
		}
		return exit
	}
	if summary.Granted == nil {
		_, _ = fmt.Fprintf(stdout, "user %d: %s\n", opts.UserID, strings.Join(summary.Permissions, ", "))
		return exit
	}
	for _, name := range opts.Permissions {
		mark := "denied"
		if summary.Granted[name] {
			mark = "granted"
		}
		_, _ = fmt.Fprintf(stdout, "user %d %s: %s\n", opts.UserID, name, mark)
	}
	return exit
}
