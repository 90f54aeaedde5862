package policy

// Convention describes policy names of the shape Prefix + <Permission> + Suffix.
// Prefix and Suffix match ASCII case-insensitively; the permission keeps its case.
type Convention struct {
	Prefix string
	Suffix string
}

// DefaultConvention recognises names such as "RequireManageUsersPermission".
var DefaultConvention = Convention{Prefix: "Require", Suffix: "Permission"}

// Extract returns the permission embedded in name. An empty permission is
// valid: "RequirePermission" yields "" and never matches a real permission.
func (c Convention) Extract(name string) (string, bool) {
	if len(name) < len(c.Prefix)+len(c.Suffix) {
		return "", false
	}
	if !asciiEqualFold(name[:len(c.Prefix)], c.Prefix) {
		return "", false
	}
	if !asciiEqualFold(name[len(name)-len(c.Suffix):], c.Suffix) {
		return "", false
	}
	return name[len(c.Prefix) : len(name)-len(c.Suffix)], true
}

// Name builds the policy name for permission.
func (c Convention) Name(permission string) string {
	return c.Prefix + permission + c.Suffix
}

// Fallback resolves names no strategy recognises. It must always answer.
type Fallback interface {
	Policy(name string) Policy
}

// Strategy pairs a name predicate with the policy it builds.
type Strategy struct {
	Match func(name string) bool
	Build func(name string) Policy
}

// ConventionStrategy synthesises a single-permission policy from names that
// follow c.
func ConventionStrategy(c Convention) Strategy {
	return Strategy{
		Match: func(name string) bool {
			_, ok := c.Extract(name)
			return ok
		},
		Build: func(name string) Policy {
			permission, _ := c.Extract(name)
			return Policy{
				Name:         name,
				Requirements: []Requirement{NewPermissionRequirement(permission)},
			}
		},
	}
}

// Resolver tries its strategies in order and hands everything else to the fallback.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds a Resolver. The fallback is always tried last.
func NewResolver(fallback Fallback, strategies ...Strategy) *Resolver {
	chain := make([]Strategy, 0, len(strategies)+1)
	chain = append(chain, strategies...)
	chain = append(chain, Strategy{
		Match: func(string) bool { return true },
		Build: fallback.Policy,
	})
	return &Resolver{strategies: chain}
}

// NewConventionResolver is NewResolver with the single convention strategy.
func NewConventionResolver(c Convention, fallback Fallback) *Resolver {
	return NewResolver(fallback, ConventionStrategy(c))
}

// Resolve returns the policy for name. It never fails.
func (r *Resolver) Resolve(name string) Policy {
	for _, s := range r.strategies {
		if s.Match(name) {
			return s.Build(name)
		}
	}
	return Policy{Name: name}
}

func asciiEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if asciiLower(a[i]) != asciiLower(b[i]) {
			return false
		}
	}
	return true
}

func asciiLower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
