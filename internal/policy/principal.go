package policy

import "context"

// Claim types read from the authenticated principal.
const (
	// ClaimUserID carries the numeric internal user id.
	ClaimUserID = "user_id"
	// ClaimObjectIdentifier carries the identity provider's object id, stored
	// on the user as its external token.
	ClaimObjectIdentifier = "http://schemas.microsoft.com/identity/claims/objectidentifier"
	// ClaimName carries the display name.
	ClaimName = "name"
)

// Claim is a typed statement about the principal.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Principal is the authenticated caller as seen by the authorization layer.
type Principal struct {
	// AuthenticationType names the scheme that authenticated the caller, for
	// example "bearer" or "session". Empty means anonymous.
	AuthenticationType string
	Claims             []Claim
}

// NewPrincipal returns a principal authenticated by authType.
func NewPrincipal(authType string, claims ...Claim) *Principal {
	return &Principal{AuthenticationType: authType, Claims: claims}
}

// IsAuthenticated reports whether the principal was authenticated.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.AuthenticationType != ""
}

// FindFirst returns the first non-empty claim value of typ.
func (p *Principal) FindFirst(typ string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, c := range p.Claims {
		if c.Type == typ && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
