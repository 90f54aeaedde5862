// Package auth turns request credentials into a policy principal.
//
// A bearer JWT signed with the shared HS256 secret wins. Without one the
// Redis backed session cookie is consulted. Requests carrying neither get an
// anonymous principal and are rejected later by the policy middleware.
package auth

import (
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-portal/internal/policy"
)

// Authentication types stamped on principals.
const (
	AuthTypeBearer  = "Bearer"
	AuthTypeSession = "Session"
)

// TokenClaims is the JWT body issued by the identity provider.
type TokenClaims struct {
	UserID   string `json:"user_id,omitempty"`
	ObjectID string `json:"http://schemas.microsoft.com/identity/claims/objectidentifier,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal maps the token claims onto principal claims. Empty claims are
// omitted.
func (c TokenClaims) Principal() *policy.Principal {
	var claims []policy.Claim
	if c.UserID != "" {
		claims = append(claims, policy.Claim{Type: policy.ClaimUserID, Value: c.UserID})
	}
	if c.ObjectID != "" {
		claims = append(claims, policy.Claim{Type: policy.ClaimObjectIdentifier, Value: c.ObjectID})
	}
	if c.Name != "" {
		claims = append(claims, policy.Claim{Type: policy.ClaimName, Value: c.Name})
	}
	return policy.NewPrincipal(AuthTypeBearer, claims...)
}
