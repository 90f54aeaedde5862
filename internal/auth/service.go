package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-portal/internal/policy"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
	"github.com/odyssey-erp/odyssey-portal/internal/users"
)

// Provisioner links an external identity to an internal user.
type Provisioner interface {
	Provision(ctx context.Context, in users.ProvisionInput) (users.User, bool, error)
}

// Service verifies bearer tokens and provisions users on session exchange.
type Service struct {
	secret      []byte
	issuer      string
	leeway      time.Duration
	provisioner Provisioner
	now         func() time.Time
}

// NewService constructs a new Service. An empty issuer disables the iss check.
func NewService(secret, issuer string, provisioner Provisioner) *Service {
	return &Service{
		secret:      []byte(secret),
		issuer:      issuer,
		leeway:      30 * time.Second,
		provisioner: provisioner,
		now:         time.Now,
	}
}

// VerifyToken parses and validates an HS256 token and returns its principal.
func (s *Service) VerifyToken(raw string) (*policy.Principal, TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims TokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, TokenClaims{}, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
	}
	return claims.Principal(), claims, nil
}

// IssueToken signs claims with the shared secret. Used by the jobs CLI and tests.
func (s *Service) IssueToken(claims TokenClaims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Exchange provisions the user behind a verified token so later requests can
// authenticate with a session cookie.
func (s *Service) Exchange(ctx context.Context, claims TokenClaims) (users.User, bool, error) {
	if strings.TrimSpace(claims.ObjectID) == "" {
		return users.User{}, false, fmt.Errorf("%w: token has no object identifier", shared.ErrInvalidCredentials)
	}
	user, created, err := s.provisioner.Provision(ctx, users.ProvisionInput{
		ExternalToken: claims.ObjectID,
		Name:          claims.Name,
	})
	if err != nil {
		return users.User{}, false, err
	}
	if !user.IsActive {
		return users.User{}, false, fmt.Errorf("%w: user %d is deactivated", shared.ErrInvalidCredentials, user.ID)
	}
	return user, created, nil
}

// SessionPrincipal builds the principal for a stored session, or nil when
// the session is anonymous.
func SessionPrincipal(sess *shared.Session) *policy.Principal {
	if sess.UserID() == 0 {
		return nil
	}
	claims := []policy.Claim{{Type: policy.ClaimUserID, Value: sess.UserIDString()}}
	if name := sess.Name(); name != "" {
		claims = append(claims, policy.Claim{Type: policy.ClaimName, Value: name})
	}
	return policy.NewPrincipal(AuthTypeSession, claims...)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

var errNoBearer = errors.New("auth: no bearer token")
