package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medport-labs/medvoice-core/internal/config"
)

// AuthContext carries the portal session token and user for dispatching
// remote actions.
type AuthContext struct {
	Token  string
	UserID string
}

// Provider supplies the current identity, or nil when unauthenticated.
type Provider interface {
	Current() *AuthContext
}

// StaticProvider returns a fixed identity from configuration.
type StaticProvider struct {
	auth *AuthContext
}

func NewStaticProvider(token, userID string) *StaticProvider {
	if token == "" {
		return &StaticProvider{}
	}
	return &StaticProvider{auth: &AuthContext{Token: token, UserID: userID}}
}

func (p *StaticProvider) Current() *AuthContext { return p.auth }

// JWTProvider derives the user ID and expiry from the portal session token.
// The token signature is verified server-side by the actions endpoint; here
// only the claims and expiry are inspected so an expired session reads as
// unauthenticated.
type JWTProvider struct {
	token string
	clock func() time.Time
}

func NewJWTProvider(token string) *JWTProvider {
	return &JWTProvider{token: token, clock: time.Now}
}

func (p *JWTProvider) Current() *AuthContext {
	if p.token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(p.token, claims); err != nil {
		return nil
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if p.clock().After(exp.Time) {
			return nil
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil
	}
	return &AuthContext{Token: p.token, UserID: sub}
}

// FromConfig builds the configured provider.
func FromConfig(cfg config.IdentityConfig) (Provider, error) {
	switch cfg.Mode {
	case "static":
		return NewStaticProvider(cfg.Token, cfg.UserID), nil
	case "jwt":
		return NewJWTProvider(cfg.Token), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}
