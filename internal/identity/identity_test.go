package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medport-labs/medvoice-core/internal/config"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("tok", "user-1")
	auth := p.Current()
	if auth == nil || auth.Token != "tok" || auth.UserID != "user-1" {
		t.Fatalf("unexpected auth %+v", auth)
	}

	if NewStaticProvider("", "user-1").Current() != nil {
		t.Fatal("empty token must read as unauthenticated")
	}
}

func TestJWTProviderExtractsSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	auth := NewJWTProvider(token).Current()
	if auth == nil {
		t.Fatal("expected auth context")
	}
	if auth.UserID != "user-42" {
		t.Fatalf("unexpected user %q", auth.UserID)
	}
	if auth.Token != token {
		t.Fatal("token must be forwarded unchanged")
	}
}

func TestJWTProviderExpiredToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	p := NewJWTProvider(token)
	if p.Current() != nil {
		t.Fatal("expired session must read as unauthenticated")
	}
}

func TestJWTProviderRejectsGarbage(t *testing.T) {
	if NewJWTProvider("not.a.jwt").Current() != nil {
		t.Fatal("unparseable token must read as unauthenticated")
	}
	if NewJWTProvider("").Current() != nil {
		t.Fatal("empty token must read as unauthenticated")
	}
}

func TestJWTProviderRequiresSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if NewJWTProvider(token).Current() != nil {
		t.Fatal("token without subject must read as unauthenticated")
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(config.IdentityConfig{Mode: "static", Token: "t", UserID: "u"}); err != nil {
		t.Fatalf("static: %v", err)
	}
	if _, err := FromConfig(config.IdentityConfig{Mode: "jwt"}); err != nil {
		t.Fatalf("jwt: %v", err)
	}
	if _, err := FromConfig(config.IdentityConfig{Mode: "oracle"}); err == nil {
		t.Fatal("unknown mode must error")
	}
}
