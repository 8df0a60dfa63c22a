package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "super-secret"
	testIssuer        = "quraniq-api"
	testAudience      = "quraniq-web"
	testPlayerID      = "0192f0c4-7b7a-7d4e-8f57-1c2d3e4f5a6b"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesPlayerTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssuePlayerToken(context.Background(), testPlayerID)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &PlayerClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSigningSecret), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.PlayerID != testPlayerID || claims.Subject != testPlayerID {
		t.Fatalf("unexpected player claims %+v", claims)
	}
	if claims.Issuer != testIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsEmptyPlayer(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	if _, _, err := issuer.IssuePlayerToken(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty player id")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := map[string]TokenIssuerConfig{
		"missing secret":   {Issuer: testIssuer, Audience: testAudience},
		"missing issuer":   {SigningSecret: []byte("secret"), Audience: testAudience},
		"missing audience": {SigningSecret: []byte("secret"), Issuer: testIssuer, Audience: " "},
	}
	for name, cfg := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewTokenIssuer(cfg); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}

func TestNewTokenIssuerDefaultsTTL(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	_, expiresIn, err := issuer.IssuePlayerToken(context.Background(), testPlayerID)
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if expiresIn != int64(defaultTokenTTL.Seconds()) {
		t.Fatalf("expected default ttl, got %d seconds", expiresIn)
	}
}
