// Package auth issues and validates the HS256 session tokens that bind a request to a player.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * 24 * time.Hour
	// TokenType is returned alongside issued tokens.
	TokenType = "Bearer"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
)

// PlayerClaims is the session token payload.
type PlayerClaims struct {
	PlayerID string `json:"player_id"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs session tokens for anonymous players.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates cfg and constructs a TokenIssuer. A non-positive TTL uses 30 days.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// IssuePlayerToken produces a signed token and its lifetime in seconds.
func (i *TokenIssuer) IssuePlayerToken(_ context.Context, playerID players.PlayerID) (string, int64, error) {
	if playerID == "" {
		return "", 0, ErrMissingSessionSubject
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := PlayerClaims{
		PlayerID: playerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.ttl.Seconds()), nil
}

// Validator returns a SessionValidator accepting the tokens this issuer signs.
func (i *TokenIssuer) Validator() *SessionValidator {
	return &SessionValidator{
		signingSecret: i.signingSecret,
		issuer:        i.issuer,
		audience:      i.audience,
		clock:         i.clock,
	}
}
