package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

var (
	ErrMissingSessionToken   = errors.New("session validator: token required")
	ErrInvalidSessionToken   = errors.New("session validator: invalid token")
	ErrExpiredSessionToken   = errors.New("session validator: token expired")
	ErrMissingSessionSubject = errors.New("session validator: subject required")
)

// SessionValidator validates HS256 session tokens from the Authorization header.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// ValidateToken parses tokenString and returns the player it was issued to.
func (v *SessionValidator) ValidateToken(tokenString string) (players.PlayerID, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingSessionToken
	}

	claims := &PlayerClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredSessionToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidSessionToken
	}
	return playerFromClaims(claims)
}

// ValidateRenewal accepts a token this service signed for renewal, expired or not, and returns
// the player it was issued to.
func (v *SessionValidator) ValidateRenewal(tokenString string) (players.PlayerID, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingSessionToken
	}

	claims := &PlayerClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidSessionToken
	}
	if claims.Issuer != v.issuer || !slices.Contains(claims.Audience, v.audience) {
		return "", ErrInvalidSessionToken
	}
	return playerFromClaims(claims)
}

func playerFromClaims(claims *PlayerClaims) (players.PlayerID, error) {
	if claims.PlayerID == "" || claims.Subject != claims.PlayerID {
		return "", ErrMissingSessionSubject
	}
	playerID, err := players.NewPlayerID(claims.PlayerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	return playerID, nil
}

// ValidateRequest reads the bearer token from r and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (players.PlayerID, error) {
	if r == nil {
		return "", ErrMissingSessionToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingSessionToken
	}
	return v.ValidateToken(header[len(bearerPrefix):])
}
