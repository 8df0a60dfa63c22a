package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type anonymousAuthRequest struct {
	PlayerID      string `json:"player_id"`
	PreviousToken string `json:"previous_token"`
}

type authResponsePayload struct {
	PlayerID    string            `json:"player_id"`
	AccessToken string            `json:"access_token"`
	ExpiresIn   int64             `json:"expires_in"`
	TokenType   string            `json:"token_type"`
	Migration   *migration.Result `json:"migration,omitempty"`
}

// handleAnonymousAuth mints a new identity, or renews the session of one the client already holds.
// Renewal needs a token this service signed for that identity; its expiry is not checked.
func (h *httpHandler) handleAnonymousAuth(c *gin.Context) {
	var request anonymousAuthRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			writeBadRequest(c)
			return
		}
	}

	ctx := c.Request.Context()
	var playerID players.PlayerID
	if strings.TrimSpace(request.PlayerID) == "" {
		registered, err := h.players.Register(ctx)
		if err != nil {
			h.writeError(c, err)
			return
		}
		playerID = registered
	} else {
		existing, err := players.NewPlayerID(request.PlayerID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		owner, err := h.sessions.ValidateRenewal(request.PreviousToken)
		if err != nil || owner != existing {
			h.logger.Info("session renewal rejected", zap.String("player_id", existing.Short()), zap.Error(err))
			c.JSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "Sign in again to continue."})
			return
		}
		if err := h.players.Touch(ctx, existing); err != nil {
			h.writeError(c, err)
			return
		}
		playerID = existing
	}

	token, expiresIn, err := h.tokens.IssuePlayerToken(ctx, playerID)
	if err != nil {
		h.logger.Error("failed to issue player token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "token_issue_failed", Message: "Could not sign you in."})
		return
	}

	response := authResponsePayload{
		PlayerID:    playerID.String(),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   auth.TokenType,
	}
	result, err := h.migrations.Run(ctx, playerID)
	if err != nil {
		h.logger.Warn("pending migration deferred", zap.String("player_id", playerID.Short()), zap.Error(err))
	}
	if result.Outcome != "" && result.Outcome != migration.OutcomeNone {
		response.Migration = &result
		h.leaderboard.InvalidateViewer(playerID)
	}
	c.JSON(http.StatusOK, response)
}

type profileResponsePayload struct {
	PlayerID       string  `json:"player_id"`
	DisplayName    *string `json:"display_name"`
	VersesExplored int     `json:"verses_explored"`
	QuranPercent   float64 `json:"quran_percent"`
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	playerID := callerID(c)
	profile, _, err := h.scores.Profile(c.Request.Context(), playerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := profileResponsePayload{
		PlayerID:       playerID.String(),
		VersesExplored: profile.VersesExplored,
		QuranPercent:   profile.QuranPercent,
	}
	if profile.DisplayName != "" {
		name := profile.DisplayName
		response.DisplayName = &name
	}
	c.JSON(http.StatusOK, response)
}

type displayNameRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleSetDisplayName(c *gin.Context) {
	var request displayNameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	playerID := callerID(c)
	name, err := h.scores.SetDisplayName(c.Request.Context(), playerID, request.DisplayName)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.leaderboard.InvalidateViewer(playerID)
	c.JSON(http.StatusOK, gin.H{"display_name": name})
}

type verseStatsRequest struct {
	VersesExplored *int `json:"verses_explored"`
}

func (h *httpHandler) handleSetVerseStats(c *gin.Context) {
	var request verseStatsRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.VersesExplored == nil {
		writeBadRequest(c)
		return
	}
	playerID := callerID(c)
	profile, err := h.scores.SetVerseStats(c.Request.Context(), playerID, *request.VersesExplored)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.leaderboard.InvalidateViewer(playerID)
	c.JSON(http.StatusOK, gin.H{
		"verses_explored": profile.VersesExplored,
		"quran_percent":   profile.QuranPercent,
	})
}
