// Package server exposes the leaderboard, group, score and save code operations over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/savecode"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const playerIDContextKey = "quraniq_player_id"

var (
	errMissingTokenIssuer = errors.New("token issuer dependency required")
	errMissingSessions    = errors.New("session validator dependency required")
	errMissingServices    = errors.New("player, score, group, leaderboard, notification, save code and migration services are required")
)

// TokenIssuer mints session tokens for players.
type TokenIssuer interface {
	IssuePlayerToken(ctx context.Context, playerID players.PlayerID) (string, int64, error)
}

// SessionValidator resolves the calling player from a request, and the owner of a token
// presented for renewal.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (players.PlayerID, error)
	ValidateRenewal(token string) (players.PlayerID, error)
}

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Tokens         TokenIssuer
	Sessions       SessionValidator
	Players        *players.Service
	Scores         *scores.Store
	Groups         *groups.Directory
	Leaderboard    *leaderboard.Service
	Notifier       *leaderboard.Notifier
	SaveCodes      *savecode.Service
	Migrations     *migration.Manager
	Metrics        *metrics.Collectors
	AllowedOrigins []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving every route.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Players == nil || deps.Scores == nil || deps.Groups == nil || deps.Leaderboard == nil ||
		deps.Notifier == nil || deps.SaveCodes == nil || deps.Migrations == nil {
		return nil, errMissingServices
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	collectors := deps.Metrics
	if collectors == nil {
		collectors = metrics.New()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware(collectors))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:      deps.Tokens,
		sessions:    deps.Sessions,
		players:     deps.Players,
		scores:      deps.Scores,
		groups:      deps.Groups,
		leaderboard: deps.Leaderboard,
		notifier:    deps.Notifier,
		saveCodes:   deps.SaveCodes,
		migrations:  deps.Migrations,
		metrics:     collectors,
		clock:       clock,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(collectors.Handler()))
	router.POST("/auth/anonymous", handler.handleAnonymousAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleGetProfile)
	protected.PUT("/profile/name", handler.handleSetDisplayName)
	protected.PUT("/profile/verses", handler.handleSetVerseStats)
	protected.POST("/scores", handler.handleSubmitScore)
	protected.POST("/scores/backfill", handler.handleBackfill)
	protected.GET("/groups", handler.handleListGroups)
	protected.POST("/groups", handler.handleCreateGroup)
	protected.PUT("/groups/active", handler.handleSetActiveGroup)
	protected.POST("/groups/:code/join", handler.handleJoinGroup)
	protected.POST("/groups/:code/leave", handler.handleLeaveGroup)
	protected.GET("/groups/:code/leaderboard", handler.handleLeaderboard)
	protected.GET("/notifications", handler.handleNotifications)
	protected.POST("/savecode/export", handler.handleExportSaveCode)
	protected.POST("/savecode/import", handler.handleImportSaveCode)
	protected.POST("/migration/run", handler.handleRunMigration)

	return router, nil
}

type httpHandler struct {
	tokens      TokenIssuer
	sessions    SessionValidator
	players     *players.Service
	scores      *scores.Store
	groups      *groups.Directory
	leaderboard *leaderboard.Service
	notifier    *leaderboard.Notifier
	saveCodes   *savecode.Service
	migrations  *migration.Manager
	metrics     *metrics.Collectors
	clock       func() time.Time
	logger      *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func metricsMiddleware(collectors *metrics.Collectors) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collectors.HTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	playerID, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "Sign in again to continue."})
		return
	}
	if err := h.players.Touch(c.Request.Context(), playerID); err != nil {
		h.logger.Warn("player touch failed", zap.String("player_id", playerID.Short()), zap.Error(err))
	}
	c.Set(playerIDContextKey, playerID)
	c.Next()
}

func callerID(c *gin.Context) players.PlayerID {
	value, _ := c.Get(playerIDContextKey)
	playerID, _ := value.(players.PlayerID)
	return playerID
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
