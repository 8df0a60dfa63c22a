package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/savecode"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleExportSaveCode(c *gin.Context) {
	var request savecode.ClientState
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	code, err := h.saveCodes.Export(c.Request.Context(), callerID(c), request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

type importSaveCodeRequest struct {
	Code string `json:"code"`
}

func (h *httpHandler) handleImportSaveCode(c *gin.Context) {
	var request importSaveCodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	playerID := callerID(c)
	result, err := h.saveCodes.Import(c.Request.Context(), playerID, request.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result.Migration != nil {
		h.leaderboard.InvalidateViewer(playerID)
	}
	c.JSON(http.StatusOK, result)
}

// handleRunMigration retries a pending identity migration. A deferred run is reported with 202.
func (h *httpHandler) handleRunMigration(c *gin.Context) {
	playerID := callerID(c)
	result, err := h.migrations.Run(c.Request.Context(), playerID)
	if err != nil && result.Outcome != migration.OutcomeDeferred {
		h.writeError(c, err)
		return
	}
	if result.Outcome != migration.OutcomeNone {
		h.leaderboard.InvalidateViewer(playerID)
	}
	if result.Outcome == migration.OutcomeDeferred {
		h.logger.Warn("migration deferred", zap.String("player_id", playerID.Short()), zap.Error(err))
		c.JSON(http.StatusAccepted, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
