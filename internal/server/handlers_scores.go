package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/gin-gonic/gin"
)

type submitScoreRequest struct {
	GameMode   string `json:"game_mode"`
	Crescents  *int   `json:"crescents"`
	Streak     int    `json:"streak"`
	PuzzleDate string `json:"puzzle_date"`
}

type scoreEntryPayload struct {
	PuzzleDate string            `json:"puzzle_date"`
	Scores     scores.ModeScores `json:"scores"`
	Total      int               `json:"total"`
	Streak     int               `json:"streak"`
}

func newScoreEntryPayload(entry scores.ScoreEntry) scoreEntryPayload {
	return scoreEntryPayload{
		PuzzleDate: entry.PuzzleDate,
		Scores:     entry.Scores(),
		Total:      entry.Total,
		Streak:     entry.Streak,
	}
}

func (h *httpHandler) handleSubmitScore(c *gin.Context) {
	var request submitScoreRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Crescents == nil {
		writeBadRequest(c)
		return
	}
	mode, err := scores.ParseGameMode(request.GameMode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	playerID := callerID(c)
	date := scores.ResolvePuzzleDate(request.PuzzleDate, h.clock())
	entry, err := h.scores.SubmitScore(c.Request.Context(), playerID, date, mode, *request.Crescents, request.Streak)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.metrics.ScoreSubmitted(string(mode))
	h.leaderboard.InvalidateViewer(playerID)
	c.JSON(http.StatusOK, newScoreEntryPayload(entry))
}

type backfillRequest struct {
	PuzzleDate string                 `json:"puzzle_date"`
	Streak     int                    `json:"streak"`
	States     scores.LocalGameStates `json:"states"`
}

func (h *httpHandler) handleBackfill(c *gin.Context) {
	var request backfillRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	playerID := callerID(c)
	date := scores.ResolvePuzzleDate(request.PuzzleDate, h.clock())
	entry, written, err := h.scores.Backfill(c.Request.Context(), playerID, date, scores.DeriveScores(request.States), request.Streak)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if written {
		h.metrics.BackfillWritten()
		h.leaderboard.InvalidateViewer(playerID)
	}
	c.JSON(http.StatusOK, gin.H{
		"written": written,
		"entry":   newScoreEntryPayload(entry),
	})
}
