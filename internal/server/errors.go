package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/savecode"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest = "invalid_request"
	codeInternal       = "internal_error"
	reasonSuffixInput  = ".invalid_input"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{groups.ErrInvalidGroupCode, http.StatusBadRequest, "invalid_group_code", "Group codes are 6 letters or digits."},
	{groups.ErrInvalidGroupName, http.StatusBadRequest, "invalid_group_name", "Group names need at least 2 characters."},
	{groups.ErrGroupNotFound, http.StatusNotFound, "group_not_found", "No group found with that code."},
	{groups.ErrGroupFull, http.StatusConflict, "group_full", "This group is full."},
	{groups.ErrGroupLimitReached, http.StatusConflict, "group_limit_reached", "You can be in at most 5 groups."},
	{groups.ErrAlreadyMember, http.StatusConflict, "already_member", "You are already in this group."},
	{groups.ErrNotMember, http.StatusForbidden, "not_member", "You are not a member of this group."},
	{scores.ErrUnknownGameMode, http.StatusBadRequest, "unknown_game_mode", "That game does not award crescents."},
	{scores.ErrInvalidCrescents, http.StatusBadRequest, "invalid_crescents", "Scores cannot be negative."},
	{scores.ErrInvalidDisplayName, http.StatusBadRequest, "invalid_display_name", "Display names cannot be empty."},
	{savecode.ErrUnsupportedVersion, http.StatusBadRequest, "unsupported_save_code", "This save code was made by a newer version of the app."},
	{savecode.ErrInvalidCode, http.StatusBadRequest, "invalid_save_code", "That save code is not valid."},
	{players.ErrInvalidPlayerID, http.StatusBadRequest, "invalid_player_id", "Player id is not valid."},
}

// writeError maps a service failure onto a status and a stable error code.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			c.JSON(mapping.status, errorPayload{Error: mapping.code, Message: mapping.message})
			return
		}
	}
	code := svcerr.CodeOf(err)
	if strings.HasSuffix(code, reasonSuffixInput) {
		c.JSON(http.StatusBadRequest, errorPayload{Error: codeInvalidRequest, Message: "The request was not valid."})
		return
	}
	if code == "" {
		code = codeInternal
	}
	h.logger.Error("request failed",
		zap.String("route", c.FullPath()),
		zap.String("code", code),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorPayload{Error: code, Message: "Something went wrong. Please try again."})
}

func writeBadRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorPayload{Error: codeInvalidRequest, Message: "The request was not valid."})
}
