package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/gin-gonic/gin"
)

type groupPayload struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	CreatedBy   string `json:"created_by"`
}

func newGroupPayload(group groups.Group) groupPayload {
	return groupPayload{
		Code:        group.Code,
		Name:        group.Name,
		MemberCount: group.MemberCount,
		CreatedBy:   group.CreatedBy,
	}
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	ctx := c.Request.Context()
	playerID := callerID(c)
	memberships, err := h.groups.GroupsFor(ctx, playerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	active, err := h.players.ActiveGroup(ctx, playerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]groupPayload, 0, len(memberships))
	for _, group := range memberships {
		payload = append(payload, newGroupPayload(group))
	}
	c.JSON(http.StatusOK, gin.H{
		"groups":            payload,
		"active_group_code": active,
	})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var request createGroupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	group, err := h.groups.Create(c.Request.Context(), callerID(c), request.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newGroupPayload(group))
}

func (h *httpHandler) handleJoinGroup(c *gin.Context) {
	playerID := callerID(c)
	group, err := h.groups.Join(c.Request.Context(), playerID, c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.leaderboard.Invalidate(playerID, group.Code)
	c.JSON(http.StatusOK, newGroupPayload(group))
}

func (h *httpHandler) handleLeaveGroup(c *gin.Context) {
	playerID := callerID(c)
	code, err := groups.NormalizeCode(c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.groups.Leave(c.Request.Context(), playerID, code); err != nil {
		h.writeError(c, err)
		return
	}
	h.leaderboard.Invalidate(playerID, code)
	active, err := h.players.ActiveGroup(c.Request.Context(), playerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": code, "active_group_code": active})
}

type activeGroupRequest struct {
	Code string `json:"code"`
}

// handleSetActiveGroup switches the viewed group. An empty code clears the selection.
func (h *httpHandler) handleSetActiveGroup(c *gin.Context) {
	var request activeGroupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		writeBadRequest(c)
		return
	}
	ctx := c.Request.Context()
	playerID := callerID(c)
	code := ""
	if strings.TrimSpace(request.Code) != "" {
		normalized, err := groups.NormalizeCode(request.Code)
		if err != nil {
			h.writeError(c, err)
			return
		}
		member, err := h.groups.IsMember(ctx, normalized, playerID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if !member {
			h.writeError(c, groups.ErrNotMember)
			return
		}
		code = normalized
	}
	if err := h.players.SetActiveGroup(ctx, playerID, code); err != nil {
		h.writeError(c, err)
		return
	}
	if code != "" {
		h.leaderboard.Invalidate(playerID, code)
	}
	c.JSON(http.StatusOK, gin.H{"active_group_code": code})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	board, err := h.leaderboard.Leaderboard(c.Request.Context(), leaderboard.Request{
		Viewer:     callerID(c),
		GroupCode:  c.Param("code"),
		PuzzleDate: scores.ResolvePuzzleDate(c.Query("puzzle_date"), h.clock()),
		Sort:       leaderboard.ParseSortKey(c.Query("sort")),
		Refresh:    isTruthy(c.Query("refresh")),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *httpHandler) handleNotifications(c *gin.Context) {
	date := scores.ResolvePuzzleDate(c.Query("puzzle_date"), h.clock())
	notifications, err := h.notifier.Pending(c.Request.Context(), callerID(c), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
