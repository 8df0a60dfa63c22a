// Package leaderboard turns a group's raw score records into a ranked, badge-annotated roster.
package leaderboard

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
)

// SortKey selects the ranking order.
type SortKey string

const (
	// SortTotal ranks by period total.
	SortTotal SortKey = "total"
	// SortToday ranks by today's total.
	SortToday SortKey = "today"
	// SortQuran ranks by share of the Quran explored.
	SortQuran SortKey = "quran"
)

// ParseSortKey maps client input to a sort key, defaulting to SortTotal.
func ParseSortKey(raw string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(raw))) {
	case SortToday:
		return SortToday
	case SortQuran:
		return SortQuran
	default:
		return SortTotal
	}
}

// MemberRecord is everything read from the store for one member.
type MemberRecord struct {
	PlayerID players.PlayerID
	Profile  scores.Profile
	History  scores.History
}

// RosterEntry is one resolved human in a group's view.
type RosterEntry struct {
	PlayerID       players.PlayerID  `json:"player_id"`
	DisplayName    string            `json:"display_name"`
	TodayScores    scores.ModeScores `json:"today_scores"`
	TodayTotal     int               `json:"today_total"`
	PeriodTotal    int               `json:"period_total"`
	DaysPlayed     int               `json:"days_played"`
	Streak         int               `json:"streak"`
	AllTimeScores  scores.ModeScores `json:"all_time_scores"`
	VersesExplored int               `json:"verses_explored"`
	QuranPercent   float64           `json:"quran_percent"`
	IsSelf         bool              `json:"is_self"`
	Badges         []scores.GameMode `json:"badges,omitempty"`
}

// Badge marks the top scorer of one mode under a sort context.
type Badge struct {
	Mode     scores.GameMode  `json:"game_mode"`
	PlayerID players.PlayerID `json:"player_id"`
}

// Leaderboard is the rendered view of a group for one viewer.
type Leaderboard struct {
	GroupCode   string        `json:"group_code"`
	GroupName   string        `json:"group_name"`
	MemberCount int           `json:"member_count"`
	PuzzleDate  string        `json:"puzzle_date"`
	Sort        SortKey       `json:"sort"`
	Entries     []RosterEntry `json:"entries"`
	Badges      []Badge       `json:"badges"`
	ComputedAt  time.Time     `json:"computed_at"`
	Cached      bool          `json:"cached"`
}
