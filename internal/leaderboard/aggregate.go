package leaderboard

import (
	"sort"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
)

// Summarize reduces one member's record to roster metrics. Only dates on or after cutoff count
// toward the period total, days played, all-time scores and streak.
func Summarize(member MemberRecord, today, cutoff scores.PuzzleDate) RosterEntry {
	entry := RosterEntry{
		PlayerID:       member.PlayerID,
		DisplayName:    member.Profile.DisplayName,
		VersesExplored: member.Profile.VersesExplored,
		QuranPercent:   member.Profile.QuranPercent,
	}
	if entry.DisplayName == "" {
		entry.DisplayName = scores.AnonymousName
	}

	if todayEntry, ok := member.History.Entry(today); ok {
		entry.TodayScores = todayEntry.Scores()
		entry.TodayTotal = todayEntry.Total
	}

	retained := make(scores.History, 0, len(member.History))
	for _, record := range member.History {
		if record.PuzzleDate >= cutoff.String() {
			retained = append(retained, record)
		}
	}
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].PuzzleDate < retained[j].PuzzleDate
	})

	for _, record := range retained {
		if record.Total > 0 {
			entry.PeriodTotal += record.Total
			entry.DaysPlayed++
		}
		entry.AllTimeScores.Add(record.Scores())
	}
	entry.Streak = currentStreak(retained)
	return entry
}

// currentStreak counts back from the latest retained date while each date scored and the one
// before it in the list is the previous calendar day.
func currentStreak(history scores.History) int {
	streak := 0
	for index := len(history) - 1; index >= 0; index-- {
		if history[index].Total <= 0 {
			break
		}
		streak++
		if index == 0 {
			break
		}
		previous, err := scores.PuzzleDate(history[index].PuzzleDate).Previous()
		if err != nil || history[index-1].PuzzleDate != previous.String() {
			break
		}
	}
	return streak
}
