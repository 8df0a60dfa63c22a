package leaderboard

import "github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"

// ResolveGhosts folds every other entry sharing self's display name into self's entry. It returns
// the roster without those entries and the entries that were folded. A roster without self is
// returned unchanged.
func ResolveGhosts(roster []RosterEntry, self players.PlayerID) ([]RosterEntry, []RosterEntry) {
	selfIndex := -1
	for index := range roster {
		if roster[index].PlayerID == self {
			selfIndex = index
			break
		}
	}
	if selfIndex < 0 {
		return roster, nil
	}

	merged := roster[selfIndex]
	merged.IsSelf = true
	resolved := make([]RosterEntry, 0, len(roster))
	var ghosts []RosterEntry
	for index, entry := range roster {
		switch {
		case index == selfIndex:
			resolved = append(resolved, entry)
		case entry.PlayerID != self && entry.DisplayName == merged.DisplayName:
			ghosts = append(ghosts, entry)
			merged = mergeGhost(merged, entry)
		default:
			resolved = append(resolved, entry)
		}
	}
	for index := range resolved {
		if resolved[index].PlayerID == self {
			resolved[index] = merged
			break
		}
	}
	return resolved, ghosts
}

// mergeGhost takes the field-wise maximum of self and ghost. Today's total travels with today's
// scores and the Quran share travels with the verse count.
func mergeGhost(self, ghost RosterEntry) RosterEntry {
	merged := self
	merged.PeriodTotal = max(self.PeriodTotal, ghost.PeriodTotal)
	if ghost.TodayTotal > self.TodayTotal {
		merged.TodayTotal = ghost.TodayTotal
		merged.TodayScores = ghost.TodayScores
	}
	if ghost.QuranPercent > self.QuranPercent {
		merged.QuranPercent = ghost.QuranPercent
		merged.VersesExplored = ghost.VersesExplored
	}
	merged.Streak = max(self.Streak, ghost.Streak)
	merged.AllTimeScores.Connections = max(self.AllTimeScores.Connections, ghost.AllTimeScores.Connections)
	merged.AllTimeScores.Harf = max(self.AllTimeScores.Harf, ghost.AllTimeScores.Harf)
	merged.AllTimeScores.Deduction = max(self.AllTimeScores.Deduction, ghost.AllTimeScores.Deduction)
	merged.AllTimeScores.Scramble = max(self.AllTimeScores.Scramble, ghost.AllTimeScores.Scramble)
	merged.AllTimeScores.Juz = max(self.AllTimeScores.Juz, ghost.AllTimeScores.Juz)
	return merged
}
