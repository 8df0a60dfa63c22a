package leaderboard

import (
	"sort"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
)

// Sort returns a copy of roster ordered by key. Entries that tie on every compared field keep
// their input order.
func Sort(roster []RosterEntry, key SortKey) []RosterEntry {
	sorted := make([]RosterEntry, len(roster))
	copy(sorted, roster)
	less := rankOrder(key)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	return sorted
}

func rankOrder(key SortKey) func(a, b RosterEntry) bool {
	switch key {
	case SortToday:
		return func(a, b RosterEntry) bool {
			if a.TodayTotal != b.TodayTotal {
				return a.TodayTotal > b.TodayTotal
			}
			if a.PeriodTotal != b.PeriodTotal {
				return a.PeriodTotal > b.PeriodTotal
			}
			return a.QuranPercent > b.QuranPercent
		}
	case SortQuran:
		return func(a, b RosterEntry) bool {
			if a.QuranPercent != b.QuranPercent {
				return a.QuranPercent > b.QuranPercent
			}
			if a.PeriodTotal != b.PeriodTotal {
				return a.PeriodTotal > b.PeriodTotal
			}
			return a.TodayTotal > b.TodayTotal
		}
	default:
		return func(a, b RosterEntry) bool {
			if a.PeriodTotal != b.PeriodTotal {
				return a.PeriodTotal > b.PeriodTotal
			}
			if a.TodayTotal != b.TodayTotal {
				return a.TodayTotal > b.TodayTotal
			}
			return a.QuranPercent > b.QuranPercent
		}
	}
}

// AssignBadges awards each mode to at most one entry of the sorted roster and records the
// awarded modes on the entries. Under SortToday the primary score is today's and the tie-break is
// all-time; otherwise the two swap. A mode nobody scored in gets no badge.
func AssignBadges(sorted []RosterEntry, key SortKey) []Badge {
	for index := range sorted {
		sorted[index].Badges = nil
	}
	var badges []Badge
	for _, mode := range scores.GameModes {
		leader := -1
		var leaderPrimary, leaderTie int
		for index, entry := range sorted {
			primary, tie := badgeScores(entry, mode, key)
			if leader < 0 {
				leader, leaderPrimary, leaderTie = index, primary, tie
				continue
			}
			if primary > leaderPrimary || (primary == leaderPrimary && primary > 0 && tie > leaderTie) {
				leader, leaderPrimary, leaderTie = index, primary, tie
			}
		}
		if leader < 0 || leaderPrimary <= 0 {
			continue
		}
		sorted[leader].Badges = append(sorted[leader].Badges, mode)
		badges = append(badges, Badge{Mode: mode, PlayerID: sorted[leader].PlayerID})
	}
	return badges
}

func badgeScores(entry RosterEntry, mode scores.GameMode, key SortKey) (int, int) {
	if key == SortToday {
		return entry.TodayScores.Get(mode), entry.AllTimeScores.Get(mode)
	}
	return entry.AllTimeScores.Get(mode), entry.TodayScores.Get(mode)
}
