package scores

import (
	"sort"
	"time"
)

// scoreWrite describes an incoming write for one player and date.
type scoreWrite struct {
	playerID      string
	date          PuzzleDate
	proposed      ModeScores
	streak        int
	refreshStreak bool
}

// writeOutcome captures the decision from resolveScoreWrite.
type writeOutcome struct {
	Changed bool
	Entry   ScoreEntry
}

// resolveScoreWrite ratchets each mode to the higher of the stored and proposed values.
// A stored value is never lowered, and the total is always recomputed from the modes.
func resolveScoreWrite(existing *ScoreEntry, write scoreWrite, appliedAt time.Time) writeOutcome {
	stored := ScoreEntry{
		PlayerID:   write.playerID,
		PuzzleDate: write.date.String(),
	}
	if existing != nil {
		stored = *existing
	}

	merged := stored.Scores()
	changed := existing == nil
	for _, mode := range GameModes {
		incoming := clampCrescents(write.proposed.Get(mode))
		if incoming > merged.Get(mode) {
			merged.Set(mode, incoming)
			changed = true
		}
	}

	updated := stored
	updated.setScores(merged)
	if updated.Total != stored.Total {
		changed = true
	}
	if write.refreshStreak && write.streak != stored.Streak {
		updated.Streak = write.streak
		changed = true
	}
	if changed {
		updated.RecordedAtMs = appliedAt.UnixMilli()
	}

	return writeOutcome{Changed: changed, Entry: updated}
}

// mergeHistories folds source into target keeping, per date, the entry with the higher total.
// It returns the entries of target that must be rewritten, already re-owned by target's player.
func mergeHistories(targetPlayerID string, target, source History) []ScoreEntry {
	byDate := make(map[string]ScoreEntry, len(target))
	for _, entry := range target {
		byDate[entry.PuzzleDate] = entry
	}

	rewrites := make([]ScoreEntry, 0, len(source))
	for _, incoming := range source {
		current, ok := byDate[incoming.PuzzleDate]
		if ok && incoming.Total <= current.Total {
			continue
		}
		adopted := incoming
		adopted.PlayerID = targetPlayerID
		byDate[incoming.PuzzleDate] = adopted
		rewrites = append(rewrites, adopted)
	}
	sort.Slice(rewrites, func(i, j int) bool {
		return rewrites[i].PuzzleDate < rewrites[j].PuzzleDate
	})
	return rewrites
}

func clampCrescents(value int) int {
	if value < 0 {
		return 0
	}
	if value > MaxCrescents {
		return MaxCrescents
	}
	return value
}
