package scores

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveScoreWriteNeverLowersAMode(t *testing.T) {
	appliedAt := time.UnixMilli(1771000000000)
	existing := &ScoreEntry{PlayerID: "p1", PuzzleDate: "2026-03-01", Connections: 6, Harf: 2, Total: 8}

	outcome := resolveScoreWrite(existing, scoreWrite{
		playerID: "p1",
		date:     "2026-03-01",
		proposed: ModeScores{Connections: 3, Harf: 4},
	}, appliedAt)

	require.True(t, outcome.Changed)
	assert.Equal(t, 6, outcome.Entry.Connections)
	assert.Equal(t, 4, outcome.Entry.Harf)
	assert.Equal(t, 10, outcome.Entry.Total)
	assert.Equal(t, appliedAt.UnixMilli(), outcome.Entry.RecordedAtMs)
}

func TestResolveScoreWriteSequenceKeepsMaximumAndTotal(t *testing.T) {
	writes := []ModeScores{
		{Connections: 2},
		{Connections: 7, Scramble: 1},
		{Connections: 1, Deduction: 5},
		{Scramble: 12},
		{Harf: -4, Juz: 3},
	}
	var stored *ScoreEntry
	for index, proposed := range writes {
		outcome := resolveScoreWrite(stored, scoreWrite{playerID: "p1", date: "2026-03-01", proposed: proposed}, time.UnixMilli(int64(index)))
		entry := outcome.Entry
		stored = &entry
		assert.Equal(t, entry.Scores().Total(), entry.Total, "total drifted after write %d", index)
	}

	require.NotNil(t, stored)
	assert.Equal(t, ModeScores{Connections: 7, Deduction: 5, Scramble: MaxCrescents, Juz: 3}, stored.Scores())
}

func TestResolveScoreWriteUnchangedWhenNothingRises(t *testing.T) {
	existing := &ScoreEntry{PlayerID: "p1", PuzzleDate: "2026-03-01", Harf: 5, Total: 5, Streak: 2, RecordedAtMs: 42}

	outcome := resolveScoreWrite(existing, scoreWrite{
		playerID:      "p1",
		date:          "2026-03-01",
		proposed:      ModeScores{Harf: 3},
		streak:        2,
		refreshStreak: true,
	}, time.UnixMilli(99))

	assert.False(t, outcome.Changed)
	assert.Equal(t, int64(42), outcome.Entry.RecordedAtMs)
}

func TestResolveScoreWriteRefreshesStreakSnapshot(t *testing.T) {
	existing := &ScoreEntry{PlayerID: "p1", PuzzleDate: "2026-03-01", Harf: 5, Total: 5, Streak: 4}

	outcome := resolveScoreWrite(existing, scoreWrite{
		playerID:      "p1",
		date:          "2026-03-01",
		streak:        1,
		refreshStreak: true,
	}, time.UnixMilli(7))

	require.True(t, outcome.Changed)
	assert.Equal(t, 1, outcome.Entry.Streak)
	assert.Equal(t, 5, outcome.Entry.Harf)
}

func TestMergeHistoriesKeepsHigherTotalPerDate(t *testing.T) {
	target := History{
		{PlayerID: "self", PuzzleDate: "2026-03-01", Harf: 5, Total: 5},
		{PlayerID: "self", PuzzleDate: "2026-03-02", Harf: 1, Total: 1},
	}
	source := History{
		{PlayerID: "ghost", PuzzleDate: "2026-03-01", Harf: 3, Total: 3},
		{PlayerID: "ghost", PuzzleDate: "2026-03-02", Juz: 4, Total: 4},
		{PlayerID: "ghost", PuzzleDate: "2026-03-03", Scramble: 2, Total: 2},
	}

	rewrites := mergeHistories("self", target, source)

	require.Len(t, rewrites, 2)
	assert.Equal(t, "2026-03-02", rewrites[0].PuzzleDate)
	assert.Equal(t, 4, rewrites[0].Juz)
	assert.Equal(t, "2026-03-03", rewrites[1].PuzzleDate)
	for _, entry := range rewrites {
		assert.Equal(t, "self", entry.PlayerID)
	}
}
