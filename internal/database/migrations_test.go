package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openScoreDatabase(t *testing.T, name string) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(&scores.ScoreEntry{}, &migrationRecord{}))
	return database
}

func TestApplyMigrationsPrunesPreResetScores(t *testing.T) {
	database := openScoreDatabase(t, "migration.db")

	entries := []scores.ScoreEntry{
		{PlayerID: "player-1", PuzzleDate: "2026-02-12", Harf: 5, Total: 5},
		{PlayerID: "player-1", PuzzleDate: "2026-02-13", Harf: 3, Total: 3},
		{PlayerID: "player-2", PuzzleDate: "2026-02-14", Connections: 4, Scramble: 2, Total: 1},
	}
	require.NoError(t, database.Create(&entries).Error)

	require.NoError(t, applyMigrations(database, zap.NewNop()))

	var remaining []scores.ScoreEntry
	require.NoError(t, database.Order("puzzle_date ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, "2026-02-13", remaining[0].PuzzleDate)
	assert.Equal(t, 6, remaining[1].Total)

	for _, name := range []string{migrationPrunePreResetScores, migrationRecomputeTotals} {
		var record migrationRecord
		require.NoError(t, database.Where("name = ?", name).Take(&record).Error, name)
		assert.NotZero(t, record.AppliedAtSeconds, name)
	}
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	database := openScoreDatabase(t, "once.db")
	require.NoError(t, applyMigrations(database, zap.NewNop()))

	late := scores.ScoreEntry{PlayerID: "player-1", PuzzleDate: "2026-01-01", Juz: 2, Total: 2}
	require.NoError(t, database.Create(&late).Error)
	require.NoError(t, applyMigrations(database, zap.NewNop()))

	var count int64
	require.NoError(t, database.Model(&scores.ScoreEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "recorded migrations must not run again")
}

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	database, err := OpenSQLite(filepath.Join(t.TempDir(), "quraniq.db"), zap.NewNop())
	require.NoError(t, err)
	for _, table := range []string{"players", "score_entries", "player_profiles", "groups", "group_memberships", "identity_migrations", "group_notification_receipts", "db_migrations"} {
		assert.True(t, database.Migrator().HasTable(table), table)
	}
}
