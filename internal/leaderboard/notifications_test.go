package leaderboard

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestNotifier(t *testing.T, fixture serviceFixture) *Notifier {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&NotificationReceipt{}))

	notifier, err := NewNotifier(NotifierConfig{
		Database:    db,
		Directory:   fixture.directory,
		Leaderboard: fixture.service,
	})
	require.NoError(t, err)
	return notifier
}

func TestNotificationsAreDeliveredOnce(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.directory.addGroup("ABC234", "Family", "viewer", "scorer", "idle")
	fixture.scores.setMember("viewer", "Viewer", entryOn("2026-03-03", scores.ModeScores{Harf: 1}))
	fixture.scores.setMember("scorer", "Bilal", entryOn("2026-03-03", scores.ModeScores{Harf: 4, Juz: 2}))
	fixture.scores.setMember("idle", "Idris", entryOn("2026-03-02", scores.ModeScores{Harf: 4}))
	notifier := newTestNotifier(t, fixture)
	ctx := context.Background()

	first, err := notifier.Pending(ctx, "viewer", today)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "ABC234_scorer_2026-03-03", first[0].Key)
	assert.Equal(t, "Bilal", first[0].PlayerName)
	assert.Equal(t, "Family", first[0].GroupName)
	assert.Equal(t, 6, first[0].Total)

	second, err := notifier.Pending(ctx, "viewer", today)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestNotificationsWithoutGroups(t *testing.T) {
	fixture := newServiceFixture(t)
	notifier := newTestNotifier(t, fixture)

	notifications, err := notifier.Pending(context.Background(), "loner", today)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}
