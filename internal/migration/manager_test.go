package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type flakyScores struct {
	*scores.Store
	failReplace bool
}

func (f *flakyScores) ReplaceHistory(ctx context.Context, playerID players.PlayerID, history scores.History) error {
	if f.failReplace {
		return errors.New("replace rejected")
	}
	return f.Store.ReplaceHistory(ctx, playerID, history)
}

type recordingInvalidator struct {
	viewers []players.PlayerID
}

func (r *recordingInvalidator) InvalidateViewer(viewer players.PlayerID) {
	r.viewers = append(r.viewers, viewer)
}

type migrationFixture struct {
	manager   *Manager
	db        *gorm.DB
	directory *groups.Directory
	store     *scores.Store
	flaky     *flakyScores
	players   *players.Service
	cache     *recordingInvalidator
}

type sequenceProvider struct {
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.next++
	return "generated-" + string(rune('a'+p.next)), nil
}

func newMigrationFixture(t *testing.T) migrationFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&players.Player{},
		&scores.ScoreEntry{},
		&scores.Profile{},
		&groups.Group{},
		&groups.Membership{},
		&PendingMigration{},
	))

	clock := func() time.Time { return time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC) }
	playerService, err := players.NewService(players.ServiceConfig{Database: db, Clock: clock, IDProvider: &sequenceProvider{}})
	require.NoError(t, err)
	store, err := scores.NewStore(scores.StoreConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	codes := []string{"AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD", "EEEEEE", "FFFFFF", "GGGGGG"}
	directory, err := groups.NewDirectory(groups.DirectoryConfig{
		Database:     db,
		Clock:        clock,
		ActiveGroups: playerService,
		Codes: groups.CodeGeneratorFunc(func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}),
	})
	require.NoError(t, err)

	flaky := &flakyScores{Store: store}
	cache := &recordingInvalidator{}
	manager, err := NewManager(ManagerConfig{
		Database:     db,
		Directory:    directory,
		Scores:       flaky,
		ActiveGroups: playerService,
		Cache:        cache,
		Clock:        clock,
	})
	require.NoError(t, err)
	return migrationFixture{
		manager:   manager,
		db:        db,
		directory: directory,
		store:     store,
		flaky:     flaky,
		players:   playerService,
		cache:     cache,
	}
}

// seedOldIdentity builds the state a save code was exported from: "old" is in AAAAAA alongside
// "friend", was pruned from BBBBBB by a ghost cleanup, and has two dated scores.
func seedOldIdentity(t *testing.T, fixture migrationFixture) {
	t.Helper()
	ctx := context.Background()
	_, err := fixture.directory.Create(ctx, "old", "Family")
	require.NoError(t, err)
	_, err = fixture.directory.Join(ctx, "friend", "AAAAAA")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "friend", "Study")
	require.NoError(t, err)
	_, err = fixture.store.SetDisplayName(ctx, "old", "Khadija")
	require.NoError(t, err)
	_, err = fixture.store.SubmitScore(ctx, "old", "2026-03-01", scores.ModeHarf, 5, 1)
	require.NoError(t, err)
	_, err = fixture.store.SubmitScore(ctx, "old", "2026-03-02", scores.ModeJuz, 3, 2)
	require.NoError(t, err)
}

func scheduleRestore(t *testing.T, fixture migrationFixture) {
	t.Helper()
	require.NoError(t, fixture.manager.Schedule(context.Background(), Marker{
		NewPlayerID: "new",
		OldPlayerID: "old",
		GroupCodes:  []string{"AAAAAA", "BBBBBB", "ZZZZZZ"},
		DisplayName: "Khadija",
	}))
}

type observedState struct {
	membersA    []players.PlayerID
	membersB    []players.PlayerID
	countA      int
	countB      int
	newName     string
	newHistory  int
	oldHistory  int
	activeGroup string
}

func observe(t *testing.T, fixture migrationFixture) observedState {
	t.Helper()
	ctx := context.Background()
	var state observedState
	var err error
	state.membersA, err = fixture.directory.Members(ctx, "AAAAAA")
	require.NoError(t, err)
	state.membersB, err = fixture.directory.Members(ctx, "BBBBBB")
	require.NoError(t, err)
	groupA, _, err := fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	groupB, _, err := fixture.directory.Group(ctx, "BBBBBB")
	require.NoError(t, err)
	state.countA, state.countB = groupA.MemberCount, groupB.MemberCount
	state.newName, err = fixture.store.DisplayName(ctx, "new")
	require.NoError(t, err)
	newHistory, err := fixture.store.FullHistory(ctx, "new")
	require.NoError(t, err)
	oldHistory, err := fixture.store.FullHistory(ctx, "old")
	require.NoError(t, err)
	state.newHistory, state.oldHistory = len(newHistory), len(oldHistory)
	state.activeGroup, err = fixture.players.ActiveGroup(ctx, "new")
	require.NoError(t, err)
	return state
}

func TestRunWithoutMarker(t *testing.T) {
	fixture := newMigrationFixture(t)

	result, err := fixture.manager.Run(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, result.Outcome)
}

func TestRunDiscardsMarkerForSameIdentity(t *testing.T) {
	fixture := newMigrationFixture(t)
	ctx := context.Background()
	require.NoError(t, fixture.manager.Schedule(ctx, Marker{NewPlayerID: "same", OldPlayerID: "same"}))

	result, err := fixture.manager.Run(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)

	_, pending, err := fixture.manager.Pending(ctx, "same")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRunMovesGroupsNameAndScores(t *testing.T) {
	fixture := newMigrationFixture(t)
	seedOldIdentity(t, fixture)
	scheduleRestore(t, fixture)

	result, err := fixture.manager.Run(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, result.Outcome)
	assert.Equal(t, []string{"AAAAAA", "BBBBBB"}, result.RejoinedGroups)
	assert.Equal(t, []string{"ZZZZZZ"}, result.SkippedGroups)
	assert.Equal(t, 2, result.ScoresCopied)

	state := observe(t, fixture)
	assert.ElementsMatch(t, []players.PlayerID{"new", "friend"}, state.membersA)
	assert.Equal(t, 2, state.countA)
	assert.ElementsMatch(t, []players.PlayerID{"friend", "new"}, state.membersB)
	assert.Equal(t, 2, state.countB)
	assert.Equal(t, "Khadija", state.newName)
	assert.Equal(t, 2, state.newHistory)
	assert.Zero(t, state.oldHistory)
	assert.Equal(t, "AAAAAA", state.activeGroup)
	assert.Equal(t, []players.PlayerID{"new"}, fixture.cache.viewers)

	_, pending, err := fixture.manager.Pending(context.Background(), "new")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRunTwiceMatchesRunningOnce(t *testing.T) {
	once := newMigrationFixture(t)
	seedOldIdentity(t, once)
	scheduleRestore(t, once)
	_, err := once.manager.Run(context.Background(), "new")
	require.NoError(t, err)

	twice := newMigrationFixture(t)
	seedOldIdentity(t, twice)
	scheduleRestore(t, twice)
	_, err = twice.manager.Run(context.Background(), "new")
	require.NoError(t, err)
	scheduleRestore(t, twice)
	result, err := twice.manager.Run(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, result.Outcome)

	assert.Equal(t, observe(t, once), observe(t, twice))
}

func TestFailedStepKeepsMarkerAndRetrySucceeds(t *testing.T) {
	fixture := newMigrationFixture(t)
	seedOldIdentity(t, fixture)
	scheduleRestore(t, fixture)
	fixture.flaky.failReplace = true
	ctx := context.Background()

	result, err := fixture.manager.Run(ctx, "new")
	require.Error(t, err)
	assert.Equal(t, OutcomeDeferred, result.Outcome)
	_, pending, err := fixture.manager.Pending(ctx, "new")
	require.NoError(t, err)
	assert.True(t, pending)
	oldHistory, err := fixture.store.FullHistory(ctx, "old")
	require.NoError(t, err)
	assert.Len(t, oldHistory, 2)

	fixture.flaky.failReplace = false
	result, err = fixture.manager.Run(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, result.Outcome)

	state := observe(t, fixture)
	assert.Equal(t, 2, state.countA)
	assert.Equal(t, 2, state.countB)
	assert.Equal(t, 2, state.newHistory)
	assert.Zero(t, state.oldHistory)
}

func TestScheduleRejectsEmptyIdentity(t *testing.T) {
	fixture := newMigrationFixture(t)

	err := fixture.manager.Schedule(context.Background(), Marker{NewPlayerID: "new"})
	require.ErrorIs(t, err, players.ErrInvalidPlayerID)
}

func TestRunSkipsGroupsBeyondPlayerLimit(t *testing.T) {
	fixture := newMigrationFixture(t)
	ctx := context.Background()
	seedOldIdentity(t, fixture)
	for _, name := range []string{"One", "Two", "Three", "Four", "Five"} {
		_, err := fixture.directory.Create(ctx, "new", name)
		require.NoError(t, err)
	}
	scheduleRestore(t, fixture)

	result, err := fixture.manager.Run(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, result.Outcome)
	assert.Empty(t, result.RejoinedGroups)
	assert.Equal(t, []string{"AAAAAA", "BBBBBB", "ZZZZZZ"}, result.SkippedGroups)

	joined, err := fixture.directory.GroupsFor(ctx, "new")
	require.NoError(t, err)
	assert.Len(t, joined, 5)

	state := observe(t, fixture)
	assert.ElementsMatch(t, []players.PlayerID{"old", "friend"}, state.membersA)
	assert.Equal(t, 2, state.countA)
	assert.Equal(t, []players.PlayerID{"friend"}, state.membersB)
	assert.Equal(t, 2, state.newHistory)
	assert.Zero(t, state.oldHistory)
}
