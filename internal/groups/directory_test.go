package groups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryActiveGroups struct {
	mu     sync.Mutex
	active map[players.PlayerID]string
}

func newMemoryActiveGroups() *memoryActiveGroups {
	return &memoryActiveGroups{active: make(map[players.PlayerID]string)}
}

func (m *memoryActiveGroups) ActiveGroup(_ context.Context, playerID players.PlayerID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[playerID], nil
}

func (m *memoryActiveGroups) SetActiveGroup(_ context.Context, playerID players.PlayerID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[playerID] = code
	return nil
}

func sequenceCodes(codes ...string) CodeGenerator {
	index := 0
	return CodeGeneratorFunc(func() (string, error) {
		if index >= len(codes) {
			return "", errors.New("sequence exhausted")
		}
		code := codes[index]
		index++
		return code, nil
	})
}

type directoryFixture struct {
	directory *Directory
	db        *gorm.DB
	active    *memoryActiveGroups
}

func newTestDirectory(t *testing.T, codes CodeGenerator, maxMembers, maxGroups int) directoryFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Group{}, &Membership{}))

	tick := time.Unix(1771000000, 0)
	active := newMemoryActiveGroups()
	directory, err := NewDirectory(DirectoryConfig{
		Database: db,
		Clock: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
		Codes:              codes,
		ActiveGroups:       active,
		MaxMembers:         maxMembers,
		MaxGroupsPerPlayer: maxGroups,
	})
	require.NoError(t, err)
	return directoryFixture{directory: directory, db: db, active: active}
}

func TestNormalizeCodeAndName(t *testing.T) {
	code, err := NormalizeCode(" abc234 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", code)

	_, err = NormalizeCode("ABC12")
	require.ErrorIs(t, err, ErrInvalidGroupCode)
	_, err = NormalizeCode("ABC1O0")
	require.ErrorIs(t, err, ErrInvalidGroupCode)

	name, err := NormalizeName("  Family  ")
	require.NoError(t, err)
	assert.Equal(t, "Family", name)
	_, err = NormalizeName(" a ")
	require.ErrorIs(t, err, ErrInvalidGroupName)
	long, err := NormalizeName("abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz")
	require.NoError(t, err)
	assert.Len(t, long, 40)
}

func TestRandomCodeGeneratorUsesAlphabet(t *testing.T) {
	generator := NewRandomCodeGenerator()
	for attempt := 0; attempt < 50; attempt++ {
		code, err := generator.NewCode()
		require.NoError(t, err)
		normalized, err := NormalizeCode(code)
		require.NoError(t, err)
		assert.Equal(t, code, normalized)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "AAAAAA", "BBBBBB"), 0, 0)
	ctx := context.Background()

	first, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, 1, first.MemberCount)

	second, err := fixture.directory.Create(ctx, "alice", "Work")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second.Code)

	active, err := fixture.active.ActiveGroup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", active)
}

func TestCreateGivesUpAfterFiveCollisions(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA", "AAAAAA"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "alice", "Another")
	require.ErrorIs(t, err, errCodeExhausted)
}

func TestJoinEnforcesLimits(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "BBBBBB", "CCCCCC"), 2, 2)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)

	_, err = fixture.directory.Join(ctx, "alice", "aaaaaa")
	require.ErrorIs(t, err, ErrAlreadyMember)

	joined, err := fixture.directory.Join(ctx, "bob", "aaaaaa")
	require.NoError(t, err)
	assert.Equal(t, 2, joined.MemberCount)

	_, err = fixture.directory.Join(ctx, "carol", "AAAAAA")
	require.ErrorIs(t, err, ErrGroupFull)

	_, err = fixture.directory.Join(ctx, "carol", "ZZZZZZ")
	require.ErrorIs(t, err, ErrGroupNotFound)

	_, err = fixture.directory.Create(ctx, "bob", "Second")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "bob", "Third")
	require.ErrorIs(t, err, ErrGroupLimitReached)

	active, err := fixture.active.ActiveGroup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", active)
}

func TestLeaveReassignsActiveAndDeletesEmptyGroup(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "BBBBBB"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "alice", "Work")
	require.NoError(t, err)
	_, err = fixture.directory.Join(ctx, "bob", "BBBBBB")
	require.NoError(t, err)

	require.NoError(t, fixture.directory.Leave(ctx, "alice", "BBBBBB"))
	active, err := fixture.active.ActiveGroup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", active)

	group, ok, err := fixture.directory.Group(ctx, "BBBBBB")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, group.MemberCount)

	err = fixture.directory.Leave(ctx, "alice", "BBBBBB")
	require.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, fixture.directory.Leave(ctx, "alice", "AAAAAA"))
	_, ok, err = fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.False(t, ok)
	active, err = fixture.active.ActiveGroup(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMembersAndGroupsForFollowJoinOrder(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "BBBBBB"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "bob", "Work")
	require.NoError(t, err)
	for _, member := range []players.PlayerID{"carol", "dave"} {
		_, err = fixture.directory.Join(ctx, member, "AAAAAA")
		require.NoError(t, err)
	}
	_, err = fixture.directory.Join(ctx, "alice", "BBBBBB")
	require.NoError(t, err)

	members, err := fixture.directory.Members(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, []players.PlayerID{"alice", "carol", "dave"}, members)

	groups, err := fixture.directory.GroupsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "AAAAAA", groups[0].Code)
	assert.Equal(t, "BBBBBB", groups[1].Code)

	member, err := fixture.directory.IsMember(ctx, "BBBBBB", "carol")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAddRemoveAndSwapKeepCountConsistent(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)

	added, err := fixture.directory.AddMember(ctx, "AAAAAA", "bob")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = fixture.directory.AddMember(ctx, "AAAAAA", "bob")
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, fixture.directory.SwapMember(ctx, "AAAAAA", "bob", "bob-new"))
	group, _, err := fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 2, group.MemberCount)

	require.NoError(t, fixture.directory.RemoveMember(ctx, "AAAAAA", "bob-new"))
	require.NoError(t, fixture.directory.RemoveMember(ctx, "AAAAAA", "bob-new"))
	group, _, err = fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, group.MemberCount)

	var rows int64
	require.NoError(t, fixture.db.Model(&Membership{}).Where(queryGroupCode, "AAAAAA").Count(&rows).Error)
	assert.Equal(t, int64(group.MemberCount), rows)

	err = fixture.directory.SwapMember(ctx, "AAAAAA", "ghost", "someone")
	require.ErrorIs(t, err, ErrNotMember)
	_, err = fixture.directory.AddMember(ctx, "ZZZZZZ", "bob")
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMemberCapHoldsAcrossManyJoins(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "owner", "Big")
	require.NoError(t, err)
	full := 0
	for index := 0; index < 25; index++ {
		_, err := fixture.directory.Join(ctx, players.PlayerID(fmt.Sprintf("player-%02d", index)), "AAAAAA")
		if errors.Is(err, ErrGroupFull) {
			full++
			continue
		}
		require.NoError(t, err)
	}
	group, _, err := fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 20, group.MemberCount)
	assert.Equal(t, 6, full)
}

func TestAddAndSwapRespectPlayerGroupLimit(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA", "BBBBBB", "CCCCCC"), 0, 2)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "bob", "Work")
	require.NoError(t, err)
	_, err = fixture.directory.Create(ctx, "bob", "Study")
	require.NoError(t, err)

	added, err := fixture.directory.AddMember(ctx, "AAAAAA", "bob")
	require.ErrorIs(t, err, ErrGroupLimitReached)
	assert.False(t, added)

	err = fixture.directory.SwapMember(ctx, "AAAAAA", "alice", "bob")
	require.ErrorIs(t, err, ErrGroupLimitReached)
	members, err := fixture.directory.Members(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, []players.PlayerID{"alice"}, members)

	// A swap into a group the new identity already belongs to needs no free slot.
	_, err = fixture.directory.AddMember(ctx, "BBBBBB", "alice")
	require.NoError(t, err)
	require.NoError(t, fixture.directory.SwapMember(ctx, "BBBBBB", "alice", "bob"))
	group, _, err := fixture.directory.Group(ctx, "BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, 1, group.MemberCount)
}

func TestRemoveMemberDeletesEmptiedGroup(t *testing.T) {
	fixture := newTestDirectory(t, sequenceCodes("AAAAAA"), 0, 0)
	ctx := context.Background()

	_, err := fixture.directory.Create(ctx, "alice", "Family")
	require.NoError(t, err)
	require.NoError(t, fixture.directory.RemoveMember(ctx, "AAAAAA", "alice"))

	_, found, err := fixture.directory.Group(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.False(t, found)
	var rows int64
	require.NoError(t, fixture.db.Model(&Membership{}).Where(queryGroupCode, "AAAAAA").Count(&rows).Error)
	assert.Zero(t, rows)
}
