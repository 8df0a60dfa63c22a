package leaderboard

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opServiceNew       = "leaderboard.service.new"
	opLeaderboard      = "leaderboard.fetch"
	opGhostCleanup     = "leaderboard.ghost_cleanup"
	reasonMissingDeps  = "missing_dependency"
	reasonInvalidInput = "invalid_input"
	reasonLookupFailed = "lookup_failed"
	reasonConstraint   = "constraint_violated"
	reasonMemberFailed = "member_fetch_failed"
	reasonCleanup      = "cleanup_failed"
	fieldGroupCode     = "group_code"
	fieldPlayerID      = "player_id"

	defaultCacheTTL         = 5 * time.Minute
	defaultCacheSize        = 1024
	defaultHistoryLimit     = 30
	defaultFetchConcurrency = 8
	defaultCleanupTimeout   = 30 * time.Second
	defaultScoreCutoff      = scores.PuzzleDate("2026-02-13")
)

var errMissingDependency = errors.New("group directory and score store are required")

// Directory is the slice of the group directory the leaderboard reads and repairs.
type Directory interface {
	Group(ctx context.Context, code string) (groups.Group, bool, error)
	IsMember(ctx context.Context, code string, playerID players.PlayerID) (bool, error)
	Members(ctx context.Context, code string) ([]players.PlayerID, error)
	GroupsFor(ctx context.Context, playerID players.PlayerID) ([]groups.Group, error)
	RemoveMember(ctx context.Context, code string, playerID players.PlayerID) error
}

// ScoreStore is the slice of the score record store the leaderboard reads and repairs.
type ScoreStore interface {
	History(ctx context.Context, playerID players.PlayerID, limit int) (scores.History, error)
	Profile(ctx context.Context, playerID players.PlayerID) (scores.Profile, bool, error)
	MergeHistory(ctx context.Context, target, source players.PlayerID) error
}

// TaskRunner runs detached background work.
type TaskRunner interface {
	Go(name string, task func(ctx context.Context) error)
}

// ServiceConfig describes the dependencies of the leaderboard service.
type ServiceConfig struct {
	Directory        Directory
	Scores           ScoreStore
	Clock            func() time.Time
	Logger           *zap.Logger
	Metrics          *metrics.Collectors
	Runner           TaskRunner
	CacheTTL         time.Duration
	CacheSize        int
	HistoryLimit     int
	FetchConcurrency int
	ScoreCutoff      scores.PuzzleDate
}

// Service assembles group leaderboards.
type Service struct {
	directory        Directory
	scores           ScoreStore
	clock            func() time.Time
	logger           *zap.Logger
	metrics          *metrics.Collectors
	runner           TaskRunner
	cache            *rosterCache
	historyLimit     int
	fetchConcurrency int
	scoreCutoff      scores.PuzzleDate
}

// NewService constructs the leaderboard service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Directory == nil || cfg.Scores == nil {
		return nil, svcerr.New(opServiceNew, reasonMissingDeps, errMissingDependency)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewBackgroundRunner(logger, defaultCleanupTimeout)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	cutoff := cfg.ScoreCutoff
	if cutoff == "" {
		cutoff = defaultScoreCutoff
	}
	return &Service{
		directory:        cfg.Directory,
		scores:           cfg.Scores,
		clock:            clock,
		logger:           logger,
		metrics:          cfg.Metrics,
		runner:           runner,
		cache:            newRosterCache(cacheSize, ttl),
		historyLimit:     historyLimit,
		fetchConcurrency: concurrency,
		scoreCutoff:      cutoff,
	}, nil
}

// Request names the leaderboard a viewer wants to see.
type Request struct {
	Viewer     players.PlayerID
	GroupCode  string
	PuzzleDate scores.PuzzleDate
	Sort       SortKey
	Refresh    bool
}

// Leaderboard returns the group's roster as seen by the viewer, sorted and badge-annotated.
// Only members may view a group.
func (s *Service) Leaderboard(ctx context.Context, request Request) (Leaderboard, error) {
	code, err := groups.NormalizeCode(request.GroupCode)
	if err != nil {
		return Leaderboard{}, svcerr.New(opLeaderboard, reasonInvalidInput, err)
	}
	group, found, err := s.directory.Group(ctx, code)
	if err != nil {
		return Leaderboard{}, svcerr.New(opLeaderboard, reasonLookupFailed, err)
	}
	if !found {
		return Leaderboard{}, svcerr.New(opLeaderboard, reasonConstraint, groups.ErrGroupNotFound)
	}
	member, err := s.directory.IsMember(ctx, code, request.Viewer)
	if err != nil {
		return Leaderboard{}, svcerr.New(opLeaderboard, reasonLookupFailed, err)
	}
	if !member {
		return Leaderboard{}, svcerr.New(opLeaderboard, reasonConstraint, groups.ErrNotMember)
	}

	key := cacheKey{viewer: request.Viewer, groupCode: code, puzzleDate: request.PuzzleDate.String()}
	roster, cached := s.cache.get(key)
	if request.Refresh || !cached {
		cached = false
		roster, err = s.computeRoster(ctx, code, request.Viewer, request.PuzzleDate)
		if err != nil {
			return Leaderboard{}, err
		}
		s.cache.put(key, roster)
	}
	s.metrics.LeaderboardServed(cached)

	sortKey := ParseSortKey(string(request.Sort))
	sorted := Sort(roster.entries, sortKey)
	badges := AssignBadges(sorted, sortKey)
	return Leaderboard{
		GroupCode:   group.Code,
		GroupName:   group.Name,
		MemberCount: group.MemberCount,
		PuzzleDate:  request.PuzzleDate.String(),
		Sort:        sortKey,
		Entries:     sorted,
		Badges:      badges,
		ComputedAt:  roster.computedAt,
		Cached:      cached,
	}, nil
}

// Invalidate drops the viewer's cached rosters for one group.
func (s *Service) Invalidate(viewer players.PlayerID, groupCode string) {
	s.cache.invalidate(viewer, groupCode)
}

// InvalidateViewer drops every roster cached for the viewer.
func (s *Service) InvalidateViewer(viewer players.PlayerID) {
	s.cache.invalidateViewer(viewer)
}

func (s *Service) computeRoster(ctx context.Context, code string, viewer players.PlayerID, today scores.PuzzleDate) (cachedRoster, error) {
	members, err := s.directory.Members(ctx, code)
	if err != nil {
		return cachedRoster{}, svcerr.New(opLeaderboard, reasonLookupFailed, err)
	}

	entries, failed := s.summarizeMembers(ctx, members, today)
	resolved, ghosts := ResolveGhosts(entries, viewer)
	for _, ghost := range ghosts {
		s.scheduleGhostCleanup(code, viewer, ghost.PlayerID)
	}
	s.metrics.RosterComputed(len(resolved), failed)
	s.metrics.GhostsMerged(len(ghosts))
	return cachedRoster{entries: resolved, computedAt: s.clock().UTC()}, nil
}

// summarizeMembers fetches and summarizes members concurrently. A member whose records cannot be
// read is left out; the count of such members is returned.
func (s *Service) summarizeMembers(ctx context.Context, members []players.PlayerID, today scores.PuzzleDate) ([]RosterEntry, int) {
	slots := make([]*RosterEntry, len(members))
	var group errgroup.Group
	group.SetLimit(s.fetchConcurrency)
	for index, memberID := range members {
		group.Go(func() error {
			record, err := s.fetchMember(ctx, memberID)
			if err != nil {
				s.logger.Warn("member skipped",
					zap.String("operation", opLeaderboard),
					zap.String("reason", reasonMemberFailed),
					zap.String(fieldPlayerID, memberID.Short()),
					zap.Error(err))
				return nil
			}
			entry := Summarize(record, today, s.scoreCutoff)
			slots[index] = &entry
			return nil
		})
	}
	_ = group.Wait()

	entries := make([]RosterEntry, 0, len(members))
	failed := 0
	for _, slot := range slots {
		if slot == nil {
			failed++
			continue
		}
		entries = append(entries, *slot)
	}
	return entries, failed
}

func (s *Service) fetchMember(ctx context.Context, memberID players.PlayerID) (MemberRecord, error) {
	history, err := s.scores.History(ctx, memberID, s.historyLimit)
	if err != nil {
		return MemberRecord{}, err
	}
	profile, _, err := s.scores.Profile(ctx, memberID)
	if err != nil {
		return MemberRecord{}, err
	}
	return MemberRecord{PlayerID: memberID, Profile: profile, History: history}, nil
}

// scheduleGhostCleanup folds the ghost's stored record into self's and drops the ghost from the
// group. It runs detached from the request and its failures never reach the caller.
func (s *Service) scheduleGhostCleanup(code string, self, ghost players.PlayerID) {
	s.runner.Go(opGhostCleanup, func(ctx context.Context) error {
		if err := s.scores.MergeHistory(ctx, self, ghost); err != nil {
			s.metrics.GhostCleanupFailed()
			return svcerr.New(opGhostCleanup, reasonCleanup, err)
		}
		if err := s.directory.RemoveMember(ctx, code, ghost); err != nil {
			s.metrics.GhostCleanupFailed()
			return svcerr.New(opGhostCleanup, reasonCleanup, err)
		}
		s.logger.Info("ghost merged",
			zap.String(fieldGroupCode, code),
			zap.String(fieldPlayerID, self.Short()),
			zap.String("ghost_id", ghost.Short()))
		return nil
	})
}
