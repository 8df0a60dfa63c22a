// Package migration moves a player's groups, name and score history from an old identity to a
// new one after a save code is restored on a fresh install.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opManagerNew       = "migration.manager.new"
	opSchedule         = "migration.schedule"
	opRun              = "migration.run"
	reasonMissingDeps  = "missing_dependency"
	reasonInvalidInput = "invalid_input"
	reasonMarkerRead   = "marker_read_failed"
	reasonMarkerWrite  = "marker_write_failed"
	reasonMarkerDelete = "marker_delete_failed"
	reasonStepFailed   = "step_failed"
	fieldNewPlayerID   = "new_player_id"
	fieldOldPlayerID   = "old_player_id"
	fieldGroupCode     = "group_code"
	queryNewPlayer     = "new_player_id = ?"
)

var (
	errMissingDependency = errors.New("database, directory and score store are required")
	errStepsFailed       = errors.New("one or more migration steps failed")
)

// Directory is the slice of the group directory migration rewires.
type Directory interface {
	Group(ctx context.Context, code string) (groups.Group, bool, error)
	IsMember(ctx context.Context, code string, playerID players.PlayerID) (bool, error)
	SwapMember(ctx context.Context, code string, oldID, newID players.PlayerID) error
	AddMember(ctx context.Context, code string, playerID players.PlayerID) (bool, error)
}

// ScoreStore is the slice of the score record store migration copies and clears.
type ScoreStore interface {
	SetDisplayName(ctx context.Context, playerID players.PlayerID, name string) (string, error)
	FullHistory(ctx context.Context, playerID players.PlayerID) (scores.History, error)
	ReplaceHistory(ctx context.Context, playerID players.PlayerID, history scores.History) error
	DeleteHistory(ctx context.Context, playerID players.PlayerID) error
	DeleteProfile(ctx context.Context, playerID players.PlayerID) error
}

// ActiveGroupStore is consulted so a migrated player lands on one of the restored groups.
type ActiveGroupStore interface {
	ActiveGroup(ctx context.Context, playerID players.PlayerID) (string, error)
	SetActiveGroup(ctx context.Context, playerID players.PlayerID, code string) error
}

// CacheInvalidator drops cached rosters of a viewer.
type CacheInvalidator interface {
	InvalidateViewer(viewer players.PlayerID)
}

// ManagerConfig describes the dependencies of the migration manager.
type ManagerConfig struct {
	Database     *gorm.DB
	Directory    Directory
	Scores       ScoreStore
	ActiveGroups ActiveGroupStore
	Cache        CacheInvalidator
	Metrics      *metrics.Collectors
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Manager schedules and runs identity migrations.
type Manager struct {
	db           *gorm.DB
	directory    Directory
	scores       ScoreStore
	activeGroups ActiveGroupStore
	cache        CacheInvalidator
	metrics      *metrics.Collectors
	clock        func() time.Time
	logger       *zap.Logger
}

// NewManager constructs the migration manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil || cfg.Directory == nil || cfg.Scores == nil {
		return nil, svcerr.New(opManagerNew, reasonMissingDeps, errMissingDependency)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:           cfg.Database,
		directory:    cfg.Directory,
		scores:       cfg.Scores,
		activeGroups: cfg.ActiveGroups,
		cache:        cfg.Cache,
		metrics:      cfg.Metrics,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Schedule stores the pending marker for marker.NewPlayerID, replacing any earlier one.
func (m *Manager) Schedule(ctx context.Context, marker Marker) error {
	if marker.NewPlayerID == "" || marker.OldPlayerID == "" {
		return svcerr.New(opSchedule, reasonInvalidInput, players.ErrInvalidPlayerID)
	}
	codes := marker.GroupCodes
	if codes == nil {
		codes = []string{}
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return svcerr.New(opSchedule, reasonInvalidInput, err)
	}
	pending := PendingMigration{
		NewPlayerID: marker.NewPlayerID.String(),
		OldPlayerID: marker.OldPlayerID.String(),
		GroupCodes:  string(encoded),
		DisplayName: marker.DisplayName,
		CreatedAt:   m.clock().UTC(),
	}
	err = m.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "new_player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"old_player_id", "group_codes", "display_name", "created_at"}),
		}).
		Create(&pending).Error
	if err != nil {
		m.logError(opSchedule, reasonMarkerWrite, err, zap.String(fieldNewPlayerID, marker.NewPlayerID.Short()))
		return svcerr.New(opSchedule, reasonMarkerWrite, err)
	}
	m.logger.Info("identity migration scheduled",
		zap.String(fieldNewPlayerID, marker.NewPlayerID.Short()),
		zap.String(fieldOldPlayerID, marker.OldPlayerID.Short()),
		zap.Int("groups", len(codes)))
	return nil
}

// Pending returns the marker for current, if any.
func (m *Manager) Pending(ctx context.Context, current players.PlayerID) (PendingMigration, bool, error) {
	var pending PendingMigration
	err := m.db.WithContext(ctx).Where(queryNewPlayer, current.String()).Take(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PendingMigration{}, false, nil
	}
	if err != nil {
		m.logError(opRun, reasonMarkerRead, err, zap.String(fieldNewPlayerID, current.Short()))
		return PendingMigration{}, false, svcerr.New(opRun, reasonMarkerRead, err)
	}
	return pending, true, nil
}

// Run applies the pending migration for current. Every step is safe to repeat, so a run that
// fails part way keeps the marker and the next run starts over.
func (m *Manager) Run(ctx context.Context, current players.PlayerID) (Result, error) {
	pending, found, err := m.Pending(ctx, current)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Outcome: OutcomeNone}, nil
	}

	oldID := players.PlayerID(pending.OldPlayerID)
	result := Result{OldPlayerID: oldID.String()}
	if oldID == current {
		if err := m.deleteMarker(ctx, current); err != nil {
			return Result{}, err
		}
		result.Outcome = OutcomeSkipped
		m.metrics.MigrationFinished(string(result.Outcome))
		return result, nil
	}

	logFields := []zap.Field{
		zap.String(fieldNewPlayerID, current.Short()),
		zap.String(fieldOldPlayerID, oldID.Short()),
	}
	failed := false

	if pending.DisplayName != "" {
		if _, err := m.scores.SetDisplayName(ctx, current, pending.DisplayName); err != nil && !errors.Is(err, scores.ErrInvalidDisplayName) {
			m.logError(opRun, reasonStepFailed, err, append(logFields, zap.String("step", "display_name"))...)
			failed = true
		}
	}

	codes, err := pending.Codes()
	if err != nil {
		m.logError(opRun, reasonMarkerRead, err, logFields...)
		failed = true
	}
	for _, code := range codes {
		rejoined, err := m.rejoin(ctx, code, oldID, current)
		if err != nil {
			m.logError(opRun, reasonStepFailed, err, append(logFields, zap.String("step", "rejoin"), zap.String(fieldGroupCode, code))...)
			failed = true
			continue
		}
		if rejoined {
			result.RejoinedGroups = append(result.RejoinedGroups, code)
		} else {
			result.SkippedGroups = append(result.SkippedGroups, code)
		}
	}

	copied, err := m.copyScores(ctx, oldID, current)
	if err != nil {
		m.logError(opRun, reasonStepFailed, err, append(logFields, zap.String("step", "copy_scores"))...)
		failed = true
	}
	result.ScoresCopied = copied

	// Old rows are deleted only when every earlier step succeeded.
	if !failed {
		if err := m.scores.DeleteHistory(ctx, oldID); err != nil {
			m.logError(opRun, reasonStepFailed, err, append(logFields, zap.String("step", "delete_history"))...)
			failed = true
		}
		if err := m.scores.DeleteProfile(ctx, oldID); err != nil {
			m.logError(opRun, reasonStepFailed, err, append(logFields, zap.String("step", "delete_profile"))...)
			failed = true
		}
	}

	m.restoreActiveGroup(ctx, current, result.RejoinedGroups)
	if m.cache != nil {
		m.cache.InvalidateViewer(current)
	}

	if failed {
		result.Outcome = OutcomeDeferred
		m.metrics.MigrationFinished(string(result.Outcome))
		m.logger.Warn("identity migration deferred", logFields...)
		return result, svcerr.New(opRun, reasonStepFailed, errStepsFailed)
	}
	if err := m.deleteMarker(ctx, current); err != nil {
		return Result{}, err
	}
	result.Outcome = OutcomeMigrated
	m.metrics.MigrationFinished(string(result.Outcome))
	m.logger.Info("identity migration complete",
		append(logFields, zap.Int("groups", len(result.RejoinedGroups)), zap.Int("scores", copied))...)
	return result, nil
}

// rejoin puts current into the group in place of oldID. It reports false when the group is gone,
// has no room left, or current already belongs to the maximum number of groups.
func (m *Manager) rejoin(ctx context.Context, code string, oldID, current players.PlayerID) (bool, error) {
	_, found, err := m.directory.Group(ctx, code)
	if err != nil {
		return false, err
	}
	if !found {
		m.logger.Info("migration group missing", zap.String(fieldGroupCode, code))
		return false, nil
	}
	oldMember, err := m.directory.IsMember(ctx, code, oldID)
	if err != nil {
		return false, err
	}
	if oldMember {
		err = m.directory.SwapMember(ctx, code, oldID, current)
	} else {
		_, err = m.directory.AddMember(ctx, code, current)
	}
	switch {
	case errors.Is(err, groups.ErrGroupFull), errors.Is(err, groups.ErrGroupNotFound), errors.Is(err, groups.ErrGroupLimitReached):
		m.logger.Info("migration group unavailable", zap.String(fieldGroupCode, code), zap.Error(err))
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// copyScores overwrites current's record with oldID's. An old identity with no record leaves
// current untouched.
func (m *Manager) copyScores(ctx context.Context, oldID, current players.PlayerID) (int, error) {
	history, err := m.scores.FullHistory(ctx, oldID)
	if err != nil {
		return 0, err
	}
	if len(history) == 0 {
		return 0, nil
	}
	if err := m.scores.ReplaceHistory(ctx, current, history); err != nil {
		return 0, err
	}
	return len(history), nil
}

func (m *Manager) restoreActiveGroup(ctx context.Context, current players.PlayerID, rejoined []string) {
	if m.activeGroups == nil || len(rejoined) == 0 {
		return
	}
	active, err := m.activeGroups.ActiveGroup(ctx, current)
	if err != nil || active != "" {
		return
	}
	if err := m.activeGroups.SetActiveGroup(ctx, current, rejoined[0]); err != nil {
		m.logError(opRun, reasonStepFailed, err, zap.String(fieldNewPlayerID, current.Short()), zap.String("step", "active_group"))
	}
}

func (m *Manager) deleteMarker(ctx context.Context, current players.PlayerID) error {
	if err := m.db.WithContext(ctx).Where(queryNewPlayer, current.String()).Delete(&PendingMigration{}).Error; err != nil {
		m.logError(opRun, reasonMarkerDelete, err, zap.String(fieldNewPlayerID, current.Short()))
		return svcerr.New(opRun, reasonMarkerDelete, err)
	}
	return nil
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("identity migration error", attrs...)
}
