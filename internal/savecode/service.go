package savecode

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
)

const (
	opServiceNew       = "savecode.service.new"
	opExport           = "savecode.export"
	opImport           = "savecode.import"
	reasonMissingDeps  = "missing_dependency"
	reasonLookupFailed = "lookup_failed"
	reasonEncodeFailed = "encode_failed"
	reasonInvalidCode  = "invalid_code"
	reasonSchedule     = "schedule_failed"
	fieldPlayerID      = "player_id"
	exportedLayout     = "2006-01-02T15:04:05.000Z07:00"
)

var errMissingDependency = errors.New("directory, display names, active groups and migrations are required")

// GroupLister lists a player's groups.
type GroupLister interface {
	GroupsFor(ctx context.Context, playerID players.PlayerID) ([]groups.Group, error)
}

// DisplayNames reads a player's chosen name.
type DisplayNames interface {
	DisplayName(ctx context.Context, playerID players.PlayerID) (string, error)
}

// ActiveGroupReader reads a player's active group.
type ActiveGroupReader interface {
	ActiveGroup(ctx context.Context, playerID players.PlayerID) (string, error)
}

// Migrations schedules and runs identity migrations.
type Migrations interface {
	Schedule(ctx context.Context, marker migration.Marker) error
	Run(ctx context.Context, current players.PlayerID) (migration.Result, error)
}

// ServiceConfig describes the dependencies of the save code service.
type ServiceConfig struct {
	Groups       GroupLister
	DisplayNames DisplayNames
	ActiveGroups ActiveGroupReader
	Migrations   Migrations
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service exports and imports save codes for authenticated players.
type Service struct {
	groups       GroupLister
	displayNames DisplayNames
	activeGroups ActiveGroupReader
	migrations   Migrations
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService constructs the save code service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Groups == nil || cfg.DisplayNames == nil || cfg.ActiveGroups == nil || cfg.Migrations == nil {
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
	return &Service{
		groups:       cfg.Groups,
		displayNames: cfg.DisplayNames,
		activeGroups: cfg.ActiveGroups,
		migrations:   cfg.Migrations,
		clock:        clock,
		logger:       logger,
	}, nil
}

// ClientState is the device-local progress the client asks to include in an export.
type ClientState struct {
	Stats      json.RawMessage `json:"stats"`
	Verses     []string        `json:"verses"`
	PlayerID   string          `json:"player_id"`
	Theme      string          `json:"theme"`
	Percentile json.RawMessage `json:"percentile"`
}

// Export bundles the client's state with the player's identity, name and groups.
func (s *Service) Export(ctx context.Context, playerID players.PlayerID, state ClientState) (string, error) {
	displayName, err := s.displayNames.DisplayName(ctx, playerID)
	if err != nil {
		return "", svcerr.New(opExport, reasonLookupFailed, err)
	}
	memberships, err := s.groups.GroupsFor(ctx, playerID)
	if err != nil {
		return "", svcerr.New(opExport, reasonLookupFailed, err)
	}
	active, err := s.activeGroups.ActiveGroup(ctx, playerID)
	if err != nil {
		return "", svcerr.New(opExport, reasonLookupFailed, err)
	}

	snapshot := &GroupSnapshot{
		UID:             playerID.String(),
		DisplayName:     displayName,
		Groups:          make(map[string]GroupSummary, len(memberships)),
		ActiveGroupCode: active,
	}
	for _, group := range memberships {
		snapshot.Groups[group.Code] = GroupSummary{Name: group.Name, MemberCount: group.MemberCount}
	}
	theme := state.Theme
	if theme == "" {
		theme = "dark"
	}
	code, err := Encode(Bundle{
		Version:    CurrentVersion,
		Stats:      state.Stats,
		Verses:     Verses{Refs: state.Verses},
		PlayerID:   state.PlayerID,
		Theme:      theme,
		Percentile: state.Percentile,
		Groups:     snapshot,
		Exported:   s.clock().UTC().Format(exportedLayout),
	})
	if err != nil {
		return "", svcerr.New(opExport, reasonEncodeFailed, err)
	}
	s.logger.Info("save code exported", zap.String(fieldPlayerID, playerID.Short()), zap.Int("groups", len(memberships)))
	return code, nil
}

// ImportResult is what the client restores locally plus the migration outcome.
type ImportResult struct {
	Bundle    Bundle            `json:"bundle"`
	Migration *migration.Result `json:"migration,omitempty"`
}

// Import decodes code. When the code was exported by a different identity, the caller inherits
// its groups, name and scores through an identity migration. A migration that fails is reported
// as deferred and retried on the next run.
func (s *Service) Import(ctx context.Context, playerID players.PlayerID, code string) (ImportResult, error) {
	bundle, err := Decode(code)
	if err != nil {
		return ImportResult{}, svcerr.New(opImport, reasonInvalidCode, err)
	}
	result := ImportResult{Bundle: bundle}
	snapshot := bundle.Groups
	if snapshot == nil || snapshot.UID == "" {
		return result, nil
	}

	codes := make([]string, 0, len(snapshot.Groups))
	for groupCode := range snapshot.Groups {
		if normalized, err := groups.NormalizeCode(groupCode); err == nil {
			codes = append(codes, normalized)
		}
	}
	sortCodes(codes, snapshot.ActiveGroupCode)

	err = s.migrations.Schedule(ctx, migration.Marker{
		NewPlayerID: playerID,
		OldPlayerID: players.PlayerID(snapshot.UID),
		GroupCodes:  codes,
		DisplayName: snapshot.DisplayName,
	})
	if err != nil {
		return ImportResult{}, svcerr.New(opImport, reasonSchedule, err)
	}
	outcome, err := s.migrations.Run(ctx, playerID)
	if err != nil {
		s.logger.Warn("migration after import deferred", zap.String(fieldPlayerID, playerID.Short()), zap.Error(err))
		outcome.Outcome = migration.OutcomeDeferred
	}
	result.Migration = &outcome
	return result, nil
}
