package players

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "players.service.new"
	opRegister        = "players.register"
	opTouch           = "players.touch"
	opActiveGroup     = "players.active_group"
	opSetActiveGroup  = "players.set_active_group"
	reasonMissingDB   = "missing_database"
	reasonIDFailed    = "id_generation_failed"
	reasonInsert      = "insert_failed"
	reasonQueryFailed = "query_failed"
	reasonUpdate      = "update_failed"

	defaultTouchInterval = 10 * time.Minute
	defaultSeenCapacity  = 10000
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceConfig describes the dependencies required for identity issuance.
// TouchInterval bounds how often last_seen_at is rewritten for one player; SeenCapacity bounds
// how many players the service remembers between writes.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	Logger        *zap.Logger
	TouchInterval time.Duration
	SeenCapacity  int
}

// Service issues anonymous player identities and tracks each player's active group.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider    IDProvider
	logger        *zap.Logger
	touchInterval time.Duration
	lastWritten   *lru.Cache[PlayerID, time.Time]
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, svcerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	touchInterval := cfg.TouchInterval
	if touchInterval <= 0 {
		touchInterval = defaultTouchInterval
	}
	capacity := cfg.SeenCapacity
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	lastWritten, err := lru.New[PlayerID, time.Time](capacity)
	if err != nil {
		return nil, svcerr.New(opServiceNew, "cache_failed", err)
	}
	return &Service{
		db:            cfg.Database,
		now:           clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
		touchInterval: touchInterval,
		lastWritten:   lastWritten,
	}, nil
}

// Register mints a new anonymous identity.
func (s *Service) Register(ctx context.Context) (PlayerID, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, reasonIDFailed, err)
		return "", svcerr.New(opRegister, reasonIDFailed, err)
	}
	playerID, err := NewPlayerID(rawID)
	if err != nil {
		s.logError(opRegister, reasonIDFailed, err)
		return "", svcerr.New(opRegister, reasonIDFailed, err)
	}
	now := s.now().UTC()
	player := Player{PlayerID: playerID.String(), LastSeenAt: now}
	if err := s.db.WithContext(ctx).Create(&player).Error; err != nil {
		s.logError(opRegister, reasonInsert, err)
		return "", svcerr.New(opRegister, reasonInsert, err)
	}
	s.lastWritten.Add(playerID, now)
	s.logger.Info("player registered", zap.String("player_id", playerID.Short()))
	return playerID, nil
}

// Touch records activity for the identity, creating its row when an older client presents an
// identity this store has not seen. last_seen_at is rewritten at most once per touch interval.
func (s *Service) Touch(ctx context.Context, playerID PlayerID) error {
	now := s.now().UTC()
	if written, ok := s.lastWritten.Get(playerID); ok && now.Sub(written) < s.touchInterval {
		return nil
	}
	player := Player{PlayerID: playerID.String(), LastSeenAt: now}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
		}).
		Create(&player).Error
	if err != nil {
		s.logError(opTouch, reasonUpdate, err, zap.String("player_id", playerID.Short()))
		return svcerr.New(opTouch, reasonUpdate, err)
	}
	s.lastWritten.Add(playerID, now)
	return nil
}

// ActiveGroup returns the group code the player last selected, or "" when none.
func (s *Service) ActiveGroup(ctx context.Context, playerID PlayerID) (string, error) {
	var player Player
	err := s.db.WithContext(ctx).Where("player_id = ?", playerID.String()).Take(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		s.logError(opActiveGroup, reasonQueryFailed, err, zap.String("player_id", playerID.Short()))
		return "", svcerr.New(opActiveGroup, reasonQueryFailed, err)
	}
	return player.ActiveGroupCode, nil
}

// SetActiveGroup stores the player's active group code; "" clears it.
func (s *Service) SetActiveGroup(ctx context.Context, playerID PlayerID, code string) error {
	now := s.now().UTC()
	player := Player{PlayerID: playerID.String(), ActiveGroupCode: code, LastSeenAt: now}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active_group_code", "last_seen_at"}),
		}).
		Create(&player).Error
	if err != nil {
		s.logError(opSetActiveGroup, reasonUpdate, err, zap.String("player_id", playerID.Short()))
		return svcerr.New(opSetActiveGroup, reasonUpdate, err)
	}
	s.lastWritten.Add(playerID, now)
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("players service error", attrs...)
}
