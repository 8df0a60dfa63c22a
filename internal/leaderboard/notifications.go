package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opNotifierNew     = "leaderboard.notifier.new"
	opNotifications   = "leaderboard.notifications"
	reasonReceiptFail = "receipt_failed"
	notificationScore = "score"
)

var errMissingNotifierDeps = errors.New("database, directory and leaderboard service are required")

// NotificationReceipt remembers that a viewer was told about one notice.
type NotificationReceipt struct {
	ViewerID        string `gorm:"column:viewer_id;primaryKey;size:190;not null"`
	NotificationKey string `gorm:"column:notification_key;primaryKey;size:220;not null"`
	CreatedAtS      int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NotificationReceipt) TableName() string {
	return "group_notification_receipts"
}

// Notification tells a viewer that a fellow member scored on the puzzle date.
type Notification struct {
	Type       string           `json:"type"`
	Key        string           `json:"key"`
	GroupCode  string           `json:"group_code"`
	GroupName  string           `json:"group_name"`
	PlayerID   players.PlayerID `json:"player_id"`
	PlayerName string           `json:"player_name"`
	Total      int              `json:"total"`
}

// NotifierConfig describes the dependencies of the notifier.
type NotifierConfig struct {
	Database    *gorm.DB
	Directory   Directory
	Leaderboard *Service
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Notifier derives "member scored today" notices from the viewer's group rosters.
type Notifier struct {
	db          *gorm.DB
	directory   Directory
	leaderboard *Service
	clock       func() time.Time
	logger      *zap.Logger
}

// NewNotifier constructs the notifier.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Database == nil || cfg.Directory == nil || cfg.Leaderboard == nil {
		return nil, svcerr.New(opNotifierNew, reasonMissingDeps, errMissingNotifierDeps)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		db:          cfg.Database,
		directory:   cfg.Directory,
		leaderboard: cfg.Leaderboard,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Pending returns the notices the viewer has not received yet and marks them received. Each
// (group, member, date) yields at most one notice per viewer. A group that fails to load is skipped.
func (n *Notifier) Pending(ctx context.Context, viewer players.PlayerID, date scores.PuzzleDate) ([]Notification, error) {
	memberships, err := n.directory.GroupsFor(ctx, viewer)
	if err != nil {
		return nil, svcerr.New(opNotifications, reasonLookupFailed, err)
	}

	notifications := make([]Notification, 0)
	for _, group := range memberships {
		board, err := n.leaderboard.Leaderboard(ctx, Request{Viewer: viewer, GroupCode: group.Code, PuzzleDate: date})
		if err != nil {
			n.logger.Warn("notification group skipped",
				zap.String("operation", opNotifications),
				zap.String(fieldGroupCode, group.Code),
				zap.Error(err))
			continue
		}
		for _, entry := range board.Entries {
			if entry.IsSelf || entry.PlayerID == viewer || entry.TodayTotal <= 0 {
				continue
			}
			key := fmt.Sprintf("%s_%s_%s", group.Code, entry.PlayerID, date)
			fresh, err := n.recordReceipt(ctx, viewer, key)
			if err != nil {
				return nil, err
			}
			if !fresh {
				continue
			}
			notifications = append(notifications, Notification{
				Type:       notificationScore,
				Key:        key,
				GroupCode:  group.Code,
				GroupName:  group.Name,
				PlayerID:   entry.PlayerID,
				PlayerName: entry.DisplayName,
				Total:      entry.TodayTotal,
			})
		}
	}
	return notifications, nil
}

func (n *Notifier) recordReceipt(ctx context.Context, viewer players.PlayerID, key string) (bool, error) {
	receipt := NotificationReceipt{ViewerID: viewer.String(), NotificationKey: key, CreatedAtS: n.clock().UTC().Unix()}
	result := n.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
	if result.Error != nil {
		n.logger.Error("notification receipt failed",
			zap.String("operation", opNotifications),
			zap.String("reason", reasonReceiptFail),
			zap.String(fieldPlayerID, viewer.Short()),
			zap.Error(result.Error))
		return false, svcerr.New(opNotifications, reasonReceiptFail, result.Error)
	}
	return result.RowsAffected > 0, nil
}
