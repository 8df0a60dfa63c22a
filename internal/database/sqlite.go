package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/groups"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/migration"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the API owns, in creation order.
func Models() []any {
	return []any{
		&players.Player{},
		&scores.ScoreEntry{},
		&scores.Profile{},
		&groups.Group{},
		&groups.Membership{},
		&migration.PendingMigration{},
		&leaderboard.NotificationReceipt{},
		&migrationRecord{},
	}
}

// OpenSQLite establishes a SQLite connection and performs schema and data migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
