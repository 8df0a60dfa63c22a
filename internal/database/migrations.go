package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/scores"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationPrunePreResetScores = "2026-02-13_prune_pre_reset_scores"
	migrationRecomputeTotals     = "2026-02-20_recompute_score_totals"
	scoreResetDate               = "2026-02-13"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPrunePreResetScores, apply: prunePreResetScores},
		{name: migrationRecomputeTotals, apply: recomputeScoreTotals},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// prunePreResetScores drops every score recorded before the leaderboard reset.
func prunePreResetScores(db *gorm.DB) error {
	return db.Where("puzzle_date < ?", scoreResetDate).Delete(&scores.ScoreEntry{}).Error
}

// recomputeScoreTotals rewrites totals from the per-mode columns.
func recomputeScoreTotals(db *gorm.DB) error {
	return db.Model(&scores.ScoreEntry{}).
		Where("total <> connections + harf + deduction + scramble + juz").
		Update("total", gorm.Expr("connections + harf + deduction + scramble + juz")).Error
}
