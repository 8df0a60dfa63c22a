package scores

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew          = "scores.store.new"
	opSubmitScore       = "scores.submit"
	opBackfill          = "scores.backfill"
	opHistory           = "scores.history"
	opReplaceHistory    = "scores.replace_history"
	opMergeHistory      = "scores.merge_history"
	opDeleteHistory     = "scores.delete_history"
	opPruneBefore       = "scores.prune_before"
	fieldPlayerID       = "player_id"
	fieldPuzzleDate     = "puzzle_date"
	queryPlayerID       = fieldPlayerID + " = ?"
	queryPlayerDate     = fieldPlayerID + " = ? AND " + fieldPuzzleDate + " = ?"
	orderDateDesc       = fieldPuzzleDate + " DESC"
	orderDateAsc        = fieldPuzzleDate + " ASC"
	reasonMissingDB     = "missing_database"
	reasonSelectFailed  = "entry_select_failed"
	reasonSaveFailed    = "entry_save_failed"
	reasonQueryFailed   = "query_failed"
	reasonDeleteFailed  = "delete_failed"
	reasonInvalidInput  = "invalid_input"
	defaultTotalVerses  = 6236
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the score record store.
type StoreConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Logger      *zap.Logger
	TotalVerses int
}

// Store persists per-date score entries and player profiles.
type Store struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	totalVerses int
}

// NewStore constructs the score record store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opStoreNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	totalVerses := cfg.TotalVerses
	if totalVerses <= 0 {
		totalVerses = defaultTotalVerses
	}
	return &Store{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		totalVerses: totalVerses,
	}, nil
}

// SubmitScore records crescents for one mode on date. The stored value for the mode only ever
// rises; the total and streak snapshot are refreshed on every call.
func (s *Store) SubmitScore(ctx context.Context, playerID players.PlayerID, date PuzzleDate, mode GameMode, crescents, streak int) (ScoreEntry, error) {
	if crescents < 0 {
		return ScoreEntry{}, svcerr.New(opSubmitScore, reasonInvalidInput, ErrInvalidCrescents)
	}
	var proposed ModeScores
	proposed.Set(mode, crescents)
	outcome, err := s.applyWrite(ctx, opSubmitScore, scoreWrite{
		playerID:      playerID.String(),
		date:          date,
		proposed:      proposed,
		streak:        streak,
		refreshStreak: true,
	})
	if err != nil {
		return ScoreEntry{}, err
	}
	s.logger.Debug("score submitted",
		zap.String(fieldPlayerID, playerID.Short()),
		zap.String("game_mode", string(mode)),
		zap.Int("crescents", crescents),
		zap.Int("total", outcome.Entry.Total))
	return outcome.Entry, nil
}

// Backfill raises any mode whose derived score exceeds the stored one. It reports whether
// anything was written.
func (s *Store) Backfill(ctx context.Context, playerID players.PlayerID, date PuzzleDate, derived ModeScores, streak int) (ScoreEntry, bool, error) {
	var existing ScoreEntry
	err := s.db.WithContext(ctx).Where(queryPlayerDate, playerID.String(), date.String()).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if derived.Total() == 0 {
			return ScoreEntry{PlayerID: playerID.String(), PuzzleDate: date.String()}, false, nil
		}
	case err != nil:
		s.logError(opBackfill, reasonSelectFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return ScoreEntry{}, false, svcerr.New(opBackfill, reasonSelectFailed, err)
	default:
		if !raisesAny(existing.Scores(), derived) {
			return existing, false, nil
		}
	}

	outcome, err := s.applyWrite(ctx, opBackfill, scoreWrite{
		playerID:      playerID.String(),
		date:          date,
		proposed:      derived,
		streak:        streak,
		refreshStreak: true,
	})
	if err != nil {
		return ScoreEntry{}, false, err
	}
	if outcome.Changed {
		s.logger.Info("scores backfilled",
			zap.String(fieldPlayerID, playerID.Short()),
			zap.String(fieldPuzzleDate, date.String()),
			zap.Int("total", outcome.Entry.Total))
	}
	return outcome.Entry, outcome.Changed, nil
}

func (s *Store) applyWrite(ctx context.Context, operation string, write scoreWrite) (writeOutcome, error) {
	var outcome writeOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ScoreEntry
		var existingPtr *ScoreEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryPlayerDate, write.playerID, write.date.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(operation, reasonSelectFailed, err, zap.String(fieldPuzzleDate, write.date.String()))
			return svcerr.New(operation, reasonSelectFailed, err)
		} else {
			existingPtr = &existing
		}

		outcome = resolveScoreWrite(existingPtr, write, s.clock().UTC())
		if !outcome.Changed {
			return nil
		}
		if err := tx.Save(&outcome.Entry).Error; err != nil {
			s.logError(operation, reasonSaveFailed, err, zap.String(fieldPuzzleDate, write.date.String()))
			return svcerr.New(operation, reasonSaveFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return writeOutcome{}, txErr
	}
	return outcome, nil
}

// History returns the most recent limit entries for the player in ascending date order.
// A non-positive limit reads the whole record.
func (s *Store) History(ctx context.Context, playerID players.PlayerID, limit int) (History, error) {
	query := s.db.WithContext(ctx).Where(queryPlayerID, playerID.String())
	if limit > 0 {
		query = query.Order(orderDateDesc).Limit(limit)
	} else {
		query = query.Order(orderDateAsc)
	}
	var entries []ScoreEntry
	if err := query.Find(&entries).Error; err != nil {
		s.logError(opHistory, reasonQueryFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return nil, svcerr.New(opHistory, reasonQueryFailed, err)
	}
	if limit > 0 {
		for left, right := 0, len(entries)-1; left < right; left, right = left+1, right-1 {
			entries[left], entries[right] = entries[right], entries[left]
		}
	}
	return History(entries), nil
}

// FullHistory returns every entry for the player in ascending date order.
func (s *Store) FullHistory(ctx context.Context, playerID players.PlayerID) (History, error) {
	return s.History(ctx, playerID, 0)
}

// ReplaceHistory overwrites the player's record with history, re-owned by playerID.
func (s *Store) ReplaceHistory(ctx context.Context, playerID players.PlayerID, history History) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryPlayerID, playerID.String()).Delete(&ScoreEntry{}).Error; err != nil {
			s.logError(opReplaceHistory, reasonDeleteFailed, err, zap.String(fieldPlayerID, playerID.Short()))
			return svcerr.New(opReplaceHistory, reasonDeleteFailed, err)
		}
		if len(history) == 0 {
			return nil
		}
		copies := make([]ScoreEntry, 0, len(history))
		for _, entry := range history {
			entry.PlayerID = playerID.String()
			entry.Total = entry.Scores().Total()
			copies = append(copies, entry)
		}
		if err := tx.Create(&copies).Error; err != nil {
			s.logError(opReplaceHistory, reasonSaveFailed, err, zap.String(fieldPlayerID, playerID.Short()))
			return svcerr.New(opReplaceHistory, reasonSaveFailed, err)
		}
		return nil
	})
}

// MergeHistory folds source's record into target's, keeping per date the higher total.
// A source with no record is a no-op.
func (s *Store) MergeHistory(ctx context.Context, target, source players.PlayerID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sourceEntries []ScoreEntry
		if err := tx.Where(queryPlayerID, source.String()).Order(orderDateAsc).Find(&sourceEntries).Error; err != nil {
			s.logError(opMergeHistory, reasonQueryFailed, err, zap.String(fieldPlayerID, source.Short()))
			return svcerr.New(opMergeHistory, reasonQueryFailed, err)
		}
		if len(sourceEntries) == 0 {
			return nil
		}
		var targetEntries []ScoreEntry
		if err := tx.Where(queryPlayerID, target.String()).Order(orderDateAsc).Find(&targetEntries).Error; err != nil {
			s.logError(opMergeHistory, reasonQueryFailed, err, zap.String(fieldPlayerID, target.Short()))
			return svcerr.New(opMergeHistory, reasonQueryFailed, err)
		}
		for _, entry := range mergeHistories(target.String(), targetEntries, sourceEntries) {
			if err := tx.Save(&entry).Error; err != nil {
				s.logError(opMergeHistory, reasonSaveFailed, err,
					zap.String(fieldPlayerID, target.Short()),
					zap.String(fieldPuzzleDate, entry.PuzzleDate))
				return svcerr.New(opMergeHistory, reasonSaveFailed, err)
			}
		}
		return nil
	})
}

// DeleteHistory removes every score entry of the player.
func (s *Store) DeleteHistory(ctx context.Context, playerID players.PlayerID) error {
	if err := s.db.WithContext(ctx).Where(queryPlayerID, playerID.String()).Delete(&ScoreEntry{}).Error; err != nil {
		s.logError(opDeleteHistory, reasonDeleteFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return svcerr.New(opDeleteHistory, reasonDeleteFailed, err)
	}
	return nil
}

// PruneBefore deletes every entry dated strictly before cutoff and reports how many went.
func (s *Store) PruneBefore(ctx context.Context, cutoff PuzzleDate) (int64, error) {
	result := s.db.WithContext(ctx).Where(fieldPuzzleDate+" < ?", cutoff.String()).Delete(&ScoreEntry{})
	if result.Error != nil {
		s.logError(opPruneBefore, reasonDeleteFailed, result.Error, zap.String("cutoff", cutoff.String()))
		return 0, svcerr.New(opPruneBefore, reasonDeleteFailed, result.Error)
	}
	s.logger.Info("score entries pruned", zap.String("cutoff", cutoff.String()), zap.Int64("rows", result.RowsAffected))
	return result.RowsAffected, nil
}

func raisesAny(stored, derived ModeScores) bool {
	for _, mode := range GameModes {
		if clampCrescents(derived.Get(mode)) > stored.Get(mode) {
			return true
		}
	}
	return false
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("scores store error", attrs...)
}
