package scores

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opProfile          = "scores.profile"
	opSetDisplayName   = "scores.set_display_name"
	opSetVerseStats    = "scores.set_verse_stats"
	opDeleteProfile    = "scores.delete_profile"
	maxDisplayNameRune = 30

	// AnonymousName is shown for players who never chose a display name.
	AnonymousName = "Anonymous"
)

// ErrInvalidDisplayName indicates an empty display name after trimming.
var ErrInvalidDisplayName = errors.New("scores: display name must not be empty")

// NormalizeDisplayName trims the name and truncates it to 30 characters.
func NormalizeDisplayName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxDisplayNameRune {
		trimmed = strings.TrimSpace(string([]rune(trimmed)[:maxDisplayNameRune]))
	}
	if trimmed == "" {
		return "", ErrInvalidDisplayName
	}
	return trimmed, nil
}

// Profile returns the player's profile and whether one exists.
func (s *Store) Profile(ctx context.Context, playerID players.PlayerID) (Profile, bool, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where(queryPlayerID, playerID.String()).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{PlayerID: playerID.String()}, false, nil
	}
	if err != nil {
		s.logError(opProfile, reasonQueryFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return Profile{}, false, svcerr.New(opProfile, reasonQueryFailed, err)
	}
	return profile, true, nil
}

// DisplayName returns the stored display name, or "" when none was set.
func (s *Store) DisplayName(ctx context.Context, playerID players.PlayerID) (string, error) {
	profile, _, err := s.Profile(ctx, playerID)
	if err != nil {
		return "", err
	}
	return profile.DisplayName, nil
}

// SetDisplayName stores the normalized name and returns it.
func (s *Store) SetDisplayName(ctx context.Context, playerID players.PlayerID, name string) (string, error) {
	cleanName, err := NormalizeDisplayName(name)
	if err != nil {
		return "", svcerr.New(opSetDisplayName, reasonInvalidInput, err)
	}
	profile := Profile{PlayerID: playerID.String(), DisplayName: cleanName}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: fieldPlayerID}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
		}).
		Create(&profile).Error
	if err != nil {
		s.logError(opSetDisplayName, reasonSaveFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return "", svcerr.New(opSetDisplayName, reasonSaveFailed, err)
	}
	s.logger.Info("display name saved", zap.String(fieldPlayerID, playerID.Short()))
	return cleanName, nil
}

// SetVerseStats records how many verses the player explored and derives the corpus percentage.
func (s *Store) SetVerseStats(ctx context.Context, playerID players.PlayerID, versesExplored int) (Profile, error) {
	if versesExplored < 0 {
		return Profile{}, svcerr.New(opSetVerseStats, reasonInvalidInput, errors.New("verses explored must not be negative"))
	}
	if versesExplored > s.totalVerses {
		versesExplored = s.totalVerses
	}
	profile := Profile{
		PlayerID:       playerID.String(),
		VersesExplored: versesExplored,
		QuranPercent:   QuranPercent(versesExplored, s.totalVerses),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: fieldPlayerID}},
			DoUpdates: clause.AssignmentColumns([]string{"verses_explored", "quran_percent", "updated_at"}),
		}).
		Create(&profile).Error
	if err != nil {
		s.logError(opSetVerseStats, reasonSaveFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return Profile{}, svcerr.New(opSetVerseStats, reasonSaveFailed, err)
	}
	return profile, nil
}

// DeleteProfile removes the player's profile row.
func (s *Store) DeleteProfile(ctx context.Context, playerID players.PlayerID) error {
	if err := s.db.WithContext(ctx).Where(queryPlayerID, playerID.String()).Delete(&Profile{}).Error; err != nil {
		s.logError(opDeleteProfile, reasonDeleteFailed, err, zap.String(fieldPlayerID, playerID.Short()))
		return svcerr.New(opDeleteProfile, reasonDeleteFailed, err)
	}
	return nil
}

// QuranPercent is verses/total as a percentage rounded to one decimal place.
func QuranPercent(verses, total int) float64 {
	if total <= 0 || verses <= 0 {
		return 0
	}
	return math.Round(float64(verses)/float64(total)*1000) / 10
}
