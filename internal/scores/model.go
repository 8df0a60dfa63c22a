package scores

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GameMode names one of the five daily puzzles that award crescents.
type GameMode string

const (
	// ModeConnections is the verse-grouping puzzle.
	ModeConnections GameMode = "connections"
	// ModeHarf is the letter-guessing puzzle, previously called wordle.
	ModeHarf GameMode = "harf"
	// ModeDeduction is the "who am I" clue puzzle.
	ModeDeduction GameMode = "deduction"
	// ModeScramble is the word scramble.
	ModeScramble GameMode = "scramble"
	// ModeJuz is the juz journey puzzle.
	ModeJuz GameMode = "juz"
)

// MaxCrescents bounds a single mode's daily score.
const MaxCrescents = 8

const puzzleDateLayout = "2006-01-02"

// GameModes lists every scored mode in display order.
var GameModes = []GameMode{ModeConnections, ModeHarf, ModeDeduction, ModeScramble, ModeJuz}

var (
	// ErrUnknownGameMode indicates the client named a mode that carries no score field.
	ErrUnknownGameMode = errors.New("scores: unknown game mode")
	// ErrInvalidPuzzleDate indicates a date that is not YYYY-MM-DD.
	ErrInvalidPuzzleDate = errors.New("scores: invalid puzzle date")
	// ErrInvalidCrescents indicates a negative score.
	ErrInvalidCrescents = errors.New("scores: invalid crescent count")
)

// ParseGameMode maps a client game name to its score field.
func ParseGameMode(raw string) (GameMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "connections":
		return ModeConnections, nil
	case "harf", "wordle":
		return ModeHarf, nil
	case "deduction":
		return ModeDeduction, nil
	case "scramble":
		return ModeScramble, nil
	case "juz":
		return ModeJuz, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGameMode, raw)
	}
}

// PuzzleDate is the canonical date embedded in the daily puzzle content.
type PuzzleDate string

// NewPuzzleDate validates a YYYY-MM-DD string.
func NewPuzzleDate(raw string) (PuzzleDate, error) {
	trimmed := strings.TrimSpace(raw)
	if _, err := time.Parse(puzzleDateLayout, trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPuzzleDate, raw)
	}
	return PuzzleDate(trimmed), nil
}

// ResolvePuzzleDate prefers the client's active puzzle date and falls back to the UTC date of now.
func ResolvePuzzleDate(raw string, now time.Time) PuzzleDate {
	if date, err := NewPuzzleDate(raw); err == nil {
		return date
	}
	return PuzzleDate(now.UTC().Format(puzzleDateLayout))
}

// String returns the date string.
func (d PuzzleDate) String() string {
	return string(d)
}

// Previous returns the calendar day before d.
func (d PuzzleDate) Previous() (PuzzleDate, error) {
	parsed, err := time.Parse(puzzleDateLayout, string(d))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPuzzleDate, string(d))
	}
	return PuzzleDate(parsed.AddDate(0, 0, -1).Format(puzzleDateLayout)), nil
}

// ModeScores holds one crescent count per game mode.
type ModeScores struct {
	Connections int `json:"connections"`
	Harf        int `json:"harf"`
	Deduction   int `json:"deduction"`
	Scramble    int `json:"scramble"`
	Juz         int `json:"juz"`
}

// Get returns the score for mode.
func (m ModeScores) Get(mode GameMode) int {
	switch mode {
	case ModeConnections:
		return m.Connections
	case ModeHarf:
		return m.Harf
	case ModeDeduction:
		return m.Deduction
	case ModeScramble:
		return m.Scramble
	case ModeJuz:
		return m.Juz
	}
	return 0
}

// Set stores value for mode.
func (m *ModeScores) Set(mode GameMode, value int) {
	switch mode {
	case ModeConnections:
		m.Connections = value
	case ModeHarf:
		m.Harf = value
	case ModeDeduction:
		m.Deduction = value
	case ModeScramble:
		m.Scramble = value
	case ModeJuz:
		m.Juz = value
	}
}

// Add accumulates other into m.
func (m *ModeScores) Add(other ModeScores) {
	for _, mode := range GameModes {
		m.Set(mode, m.Get(mode)+other.Get(mode))
	}
}

// Total is the sum over all five modes.
func (m ModeScores) Total() int {
	return m.Connections + m.Harf + m.Deduction + m.Scramble + m.Juz
}

// ScoreEntry is one player's scores for one puzzle date.
type ScoreEntry struct {
	PlayerID     string `gorm:"column:player_id;primaryKey;size:190;not null"`
	PuzzleDate   string `gorm:"column:puzzle_date;primaryKey;size:10;not null;index:idx_score_entries_date"`
	Connections  int    `gorm:"column:connections;not null;default:0"`
	Harf         int    `gorm:"column:harf;not null;default:0"`
	Deduction    int    `gorm:"column:deduction;not null;default:0"`
	Scramble     int    `gorm:"column:scramble;not null;default:0"`
	Juz          int    `gorm:"column:juz;not null;default:0"`
	Total        int    `gorm:"column:total;not null;default:0"`
	Streak       int    `gorm:"column:streak;not null;default:0"`
	RecordedAtMs int64  `gorm:"column:recorded_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ScoreEntry) TableName() string {
	return "score_entries"
}

// Scores returns the per-mode values.
func (e ScoreEntry) Scores() ModeScores {
	return ModeScores{
		Connections: e.Connections,
		Harf:        e.Harf,
		Deduction:   e.Deduction,
		Scramble:    e.Scramble,
		Juz:         e.Juz,
	}
}

// setScores replaces the per-mode values and recomputes the total.
func (e *ScoreEntry) setScores(scores ModeScores) {
	e.Connections = scores.Connections
	e.Harf = scores.Harf
	e.Deduction = scores.Deduction
	e.Scramble = scores.Scramble
	e.Juz = scores.Juz
	e.Total = scores.Total()
}

// History is a player's score entries ordered by ascending puzzle date.
type History []ScoreEntry

// Entry returns the entry for date.
func (h History) Entry(date PuzzleDate) (ScoreEntry, bool) {
	for _, entry := range h {
		if entry.PuzzleDate == date.String() {
			return entry, true
		}
	}
	return ScoreEntry{}, false
}

// Profile holds the display fields shown next to a player's scores.
type Profile struct {
	PlayerID       string    `gorm:"column:player_id;primaryKey;size:190;not null"`
	DisplayName    string    `gorm:"column:display_name;size:120;not null;default:''"`
	VersesExplored int       `gorm:"column:verses_explored;not null;default:0"`
	QuranPercent   float64   `gorm:"column:quran_percent;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "player_profiles"
}
