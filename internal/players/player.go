package players

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// ErrInvalidPlayerID indicates that a player identifier is empty or exceeds storage bounds.
var ErrInvalidPlayerID = errors.New("players: invalid player id")

// PlayerID is the opaque anonymous identity a client holds for the lifetime of its install.
type PlayerID string

// NewPlayerID validates raw input and returns a PlayerID.
func NewPlayerID(rawInput string) (PlayerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlayerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPlayerID, maxIdentifierLength)
	}
	return PlayerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PlayerID) String() string {
	return string(id)
}

// Short returns the first eight characters, for log lines.
func (id PlayerID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// Player records an issued identity and the group it last viewed.
type Player struct {
	PlayerID        string    `gorm:"column:player_id;primaryKey;size:190;not null"`
	ActiveGroupCode string    `gorm:"column:active_group_code;size:6;not null;default:''"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing issued identities.
func (Player) TableName() string {
	return "players"
}
