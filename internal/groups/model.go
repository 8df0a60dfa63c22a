package groups

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// CodeLength is the fixed length of a join code.
	CodeLength = 6
	// CodeAlphabet omits the easily confused I, O, 0 and 1.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	minNameRunes = 2
	maxNameRunes = 40
)

var (
	// ErrInvalidGroupCode indicates a join code of the wrong shape.
	ErrInvalidGroupCode = errors.New("groups: invalid group code")
	// ErrInvalidGroupName indicates a name shorter than two characters after trimming.
	ErrInvalidGroupName = errors.New("groups: invalid group name")
	// ErrGroupNotFound indicates no group exists for the code.
	ErrGroupNotFound = errors.New("groups: group not found")
	// ErrGroupFull indicates the group reached its member cap.
	ErrGroupFull = errors.New("groups: group is full")
	// ErrGroupLimitReached indicates the player already belongs to the maximum number of groups.
	ErrGroupLimitReached = errors.New("groups: group limit reached")
	// ErrAlreadyMember indicates the player already belongs to the group.
	ErrAlreadyMember = errors.New("groups: already a member")
	// ErrNotMember indicates the player does not belong to the group.
	ErrNotMember = errors.New("groups: not a member")
)

// NormalizeCode upper-cases and validates a join code.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroupCode, raw)
	}
	for _, symbol := range code {
		if !strings.ContainsRune(CodeAlphabet, symbol) {
			return "", fmt.Errorf("%w: %q", ErrInvalidGroupCode, raw)
		}
	}
	return code, nil
}

// NormalizeName trims the name and truncates it to 40 characters.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	if utf8.RuneCountInString(name) < minNameRunes {
		return "", ErrInvalidGroupName
	}
	return name, nil
}

// Group is a named set of players sharing a leaderboard.
type Group struct {
	Code        string `gorm:"column:code;primaryKey;size:6;not null"`
	Name        string `gorm:"column:name;size:160;not null"`
	CreatedBy   string `gorm:"column:created_by;size:190;not null"`
	CreatedAtS  int64  `gorm:"column:created_at_s;not null"`
	MemberCount int    `gorm:"column:member_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "groups"
}

// Membership links a player to a group.
type Membership struct {
	GroupCode string `gorm:"column:group_code;primaryKey;size:6;not null"`
	PlayerID  string `gorm:"column:player_id;primaryKey;size:190;not null;index:idx_group_memberships_player"`
	JoinedAtS int64  `gorm:"column:joined_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "group_memberships"
}
