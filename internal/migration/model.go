package migration

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
)

// Outcome summarises what a migration run did.
type Outcome string

const (
	// OutcomeNone means no migration was pending.
	OutcomeNone Outcome = "none"
	// OutcomeSkipped means the pending marker named the current identity and was discarded.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeMigrated means every step succeeded and the marker was removed.
	OutcomeMigrated Outcome = "migrated"
	// OutcomeDeferred means a step failed; the marker was kept for the next run.
	OutcomeDeferred Outcome = "deferred"
)

// PendingMigration records that the holder of NewPlayerID restored a save made by OldPlayerID.
type PendingMigration struct {
	NewPlayerID string    `gorm:"column:new_player_id;primaryKey;size:190;not null"`
	OldPlayerID string    `gorm:"column:old_player_id;size:190;not null"`
	GroupCodes  string    `gorm:"column:group_codes;type:text;not null;default:'[]'"`
	DisplayName string    `gorm:"column:display_name;size:120;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PendingMigration) TableName() string {
	return "identity_migrations"
}

// Codes decodes the stored group code list.
func (m PendingMigration) Codes() ([]string, error) {
	var codes []string
	if m.GroupCodes == "" {
		return codes, nil
	}
	if err := json.Unmarshal([]byte(m.GroupCodes), &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Marker is the caller-facing description of a migration to schedule.
type Marker struct {
	NewPlayerID players.PlayerID
	OldPlayerID players.PlayerID
	GroupCodes  []string
	DisplayName string
}

// Result reports one migration run.
type Result struct {
	Outcome        Outcome  `json:"outcome"`
	OldPlayerID    string   `json:"old_player_id,omitempty"`
	RejoinedGroups []string `json:"rejoined_groups,omitempty"`
	SkippedGroups  []string `json:"skipped_groups,omitempty"`
	ScoresCopied   int      `json:"scores_copied"`
}
