package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RaceTiming is the block of lifecycle timestamps a room synchronizes onto
// its bound entity. Each field is set at most once; later events are no-ops.
type RaceTiming struct {
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Match is a tournament match between scheduled players.
type Match struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"size:255;not null" json:"name"` // e.g. "Winners Semifinal 2"
	Round          string    `gorm:"size:100" json:"round,omitempty"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	RaceTiming  `gorm:"embedded"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
	Players      []MatchPlayer `gorm:"foreignKey:MatchID" json:"players,omitempty"`
}

func (Match) TableName() string {
	return "matches"
}

// BeforeDelete clears the match's dependents: its player rows and any room
// row still bound to it. A live session for such a room notices the missing
// row and winds down on its own. Only struct deletes with a loaded ID
// cascade; batch deletes bypass hooks by gorm's rules.
func (m *Match) BeforeDelete(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		return nil
	}
	if err := tx.Where("match_id = ?", m.ID).Delete(&MatchPlayer{}).Error; err != nil {
		return err
	}
	return tx.Where("bound_entity_kind = ? AND bound_entity_id = ?", BoundKindMatch, m.ID).
		Delete(&RaceRoom{}).Error
}

// MatchPlayer is one participant of a match, identified by the name they
// race under on the hosting service.
type MatchPlayer struct {
	Base
	MatchID uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:idx_match_players_match_name" json:"match_id"`
	Name    string    `gorm:"size:255;not null;uniqueIndex:idx_match_players_match_name" json:"name"`

	FinishRank *int       `json:"finish_rank,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (MatchPlayer) TableName() string {
	return "match_players"
}
