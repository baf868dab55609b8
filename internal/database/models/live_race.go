package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LiveRace is an ad-hoc broadcast race episode: same lifecycle as a match
// but without a bracket position, and entrants may only become known once
// they join the room.
type LiveRace struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Title          string    `gorm:"size:255;not null" json:"title"`
	Episode        string    `gorm:"size:100" json:"episode,omitempty"`

	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	RaceTiming  `gorm:"embedded"`

	// Relationships
	Organization *Organization     `gorm:"foreignKey:OrganizationID" json:"-"`
	Entrants     []LiveRaceEntrant `gorm:"foreignKey:LiveRaceID" json:"entrants,omitempty"`
}

func (LiveRace) TableName() string {
	return "live_races"
}

// BeforeDelete mirrors the match cascade: entrant rows and any bound room
// row go with the race.
func (r *LiveRace) BeforeDelete(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		return nil
	}
	if err := tx.Where("live_race_id = ?", r.ID).Delete(&LiveRaceEntrant{}).Error; err != nil {
		return err
	}
	return tx.Where("bound_entity_kind = ? AND bound_entity_id = ?", BoundKindLiveRace, r.ID).
		Delete(&RaceRoom{}).Error
}

type LiveRaceEntrant struct {
	Base
	LiveRaceID uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:idx_live_race_entrants_race_name" json:"live_race_id"`
	Name       string    `gorm:"size:255;not null;uniqueIndex:idx_live_race_entrants_race_name" json:"name"`

	FinishRank *int       `json:"finish_rank,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (LiveRaceEntrant) TableName() string {
	return "live_race_entrants"
}
