package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus mirrors the last-known remote room state. The hosting service
// owns the authoritative value; this is a cache for reconnection.
type RoomStatus string

const (
	RoomStatusPending    RoomStatus = "pending"
	RoomStatusOpen       RoomStatus = "open"
	RoomStatusInProgress RoomStatus = "in_progress"
	RoomStatusFinished   RoomStatus = "finished"
	RoomStatusCancelled  RoomStatus = "cancelled"
)

type BoundKind string

const (
	BoundKindMatch    BoundKind = "match"
	BoundKindLiveRace BoundKind = "live_race"
)

// RaceRoom is the local record of an externally-hosted room, keyed by the
// slug the hosting service issued. A nil BoundEntityID means the room is
// standalone and gets base protocol handling only. Rows are hard-deleted the
// moment the remote room is cancelled.
type RaceRoom struct {
	Slug           string    `gorm:"primaryKey;size:255" json:"slug"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Category       string    `gorm:"size:100;not null" json:"category"`

	// Optional link to the match or live race this room drives. At most one
	// non-terminal room may reference a given entity; the create path checks
	// before inserting. Finished rooms keep their binding for the record, so
	// the index cannot be unique.
	BoundEntityID   *uuid.UUID `gorm:"type:uuid;index:idx_race_rooms_bound_entity" json:"bound_entity_id,omitempty"`
	BoundEntityKind *BoundKind `gorm:"size:20;index:idx_race_rooms_bound_entity" json:"bound_entity_kind,omitempty"`

	Status   RoomStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	Goal     string     `gorm:"size:255" json:"goal,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (RaceRoom) TableName() string {
	return "race_rooms"
}

// Bound reports whether the room is linked to a match or live race.
func (r *RaceRoom) Bound() bool {
	return r.BoundEntityID != nil && r.BoundEntityKind != nil
}

// Terminal reports whether the cached status can no longer advance.
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusFinished || s == RoomStatusCancelled
}
