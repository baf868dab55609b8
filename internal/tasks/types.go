package tasks

import (
	"github.com/google/uuid"
)

// Task type names
const (
	TypeOpenRoom       = "room:open"
	TypeMatchRoomSweep = "room:open_for_matches"
)

// OpenRoomPayload is the config schema for a room:open task. At most one of
// MatchID and LiveRaceID may be set; with neither the room opens unbound.
type OpenRoomPayload struct {
	Goal       string     `json:"goal"`
	Info       string     `json:"info,omitempty"`
	Unlisted   bool       `json:"unlisted,omitempty"`
	MatchID    *uuid.UUID `json:"match_id,omitempty"`
	LiveRaceID *uuid.UUID `json:"live_race_id,omitempty"`
}

// MatchRoomSweepPayload is the config schema for a room:open_for_matches
// task. LeadMinutes bounds how far ahead of a match's scheduled time its
// room is opened.
type MatchRoomSweepPayload struct {
	LeadMinutes int    `json:"lead_minutes"`
	Goal        string `json:"goal"`
	Info        string `json:"info,omitempty"`
	Unlisted    bool   `json:"unlisted,omitempty"`
}
