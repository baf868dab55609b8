package hosting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Room statuses reported by the hosting service. These mirror the lifecycle
// cached on the local RaceRoom rows.
const (
	StatusPending    = "pending"
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
	StatusCancelled  = "cancelled"
)

// Event types delivered over a room session.
const (
	EventRaceStatus    = "race.status"
	EventEntrantFinish = "race.entrant_finish"
	EventEntrants      = "race.entrants"
	EventChatMessage   = "chat.message"
)

// RoomRequest describes a room to create.
type RoomRequest struct {
	Goal     string `json:"goal"`
	Info     string `json:"info,omitempty"`
	Unlisted bool   `json:"unlisted,omitempty"`
}

// RoomSummary is the hosting service's view of one room.
type RoomSummary struct {
	Slug     string    `json:"slug"`
	Status   string    `json:"status"`
	Goal     string    `json:"goal,omitempty"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Entrant is one participant's state as carried by an event.
type Entrant struct {
	Name       string     `json:"name"`
	Status     string     `json:"status,omitempty"`
	FinishRank *int       `json:"finish_rank,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is one decoded frame from a room's websocket feed. Fields beyond
// Room and Type are populated depending on the event type.
type Event struct {
	Room     string    `json:"room"`
	Type     string    `json:"type"`
	Status   string    `json:"status,omitempty"`
	Entrants []Entrant `json:"entrants,omitempty"`
	User     string    `json:"user,omitempty"`
	Message  string    `json:"message,omitempty"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

// Session is a live connection to one room. Events is closed when the
// connection dies; callers detect disconnects that way rather than polling.
type Session interface {
	Events() <-chan Event
	SendMessage(ctx context.Context, text string) error
	Close() error
}

// Client is scoped to one organization's hosting credential.
type Client interface {
	// Category is the game category slug the credential is issued for.
	Category() string
	CreateRoom(ctx context.Context, req RoomRequest) (RoomSummary, error)
	ListOpenRooms(ctx context.Context) ([]RoomSummary, error)
	Connect(ctx context.Context, slug string) (Session, error)
}

// Resolver hands out org-scoped clients.
type Resolver interface {
	For(ctx context.Context, orgID uuid.UUID) (Client, error)
}

// CredentialLookup loads the hosting credential for an organization.
type CredentialLookup interface {
	For(ctx context.Context, orgID uuid.UUID) (Credential, error)
}
