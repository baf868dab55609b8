package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/hosting"
)

// ErrRoomClosed tells the session loop the room needs no further handling:
// the remote race was cancelled or has finished.
var ErrRoomClosed = errors.New("room session no longer needed")

// EventHandler consumes one room's remote events. Implementations are
// driven by a single goroutine per room and need no internal locking.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev hosting.Event) error
}

// HandlerFor builds the protocol handler for a room. Every room gets the
// base handler (status mirroring, chat commands); rooms bound to a match or
// live race get the match-synchronizing variant layered on top.
func HandlerFor(room *models.RaceRoom, session hosting.Session, sync *Synchronizer, logger *slog.Logger) EventHandler {
	base := newRoomHandler(room, session, sync, logger)
	if !room.Bound() {
		return base
	}
	return &matchHandler{
		base:    base,
		binding: Binding{Kind: *room.BoundEntityKind, EntityID: *room.BoundEntityID},
		sync:    sync,
		logger:  logger,
	}
}

// roomHandler is the base protocol handler: it feeds status events through
// the synchronizer so the local row tracks the remote room, and it answers
// the room's chat commands. It knows nothing about matches.
type roomHandler struct {
	slug    string
	goal    string
	status  models.RoomStatus
	session hosting.Session
	sync    *Synchronizer
	logger  *slog.Logger
}

func newRoomHandler(room *models.RaceRoom, session hosting.Session, sync *Synchronizer, logger *slog.Logger) *roomHandler {
	return &roomHandler{
		slug:    room.Slug,
		goal:    room.Goal,
		status:  room.Status,
		session: session,
		sync:    sync,
		logger:  logger,
	}
}

func (h *roomHandler) HandleEvent(ctx context.Context, ev hosting.Event) error {
	switch ev.Type {
	case hosting.EventRaceStatus:
		tr, err := h.sync.Apply(ctx, h.slug, ev)
		if err != nil {
			return err
		}
		if tr.Applied {
			h.status = tr.To
		}
		if tr.Deleted {
			return ErrRoomClosed
		}
		if tr.Applied && tr.To == models.RoomStatusOpen {
			h.greet(ctx)
		}
		if tr.To == models.RoomStatusFinished && h.status == models.RoomStatusFinished {
			return ErrRoomClosed
		}
		return nil
	case hosting.EventChatMessage:
		h.handleChat(ctx, ev)
		return nil
	default:
		return nil
	}
}

func (h *roomHandler) greet(ctx context.Context) {
	msg := "Welcome, racers! This room is managed automatically."
	if h.goal != "" {
		msg = fmt.Sprintf("Welcome, racers! Goal: %s. Good luck.", h.goal)
	}
	h.say(ctx, msg)
}

// handleChat answers the room's bang commands. Anything else in chat is
// none of our business.
func (h *roomHandler) handleChat(ctx context.Context, ev hosting.Event) {
	fields := strings.Fields(strings.TrimSpace(ev.Message))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "!status":
		h.say(ctx, fmt.Sprintf("Race status: %s.", h.status))
	case "!goal":
		if h.goal == "" {
			h.say(ctx, "No goal is set for this race.")
		} else {
			h.say(ctx, fmt.Sprintf("Goal: %s.", h.goal))
		}
	}
}

// say sends a chat message best-effort; a failed reply is not worth killing
// the session over.
func (h *roomHandler) say(ctx context.Context, text string) {
	if err := h.session.SendMessage(ctx, text); err != nil {
		h.logger.Warn("sending room message failed",
			"room", h.slug,
			"error", err,
		)
	}
}

// matchHandler decorates the base handler with bound-entity behavior:
// entrant joins and finishes flow into the synchronizer, and final results
// get acknowledged in chat. It is selected at bind time for rooms whose row
// carries a binding.
type matchHandler struct {
	base    *roomHandler
	binding Binding
	sync    *Synchronizer
	logger  *slog.Logger
}

func (h *matchHandler) HandleEvent(ctx context.Context, ev hosting.Event) error {
	switch ev.Type {
	case hosting.EventEntrants, hosting.EventEntrantFinish:
		_, err := h.sync.Apply(ctx, h.base.slug, ev)
		return err
	case hosting.EventRaceStatus:
		err := h.base.HandleEvent(ctx, ev)
		if errors.Is(err, ErrRoomClosed) && models.RoomStatus(ev.Status) == models.RoomStatusFinished {
			h.base.say(ctx, "Results recorded. Thanks for racing!")
			h.logger.Info("match results synchronized",
				"room", h.base.slug,
				"entity_kind", h.binding.Kind,
				"entity_id", h.binding.EntityID,
			)
		}
		return err
	default:
		return h.base.HandleEvent(ctx, ev)
	}
}
