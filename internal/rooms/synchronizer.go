package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/entities"
	"github.com/tracklab/podium/internal/hosting"
)

// statusRank orders room statuses so stale or replayed events can be told
// apart from genuine progress. Transitions only ever move to a higher rank.
var statusRank = map[models.RoomStatus]int{
	models.RoomStatusPending:    0,
	models.RoomStatusOpen:       1,
	models.RoomStatusInProgress: 2,
	models.RoomStatusFinished:   3,
	models.RoomStatusCancelled:  4,
}

// ParseStatus maps a remote status string onto the local status set.
func ParseStatus(raw string) (models.RoomStatus, bool) {
	status := models.RoomStatus(raw)
	_, ok := statusRank[status]
	return status, ok
}

// Transition reports what applying one event did to a room row.
type Transition struct {
	From    models.RoomStatus
	To      models.RoomStatus
	Applied bool // false when the event was stale, replayed, or for a vanished room
	Deleted bool // the row was removed (remote cancellation)
}

// Synchronizer replays remote room events onto local state: the room row's
// cached status for every room, and the bound match or live race when the
// room carries a binding. Events only ever flow remote to local.
type Synchronizer struct {
	db       *gorm.DB
	entities entities.Store
	logger   *slog.Logger
}

func NewSynchronizer(db *gorm.DB, store entities.Store, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{db: db, entities: store, logger: logger}
}

// Apply processes one remote event for the room identified by slug. Events
// for rooms that no longer exist locally are dropped silently: the row was
// deleted by an earlier cancellation or reconciliation pass.
func (s *Synchronizer) Apply(ctx context.Context, slug string, ev hosting.Event) (Transition, error) {
	room, err := s.loadRoom(ctx, slug)
	if err != nil {
		return Transition{}, err
	}
	if room == nil {
		s.logger.Debug("dropping event for unknown room", "room", slug, "event", ev.Type)
		return Transition{}, nil
	}

	switch ev.Type {
	case hosting.EventRaceStatus:
		return s.applyStatus(ctx, room, ev)
	case hosting.EventEntrants:
		return Transition{From: room.Status, To: room.Status}, s.applyEntrants(ctx, room, ev)
	case hosting.EventEntrantFinish:
		return Transition{From: room.Status, To: room.Status}, s.applyEntrantFinish(ctx, room, ev)
	default:
		return Transition{From: room.Status, To: room.Status}, nil
	}
}

// applyStatus advances the room's cached status and, for bound rooms, the
// entity's lifecycle timestamps. Backward or replayed statuses are ignored,
// never reverted.
func (s *Synchronizer) applyStatus(ctx context.Context, room *models.RaceRoom, ev hosting.Event) (Transition, error) {
	next, ok := ParseStatus(ev.Status)
	if !ok {
		s.logger.Warn("ignoring unknown room status",
			"room", room.Slug,
			"status", ev.Status,
		)
		return Transition{From: room.Status, To: room.Status}, nil
	}

	if statusRank[next] <= statusRank[room.Status] {
		s.logger.Debug("ignoring stale room status",
			"room", room.Slug,
			"status", next,
			"current", room.Status,
		)
		return Transition{From: room.Status, To: next}, nil
	}

	if next == models.RoomStatusCancelled {
		return s.cancel(ctx, room)
	}

	res := s.db.WithContext(ctx).Model(&models.RaceRoom{}).
		Where("slug = ? AND status = ?", room.Slug, room.Status).
		Update("status", next)
	if res.Error != nil {
		return Transition{}, fmt.Errorf("updating room %s status: %w", room.Slug, res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone advanced the row between our read and write; their event
		// wins and this one is treated as stale.
		s.logger.Debug("room status changed concurrently, skipping", "room", room.Slug)
		return Transition{From: room.Status, To: next}, nil
	}

	tr := Transition{From: room.Status, To: next, Applied: true}
	s.logRoomTransition(room, tr)

	if !room.Bound() {
		return tr, nil
	}

	at := eventTime(ev)
	kind, entityID := *room.BoundEntityKind, *room.BoundEntityID
	switch next {
	case models.RoomStatusOpen:
		if err := s.entities.MarkCheckedIn(ctx, kind, entityID, at); err != nil {
			return tr, err
		}
	case models.RoomStatusInProgress:
		if err := s.entities.MarkStarted(ctx, kind, entityID, at); err != nil {
			return tr, err
		}
	case models.RoomStatusFinished:
		results := make([]entities.Participant, 0, len(ev.Entrants))
		for _, e := range ev.Entrants {
			results = append(results, entrantResult(e, at))
		}
		if err := s.entities.MarkFinished(ctx, kind, entityID, at, results); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

// cancel removes the local row. The bound entity is left exactly as it was:
// cancellation is a room-level event, not a match-level one.
func (s *Synchronizer) cancel(ctx context.Context, room *models.RaceRoom) (Transition, error) {
	res := s.db.WithContext(ctx).Where("slug = ?", room.Slug).Delete(&models.RaceRoom{})
	if res.Error != nil {
		return Transition{}, fmt.Errorf("deleting cancelled room %s: %w", room.Slug, res.Error)
	}
	tr := Transition{
		From:    room.Status,
		To:      models.RoomStatusCancelled,
		Applied: res.RowsAffected > 0,
		Deleted: res.RowsAffected > 0,
	}
	s.logRoomTransition(room, tr)
	return tr, nil
}

// applyEntrants reacts to entrants joining an open room: for bound rooms it
// marks the entity checked in and, for live races, records who showed up.
func (s *Synchronizer) applyEntrants(ctx context.Context, room *models.RaceRoom, ev hosting.Event) error {
	if !room.Bound() || len(ev.Entrants) == 0 {
		return nil
	}
	if room.Status != models.RoomStatusOpen {
		// Entrant churn after the race started carries no check-in meaning.
		return nil
	}

	kind, entityID := *room.BoundEntityKind, *room.BoundEntityID
	names := make([]entities.Participant, 0, len(ev.Entrants))
	for _, e := range ev.Entrants {
		names = append(names, entities.Participant{Name: e.Name})
	}
	if err := s.entities.SyncEntrants(ctx, kind, entityID, names); err != nil {
		return err
	}
	if err := s.entities.MarkCheckedIn(ctx, kind, entityID, eventTime(ev)); err != nil {
		return err
	}
	s.logger.Info("entrants joined room",
		"room", room.Slug,
		"entity_kind", kind,
		"entity_id", entityID,
		"entrants", len(ev.Entrants),
	)
	return nil
}

// applyEntrantFinish records individual placements as they happen, ahead of
// the final finished status.
func (s *Synchronizer) applyEntrantFinish(ctx context.Context, room *models.RaceRoom, ev hosting.Event) error {
	if !room.Bound() {
		return nil
	}

	kind, entityID := *room.BoundEntityKind, *room.BoundEntityID
	at := eventTime(ev)
	for _, e := range ev.Entrants {
		if err := s.entities.RecordFinish(ctx, kind, entityID, entrantResult(e, at)); err != nil {
			return err
		}
		s.logger.Info("entrant finished",
			"room", room.Slug,
			"entity_kind", kind,
			"entity_id", entityID,
			"entrant", e.Name,
		)
	}
	return nil
}

func (s *Synchronizer) loadRoom(ctx context.Context, slug string) (*models.RaceRoom, error) {
	var room models.RaceRoom
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading room %s: %w", slug, err)
	}
	return &room, nil
}

func (s *Synchronizer) logRoomTransition(room *models.RaceRoom, tr Transition) {
	if !tr.Applied {
		return
	}
	attrs := []any{
		"room", room.Slug,
		"from", tr.From,
		"to", tr.To,
	}
	if room.Bound() {
		attrs = append(attrs,
			"entity_kind", *room.BoundEntityKind,
			"entity_id", *room.BoundEntityID,
		)
	}
	s.logger.Info("room status transition", attrs...)
}

func entrantResult(e hosting.Entrant, fallback time.Time) entities.Participant {
	p := entities.Participant{Name: e.Name, Rank: e.FinishRank}
	if e.FinishedAt != nil {
		p.FinishedAt = e.FinishedAt
	} else {
		at := fallback
		p.FinishedAt = &at
	}
	return p
}

func eventTime(ev hosting.Event) time.Time {
	if !ev.SentAt.IsZero() {
		return ev.SentAt.UTC()
	}
	return time.Now().UTC()
}
