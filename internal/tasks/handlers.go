package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/hosting"
	"github.com/tracklab/podium/internal/rooms"
)

// defaultSweepLead is used when a room:open_for_matches task does not set
// lead_minutes.
const defaultSweepLead = 30 * time.Minute

// RoomAttacher connects a freshly opened room to the event loop. Implemented
// by the room binder; declared here so handlers can be tested without one.
type RoomAttacher interface {
	Attach(ctx context.Context, room *models.RaceRoom) error
}

// Handlers implements the built-in task types. Each handler is one run of
// one claimed task; returned errors become the task's last_run_error.
type Handlers struct {
	db     *gorm.DB
	rooms  *rooms.Orchestrator
	binder RoomAttacher
	logger *slog.Logger
}

func NewHandlers(db *gorm.DB, orch *rooms.Orchestrator, binder RoomAttacher, logger *slog.Logger) *Handlers {
	return &Handlers{
		db:     db,
		rooms:  orch,
		binder: binder,
		logger: logger,
	}
}

func (h *Handlers) RegisterAll(reg *Registry) {
	reg.Register(TypeOpenRoom, h.HandleOpenRoom)
	reg.Register(TypeMatchRoomSweep, h.HandleMatchRoomSweep)
}

// HandleOpenRoom opens a single room, optionally bound to a match or live
// race named in the task config. Requesting a room for an entity that
// already has one is a run failure; the sweep task is the place where that
// is routine and gets skipped.
func (h *Handlers) HandleOpenRoom(ctx context.Context, exec *ExecContext) error {
	var payload OpenRoomPayload
	if err := exec.DecodeConfig(&payload); err != nil {
		return err
	}
	if payload.MatchID != nil && payload.LiveRaceID != nil {
		return errors.New("config may set match_id or live_race_id, not both")
	}

	var binding *rooms.Binding
	switch {
	case payload.MatchID != nil:
		binding = &rooms.Binding{Kind: models.BoundKindMatch, EntityID: *payload.MatchID}
	case payload.LiveRaceID != nil:
		binding = &rooms.Binding{Kind: models.BoundKindLiveRace, EntityID: *payload.LiveRaceID}
	}

	room, err := h.rooms.OpenRoom(ctx, exec.Task.OrganizationID, hosting.RoomRequest{
		Goal:     payload.Goal,
		Info:     payload.Info,
		Unlisted: payload.Unlisted,
	}, binding)
	if err != nil {
		return err
	}

	h.attach(ctx, room)
	return nil
}

// HandleMatchRoomSweep opens rooms for every unfinished match scheduled
// near now. Matches already covered by a live room are skipped; other
// failures are collected so one bad match never hides the rest, and the
// joined error makes the run count as failed.
func (h *Handlers) HandleMatchRoomSweep(ctx context.Context, exec *ExecContext) error {
	var payload MatchRoomSweepPayload
	if err := exec.DecodeConfig(&payload); err != nil {
		return err
	}

	lead := time.Duration(payload.LeadMinutes) * time.Minute
	if lead <= 0 {
		lead = defaultSweepLead
	}

	// The window reaches backwards too: a match that slipped past its
	// scheduled time while the daemon was down still deserves a room.
	now := time.Now().UTC()
	var matches []models.Match
	err := h.db.WithContext(ctx).
		Where("organization_id = ?", exec.Task.OrganizationID).
		Where("scheduled_at IS NOT NULL AND scheduled_at BETWEEN ? AND ?", now.Add(-lead), now.Add(lead)).
		Where("finished_at IS NULL").
		Order("scheduled_at").
		Find(&matches).Error
	if err != nil {
		return fmt.Errorf("loading matches due for rooms: %w", err)
	}

	opened := 0
	var errs []error
	for i := range matches {
		match := &matches[i]

		req := hosting.RoomRequest{
			Goal:     payload.Goal,
			Info:     payload.Info,
			Unlisted: payload.Unlisted,
		}
		if req.Info == "" {
			req.Info = matchInfo(match)
		}

		room, err := h.rooms.OpenRoom(ctx, exec.Task.OrganizationID, req,
			&rooms.Binding{Kind: models.BoundKindMatch, EntityID: match.ID})
		if errors.Is(err, rooms.ErrAlreadyBound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("match %q: %w", match.Name, err))
			continue
		}

		opened++
		h.attach(ctx, room)
	}

	h.logger.Info("match room sweep finished",
		"task", exec.Task.Name,
		"org_id", exec.Task.OrganizationID,
		"due", len(matches),
		"opened", opened,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

// attach is best-effort: the room exists and is tracked either way, and the
// next reconciliation pass picks up anything missed here.
func (h *Handlers) attach(ctx context.Context, room *models.RaceRoom) {
	if h.binder == nil {
		return
	}
	if err := h.binder.Attach(ctx, room); err != nil {
		h.logger.Warn("room opened but session attach failed",
			"room", room.Slug,
			"error", err,
		)
	}
}

func matchInfo(m *models.Match) string {
	if m.Round != "" {
		return fmt.Sprintf("%s (%s)", m.Name, m.Round)
	}
	return m.Name
}
