package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/entities"
	"github.com/tracklab/podium/internal/hosting"
)

// ErrAlreadyBound is returned when a room is requested for an entity that
// already has a live room. The check runs before any call to the hosting
// service, so a rejected request never creates a remote room.
var ErrAlreadyBound = errors.New("entity already has an open race room")

// ErrEntityNotFound is returned when a binding points at a match or live
// race that does not exist, typically a stale ID in a task config.
var ErrEntityNotFound = errors.New("bound entity not found")

// Binding links a room to the match or live race it drives.
type Binding struct {
	Kind     models.BoundKind
	EntityID uuid.UUID
}

func (b Binding) String() string {
	return fmt.Sprintf("%s/%s", b.Kind, b.EntityID)
}

// Orchestrator is the single place rooms get created: it calls the hosting
// service and persists the local row linking the returned slug to an
// optional bound entity.
type Orchestrator struct {
	db       *gorm.DB
	hosting  hosting.Resolver
	entities entities.Store
	logger   *slog.Logger
}

func NewOrchestrator(db *gorm.DB, resolver hosting.Resolver, store entities.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		hosting:  resolver,
		entities: store,
		logger:   logger,
	}
}

// OpenRoom creates a room on the hosting service and records it locally.
// A nil binding opens a standalone room. When the hosting call fails no
// local row is written; the error is the caller's to record.
func (o *Orchestrator) OpenRoom(ctx context.Context, orgID uuid.UUID, req hosting.RoomRequest, binding *Binding) (*models.RaceRoom, error) {
	if binding != nil {
		exists, err := o.entities.Exists(ctx, binding.Kind, binding.EntityID)
		if err != nil {
			return nil, fmt.Errorf("checking binding target: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, binding)
		}

		existing, err := o.entities.FindOpenRoomFor(ctx, binding.Kind, binding.EntityID)
		if err != nil {
			return nil, fmt.Errorf("checking for existing room: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s is bound to room %s", ErrAlreadyBound, binding, existing.Slug)
		}
	}

	client, err := o.hosting.For(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("resolving hosting client: %w", err)
	}

	summary, err := client.CreateRoom(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating remote room: %w", err)
	}

	room := &models.RaceRoom{
		Slug:           summary.Slug,
		OrganizationID: orgID,
		Category:       client.Category(),
		Status:         statusOrDefault(summary.Status),
		Goal:           req.Goal,
		OpenedAt:       openedAtOrNow(summary.OpenedAt),
	}
	if binding != nil {
		room.BoundEntityID = &binding.EntityID
		room.BoundEntityKind = &binding.Kind
	}

	if err := o.db.WithContext(ctx).Create(room).Error; err != nil {
		// The remote room exists but we lost track of it. It will surface
		// as an orphan in the next reconciliation pass.
		o.logger.Error("race room created remotely but local record failed",
			"room", summary.Slug,
			"org_id", orgID,
			"error", err,
		)
		return nil, fmt.Errorf("persisting room %s: %w", summary.Slug, err)
	}

	if binding != nil {
		o.logger.Info("opened race room",
			"room", room.Slug,
			"category", room.Category,
			"org_id", orgID,
			"entity_kind", binding.Kind,
			"entity_id", binding.EntityID,
		)
	} else {
		o.logger.Info("opened standalone race room",
			"room", room.Slug,
			"category", room.Category,
			"org_id", orgID,
		)
	}

	return room, nil
}

func statusOrDefault(raw string) models.RoomStatus {
	if status, ok := ParseStatus(raw); ok {
		return status
	}
	return models.RoomStatusPending
}

func openedAtOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
