package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tracklab/podium/internal/database/models"
)

// Participant is one racer's state as reported by a room.
type Participant struct {
	Name       string
	Rank       *int
	FinishedAt *time.Time
}

// Store mutates the matches and live races that rooms are bound to. All
// timestamp marks are set-once: replayed or out-of-order events become
// no-ops instead of overwriting earlier values.
type Store interface {
	Exists(ctx context.Context, kind models.BoundKind, id uuid.UUID) (bool, error)
	MarkCheckedIn(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time) error
	MarkStarted(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time) error
	MarkFinished(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time, results []Participant) error
	RecordFinish(ctx context.Context, kind models.BoundKind, id uuid.UUID, p Participant) error
	SyncEntrants(ctx context.Context, kind models.BoundKind, id uuid.UUID, entrants []Participant) error
	FindOpenRoomFor(ctx context.Context, kind models.BoundKind, id uuid.UUID) (*models.RaceRoom, error)
}

// GormStore is the database-backed Store.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// Exists reports whether the entity a binding points at is present.
func (s *GormStore) Exists(ctx context.Context, kind models.BoundKind, id uuid.UUID) (bool, error) {
	model, err := entityTable(kind)
	if err != nil {
		return false, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking %s %s: %w", kind, id, err)
	}
	return count > 0, nil
}

func (s *GormStore) MarkCheckedIn(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time) error {
	return s.markTime(ctx, kind, id, "checked_in_at", at)
}

func (s *GormStore) MarkStarted(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time) error {
	return s.markTime(ctx, kind, id, "started_at", at)
}

func (s *GormStore) MarkFinished(ctx context.Context, kind models.BoundKind, id uuid.UUID, at time.Time, results []Participant) error {
	if err := s.markTime(ctx, kind, id, "finished_at", at); err != nil {
		return err
	}
	for _, p := range results {
		if err := s.RecordFinish(ctx, kind, id, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordFinish writes one participant's final placement. The rank is
// set-once; a participant row that doesn't exist is ignored for matches
// (the bracket defines who plays) and created for live races.
func (s *GormStore) RecordFinish(ctx context.Context, kind models.BoundKind, id uuid.UUID, p Participant) error {
	if kind == models.BoundKindLiveRace {
		if err := s.SyncEntrants(ctx, kind, id, []Participant{{Name: p.Name}}); err != nil {
			return err
		}
	}

	model, fk, err := participantTable(kind)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(model).
		Where(fk+" = ? AND name = ? AND finish_rank IS NULL", id, p.Name).
		Updates(map[string]interface{}{
			"finish_rank": p.Rank,
			"finished_at": p.FinishedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("recording finish for %s %s: %w", kind, id, res.Error)
	}
	return nil
}

// SyncEntrants makes sure a row exists for each reported name. Match player
// lists come from the bracket and are left alone; live race entrants are
// only known once they join the room.
func (s *GormStore) SyncEntrants(ctx context.Context, kind models.BoundKind, id uuid.UUID, entrants []Participant) error {
	if kind != models.BoundKindLiveRace {
		return nil
	}

	for _, e := range entrants {
		if e.Name == "" {
			continue
		}
		entrant := models.LiveRaceEntrant{
			Base:       models.Base{ID: uuid.New()},
			LiveRaceID: id,
			Name:       e.Name,
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "live_race_id"}, {Name: "name"}},
			DoNothing: true,
		}).Create(&entrant).Error
		if err != nil {
			return fmt.Errorf("syncing entrant %q for live race %s: %w", e.Name, id, err)
		}
	}
	return nil
}

// FindOpenRoomFor returns the non-terminal room bound to an entity, or nil
// when there is none.
func (s *GormStore) FindOpenRoomFor(ctx context.Context, kind models.BoundKind, id uuid.UUID) (*models.RaceRoom, error) {
	var room models.RaceRoom
	err := s.db.WithContext(ctx).
		Where("bound_entity_kind = ? AND bound_entity_id = ? AND status NOT IN ?",
			kind, id, []models.RoomStatus{models.RoomStatusFinished, models.RoomStatusCancelled}).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up room for %s %s: %w", kind, id, err)
	}
	return &room, nil
}

func (s *GormStore) markTime(ctx context.Context, kind models.BoundKind, id uuid.UUID, column string, at time.Time) error {
	model, err := entityTable(kind)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND "+column+" IS NULL", id).
		Update(column, at.UTC())
	if res.Error != nil {
		return fmt.Errorf("marking %s on %s %s: %w", column, kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("timestamp already set, skipping",
			"kind", kind,
			"entity_id", id,
			"column", column,
		)
	}
	return nil
}

func entityTable(kind models.BoundKind) (interface{}, error) {
	switch kind {
	case models.BoundKindMatch:
		return &models.Match{}, nil
	case models.BoundKindLiveRace:
		return &models.LiveRace{}, nil
	}
	return nil, fmt.Errorf("unknown bound entity kind %q", kind)
}

func participantTable(kind models.BoundKind) (interface{}, string, error) {
	switch kind {
	case models.BoundKindMatch:
		return &models.MatchPlayer{}, "match_id", nil
	case models.BoundKindLiveRace:
		return &models.LiveRaceEntrant{}, "live_race_id", nil
	}
	return nil, "", fmt.Errorf("unknown bound entity kind %q", kind)
}
