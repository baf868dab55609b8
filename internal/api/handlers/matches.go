package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/api/dto"
	"github.com/tracklab/podium/internal/database/models"
)

type MatchHandler struct {
	db *gorm.DB
}

func NewMatchHandler(db *gorm.DB) *MatchHandler {
	return &MatchHandler{db: db}
}

type MatchPlayerResponse struct {
	Name       string `json:"name"`
	FinishRank *int   `json:"finish_rank,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// MatchResponse is a match with its players and, when one exists, the
// room currently or last bound to it.
type MatchResponse struct {
	ID             string                `json:"id"`
	OrganizationID string                `json:"organization_id"`
	Name           string                `json:"name"`
	Round          string                `json:"round,omitempty"`
	ScheduledAt    string                `json:"scheduled_at,omitempty"`
	CheckedInAt    string                `json:"checked_in_at,omitempty"`
	StartedAt      string                `json:"started_at,omitempty"`
	FinishedAt     string                `json:"finished_at,omitempty"`
	Players        []MatchPlayerResponse `json:"players"`
	Room           *RoomResponse         `json:"room,omitempty"`
}

func matchToResponse(match *models.Match, room *models.RaceRoom) MatchResponse {
	resp := MatchResponse{
		ID:             match.ID.String(),
		OrganizationID: match.OrganizationID.String(),
		Name:           match.Name,
		Round:          match.Round,
		Players:        make([]MatchPlayerResponse, len(match.Players)),
	}
	if match.ScheduledAt != nil {
		resp.ScheduledAt = match.ScheduledAt.Format(time.RFC3339)
	}
	if match.CheckedInAt != nil {
		resp.CheckedInAt = match.CheckedInAt.Format(time.RFC3339)
	}
	if match.StartedAt != nil {
		resp.StartedAt = match.StartedAt.Format(time.RFC3339)
	}
	if match.FinishedAt != nil {
		resp.FinishedAt = match.FinishedAt.Format(time.RFC3339)
	}
	for i, p := range match.Players {
		resp.Players[i] = MatchPlayerResponse{
			Name:       p.Name,
			FinishRank: p.FinishRank,
		}
		if p.FinishedAt != nil {
			resp.Players[i].FinishedAt = p.FinishedAt.Format(time.RFC3339)
		}
	}
	if room != nil {
		r := roomToResponse(room)
		resp.Room = &r
	}
	return resp
}

// Get handles GET /api/v1/matches/:id
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid match ID"})
		return
	}

	var match models.Match
	if err := h.db.WithContext(r.Context()).
		Preload("Players").
		First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Match not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get match"})
		return
	}

	// Most recent room bound to this match, finished rooms included.
	var room *models.RaceRoom
	var found models.RaceRoom
	err = h.db.WithContext(r.Context()).
		Where("bound_entity_kind = ? AND bound_entity_id = ?", models.BoundKindMatch, matchID).
		Order("opened_at DESC").
		First(&found).Error
	switch {
	case err == nil:
		room = &found
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No room yet.
	default:
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get match room"})
		return
	}

	writeJSON(w, http.StatusOK, matchToResponse(&match, room))
}
