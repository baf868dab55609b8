package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/api/dto"
	"github.com/tracklab/podium/internal/api/validation"
	"github.com/tracklab/podium/internal/database/models"
)

type RoomHandler struct {
	db *gorm.DB
}

func NewRoomHandler(db *gorm.DB) *RoomHandler {
	return &RoomHandler{db: db}
}

// RoomResponse is a race room record as the inspection API reports it.
type RoomResponse struct {
	Slug            string `json:"slug"`
	OrganizationID  string `json:"organization_id"`
	Category        string `json:"category"`
	Status          string `json:"status"`
	Goal            string `json:"goal,omitempty"`
	BoundEntityID   string `json:"bound_entity_id,omitempty"`
	BoundEntityKind string `json:"bound_entity_kind,omitempty"`
	OpenedAt        string `json:"opened_at"`
	UpdatedAt       string `json:"updated_at"`
}

func roomToResponse(room *models.RaceRoom) RoomResponse {
	resp := RoomResponse{
		Slug:           room.Slug,
		OrganizationID: room.OrganizationID.String(),
		Category:       room.Category,
		Status:         string(room.Status),
		Goal:           room.Goal,
		OpenedAt:       room.OpenedAt.Format(time.RFC3339),
		UpdatedAt:      room.UpdatedAt.Format(time.RFC3339),
	}
	if room.Bound() {
		resp.BoundEntityID = room.BoundEntityID.String()
		resp.BoundEntityKind = string(*room.BoundEntityKind)
	}
	return resp
}

// List handles GET /api/v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	query := h.db.WithContext(r.Context()).Model(&models.RaceRoom{})

	if orgID := r.URL.Query().Get("organization_id"); orgID != "" {
		id, err := uuid.Parse(orgID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization ID"})
			return
		}
		query = query.Where("organization_id = ?", id)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if category := r.URL.Query().Get("category"); category != "" {
		if !validation.IsValidCategory(category) {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid category"})
			return
		}
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to count rooms"})
		return
	}

	var rooms []models.RaceRoom
	if err := query.
		Order("opened_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.PerPage).
		Find(&rooms).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list rooms"})
		return
	}

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = roomToResponse(&room)
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       response,
		Total:      total,
		Page:       pagination.Page,
		PerPage:    pagination.PerPage,
		TotalPages: totalPages(total, pagination.PerPage),
	})
}

// Get handles GET /api/v1/rooms/:category/:room. Slugs carry the hosting
// service's category prefix, so the path has two segments.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "category") + "/" + chi.URLParam(r, "room")
	if !validation.IsValidRoomSlug(slug) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid room slug"})
		return
	}

	var room models.RaceRoom
	if err := h.db.WithContext(r.Context()).First(&room, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Room not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get room"})
		return
	}

	writeJSON(w, http.StatusOK, roomToResponse(&room))
}
