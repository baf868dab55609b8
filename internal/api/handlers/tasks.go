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
	"github.com/tracklab/podium/internal/database/models"
)

type TaskHandler struct {
	db *gorm.DB
}

func NewTaskHandler(db *gorm.DB) *TaskHandler {
	return &TaskHandler{db: db}
}

// TaskResponse is a scheduled task as the inspection API reports it.
type TaskResponse struct {
	ID              string `json:"id"`
	OrganizationID  string `json:"organization_id"`
	Name            string `json:"name"`
	ScheduleType    string `json:"schedule_type"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	CronExpr        string `json:"cron_expr,omitempty"`
	ScheduledAt     string `json:"scheduled_at,omitempty"`
	TaskType        string `json:"task_type"`
	Config          string `json:"config,omitempty"`
	IsActive        bool   `json:"is_active"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	NextRunAt       string `json:"next_run_at,omitempty"`
	LastRunStatus   string `json:"last_run_status"`
	LastRunError    string `json:"last_run_error,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func taskToResponse(task *models.ScheduledTask) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID.String(),
		OrganizationID:  task.OrganizationID.String(),
		Name:            task.Name,
		ScheduleType:    string(task.ScheduleType),
		IntervalSeconds: task.IntervalSeconds,
		CronExpr:        task.CronExpr,
		TaskType:        task.TaskType,
		Config:          task.Config,
		IsActive:        task.IsActive,
		LastRunStatus:   string(task.LastRunStatus),
		LastRunError:    task.LastRunError,
		CreatedAt:       task.CreatedAt.Format(time.RFC3339),
	}
	if task.ScheduledAt != nil {
		resp.ScheduledAt = task.ScheduledAt.Format(time.RFC3339)
	}
	if task.LastRunAt != nil {
		resp.LastRunAt = task.LastRunAt.Format(time.RFC3339)
	}
	if task.NextRunAt != nil {
		resp.NextRunAt = task.NextRunAt.Format(time.RFC3339)
	}
	return resp
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	query := h.db.WithContext(r.Context()).Model(&models.ScheduledTask{})

	if orgID := r.URL.Query().Get("organization_id"); orgID != "" {
		id, err := uuid.Parse(orgID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization ID"})
			return
		}
		query = query.Where("organization_id = ?", id)
	}
	if taskType := r.URL.Query().Get("task_type"); taskType != "" {
		query = query.Where("task_type = ?", taskType)
	}
	if active := r.URL.Query().Get("is_active"); active != "" {
		isActive, err := strconv.ParseBool(active)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid is_active value"})
			return
		}
		query = query.Where("is_active = ?", isActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to count tasks"})
		return
	}

	// Soonest-due first; rows that can never run again sort last.
	var tasks []models.ScheduledTask
	if err := query.
		Order("next_run_at IS NULL, next_run_at ASC").
		Offset(pagination.Offset()).
		Limit(pagination.PerPage).
		Find(&tasks).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list tasks"})
		return
	}

	response := make([]TaskResponse, len(tasks))
	for i, task := range tasks {
		response[i] = taskToResponse(&task)
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       response,
		Total:      total,
		Page:       pagination.Page,
		PerPage:    pagination.PerPage,
		TotalPages: totalPages(total, pagination.PerPage),
	})
}

// Get handles GET /api/v1/tasks/:id
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid task ID"})
		return
	}

	var task models.ScheduledTask
	if err := h.db.WithContext(r.Context()).First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Task not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get task"})
		return
	}

	writeJSON(w, http.StatusOK, taskToResponse(&task))
}

func totalPages(total int64, perPage int) int {
	pages := int(total) / perPage
	if int(total)%perPage > 0 {
		pages++
	}
	return pages
}
