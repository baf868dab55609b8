package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleOneTime  ScheduleType = "one_time"
)

type RunStatus string

const (
	RunStatusIdle    RunStatus = "idle"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// ScheduledTask is a persisted automation job owned by an organization.
// The scheduler only mutates the run bookkeeping block; everything else is
// written by whoever authored the task.
type ScheduledTask struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"size:255;not null" json:"name"`

	// Schedule definition. Exactly one of IntervalSeconds, CronExpr and
	// ScheduledAt is populated, matching ScheduleType.
	ScheduleType    ScheduleType `gorm:"size:20;not null" json:"schedule_type"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	CronExpr        string       `gorm:"size:100" json:"cron_expr,omitempty"` // e.g. "0 19 * * 6" (Saturdays 7 PM)
	ScheduledAt     *time.Time   `json:"scheduled_at,omitempty"`

	// Behavior
	TaskType string `gorm:"size:100;not null;index" json:"task_type"`
	Config   string `gorm:"type:jsonb;default:'{}'" json:"config,omitempty"`

	// Run bookkeeping (owned by the scheduler). NextRunAt is null only when
	// the task can never run again.
	IsActive      bool       `gorm:"default:true;index" json:"is_active"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastRunStatus RunStatus  `gorm:"size:20;default:'idle'" json:"last_run_status"`
	LastRunError  string     `json:"last_run_error,omitempty"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// ValidateSchedule checks the one-schedule-field invariant. Cron syntax is
// checked separately at creation time (schedule.Validate); the scheduler
// itself assumes rows are well-formed.
func (t *ScheduledTask) ValidateSchedule() error {
	switch t.ScheduleType {
	case ScheduleInterval:
		if t.IntervalSeconds <= 0 {
			return fmt.Errorf("interval task %q: interval_seconds must be > 0", t.Name)
		}
		if t.CronExpr != "" || t.ScheduledAt != nil {
			return fmt.Errorf("interval task %q: cron_expr and scheduled_at must be empty", t.Name)
		}
	case ScheduleCron:
		if t.CronExpr == "" {
			return fmt.Errorf("cron task %q: cron_expr is required", t.Name)
		}
		if t.IntervalSeconds != 0 || t.ScheduledAt != nil {
			return fmt.Errorf("cron task %q: interval_seconds and scheduled_at must be empty", t.Name)
		}
	case ScheduleOneTime:
		if t.ScheduledAt == nil {
			return fmt.Errorf("one-time task %q: scheduled_at is required", t.Name)
		}
		if t.IntervalSeconds != 0 || t.CronExpr != "" {
			return fmt.Errorf("one-time task %q: interval_seconds and cron_expr must be empty", t.Name)
		}
	default:
		return fmt.Errorf("task %q: unknown schedule_type %q", t.Name, t.ScheduleType)
	}
	return nil
}
