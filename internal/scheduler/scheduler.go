package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tracklab/podium/internal/database/models"
	"github.com/tracklab/podium/internal/schedule"
	"github.com/tracklab/podium/internal/tasks"
)

const (
	defaultPollInterval     = 10 * time.Second
	defaultStaleClaimFactor = 3
)

// Options tune the poll loop. The zero value is usable: sensible defaults
// are filled in by New.
type Options struct {
	// PollInterval is how often the due-task query runs.
	PollInterval time.Duration

	// StaleClaimWindow is how long a row may sit in last_run_status=running
	// before the claim is presumed orphaned by a crash and may be retaken.
	// Must comfortably exceed the longest expected handler run.
	StaleClaimWindow time.Duration

	// Now is the scheduler clock; tests pin it.
	Now func() time.Time
}

// Scheduler drives persisted tasks: poll for due rows, claim each with a
// guarded update, run its handler in a goroutine, and write the outcome
// plus the next run time back to the row. All scheduling state lives in
// the database so a restart resumes exactly where the previous process
// stopped.
type Scheduler struct {
	db       *gorm.DB
	registry *tasks.Registry
	logger   *slog.Logger

	pollInterval time.Duration
	staleWindow  time.Duration
	now          func() time.Time

	// inFlight keeps this process from dispatching a task twice while a
	// run is still executing; the claim column does the same across
	// processes and restarts.
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

func New(db *gorm.DB, registry *tasks.Registry, logger *slog.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StaleClaimWindow <= 0 {
		opts.StaleClaimWindow = defaultStaleClaimFactor * opts.PollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		db:           db,
		registry:     registry,
		logger:       logger,
		pollInterval: opts.PollInterval,
		staleWindow:  opts.StaleClaimWindow,
		now:          opts.Now,
		inFlight:     make(map[uuid.UUID]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight runs to finish
// recording. The first poll happens immediately so overdue tasks fire on
// startup rather than one interval later.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"poll_interval", s.pollInterval,
		"stale_claim_window", s.staleWindow,
		"task_types", s.registry.Types(),
	)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.PollOnce(ctx); err != nil {
			s.logger.Error("task poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight runs")
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce claims every due task and dispatches each to its handler
// goroutine. It returns how many runs were dispatched; tests drive the
// scheduler through this instead of Run.
func (s *Scheduler) PollOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()

	var due []models.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at").
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("loading due tasks: %w", err)
	}

	dispatched := 0
	for i := range due {
		task := &due[i]

		if !s.track(task.ID) {
			// Still executing from an earlier poll; the run's completion
			// will compute the next time.
			continue
		}

		claimed, err := s.claim(ctx, task, now)
		if err != nil {
			s.untrack(task.ID)
			s.logger.Error("claiming task failed",
				"task", task.Name,
				"task_id", task.ID,
				"error", err,
			)
			continue
		}
		if !claimed {
			s.untrack(task.ID)
			continue
		}

		dispatched++
		s.wg.Add(1)
		go s.execute(task)
	}
	return dispatched, nil
}

// Wait blocks until every dispatched run has recorded its outcome.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// claim flips the row to running if it is still due and not held by a live
// claim. Claims older than the stale window do not block: a process that
// died mid-run must not wedge its tasks forever.
func (s *Scheduler) claim(ctx context.Context, task *models.ScheduledTask, now time.Time) (bool, error) {
	cutoff := now.Add(-s.staleWindow)
	res := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND is_active = ? AND next_run_at <= ?", task.ID, true, now).
		Where("last_run_status <> ? OR last_run_at IS NULL OR last_run_at < ?", models.RunStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"last_run_status": models.RunStatusRunning,
			"last_run_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// execute runs one claimed task to completion and records the outcome. The
// handler gets a fresh context rather than the poll loop's: shutdown waits
// for runs, it does not cancel them.
func (s *Scheduler) execute(task *models.ScheduledTask) {
	defer s.wg.Done()
	defer s.untrack(task.ID)

	started := s.now()
	s.logger.Info("task run started",
		"task", task.Name,
		"task_id", task.ID,
		"type", task.TaskType,
		"org_id", task.OrganizationID,
	)

	runErr := s.runHandler(task)

	finished := s.now().UTC()
	if runErr != nil {
		s.logger.Error("task run failed",
			"task", task.Name,
			"task_id", task.ID,
			"type", task.TaskType,
			"duration", finished.Sub(started.UTC()),
			"error", runErr,
		)
	} else {
		s.logger.Info("task run succeeded",
			"task", task.Name,
			"task_id", task.ID,
			"type", task.TaskType,
			"duration", finished.Sub(started.UTC()),
		)
	}

	if err := s.record(task, finished, runErr); err != nil {
		s.logger.Error("recording task outcome failed",
			"task", task.Name,
			"task_id", task.ID,
			"error", err,
		)
	}
}

// runHandler resolves and invokes the handler, converting panics into run
// failures so one broken handler cannot take the whole daemon down.
func (s *Scheduler) runHandler(task *models.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	fn, err := s.registry.Resolve(task.TaskType)
	if err != nil {
		return err
	}
	return fn(context.Background(), &tasks.ExecContext{Task: task})
}

// record writes the run outcome and the next run time computed from the
// completion instant. A schedule with no further occurrence deactivates the
// task; so does a row whose schedule no longer parses, which otherwise
// would be reclaimed forever.
func (s *Scheduler) record(task *models.ScheduledTask, finished time.Time, runErr error) error {
	updates := map[string]interface{}{}
	if runErr != nil {
		updates["last_run_status"] = models.RunStatusFailed
		updates["last_run_error"] = runErr.Error()
	} else {
		updates["last_run_status"] = models.RunStatusSuccess
		updates["last_run_error"] = ""
	}

	spec, err := schedule.FromTask(task)
	switch {
	case err != nil:
		updates["is_active"] = false
		updates["next_run_at"] = nil
		s.logger.Error("deactivating task with invalid schedule",
			"task", task.Name,
			"task_id", task.ID,
			"error", err,
		)
	default:
		if next, ok := schedule.NextRun(spec, finished); ok {
			updates["next_run_at"] = next
		} else {
			updates["is_active"] = false
			updates["next_run_at"] = nil
			s.logger.Info("task completed its schedule",
				"task", task.Name,
				"task_id", task.ID,
				"type", task.TaskType,
			)
		}
	}

	return s.db.Model(&models.ScheduledTask{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
}

func (s *Scheduler) track(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[id]; running {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) untrack(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}
