package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tracklab/podium/internal/database/models"
)

// ErrHandlerNotFound is returned by Resolve for task types nothing has
// registered. The scheduler records it as a run failure; it does not stop
// the poll loop.
var ErrHandlerNotFound = errors.New("no handler registered for task type")

// ExecContext carries one claimed task into its handler.
type ExecContext struct {
	Task *models.ScheduledTask
}

// DecodeConfig unmarshals the task's JSON config into v. An empty config
// column is treated as {}.
func (e *ExecContext) DecodeConfig(v any) error {
	raw := e.Task.Config
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding task config: %w", err)
	}
	return nil
}

// HandlerFunc executes one run of a scheduled task.
type HandlerFunc func(ctx context.Context, exec *ExecContext) error

// Registry maps task type names to their handlers. Registration happens at
// startup; Resolve is called concurrently by scheduler goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for a task type. Registering the same type twice
// is a programming error and panics.
func (r *Registry) Register(taskType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[taskType]; dup {
		panic(fmt.Sprintf("tasks: duplicate handler registration for %q", taskType))
	}
	r.handlers[taskType] = fn
}

// Resolve returns the handler for a task type, or ErrHandlerNotFound.
func (r *Registry) Resolve(taskType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, taskType)
	}
	return fn, nil
}

// Types lists the registered task types, sorted for stable logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
