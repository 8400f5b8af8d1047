// Package tasks tracks interactive logins that run in the background.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

// ErrTaskNotFound is returned for unknown or reaped task ids.
var ErrTaskNotFound = errors.New("task not found")

type entry struct {
	task   schemas.Task
	cancel context.CancelFunc
	// reaped marks a timeout set by the reaper rather than the runner.
	reaped bool
}

// Manager is the registry of background tasks. Finished tasks are swept by a cron job
// once they are older than the TTL; tasks that outlive their deadline are cancelled.
type Manager struct {
	log  *zap.Logger
	ttl  time.Duration
	cron *cron.Cron

	// Now is the clock used for timestamps and reaping.
	Now func() time.Time

	mu    sync.RWMutex
	tasks map[string]*entry
}

// NewManager creates a manager and registers the reaper on the configured schedule.
func NewManager(cfg config.TasksConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		log:   logger.Named("tasks"),
		ttl:   cfg.TTL,
		cron:  cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		Now:   time.Now,
		tasks: make(map[string]*entry),
	}
	schedule := cfg.ReapSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := m.cron.AddFunc(schedule, func() { m.Reap() }); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start begins the reaper schedule.
func (m *Manager) Start() {
	m.cron.Start()
	m.log.Debug("Task reaper started.", zap.Int("entries", len(m.cron.Entries())))
}

// Stop halts the reaper, cancels running tasks and waits for a running sweep.
func (m *Manager) Stop(ctx context.Context) error {
	cronCtx := m.cron.Stop()

	m.mu.Lock()
	for _, e := range m.tasks {
		if !e.task.Status.Finished() && e.cancel != nil {
			e.cancel()
		}
	}
	m.mu.Unlock()

	select {
	case <-cronCtx.Done():
		return nil
	case <-ctx.Done():
		m.log.Warn("Task reaper did not stop in time.")
		return ctx.Err()
	}
}

// Create registers a task waiting for login. The reaper times the task out once
// timeout plus grace has passed; grace covers launch and per-tick overhead the runner
// spends beyond its nominal timeout. cancel, when non-nil, is invoked by Cancel.
func (m *Manager) Create(taskType schemas.TaskType, timeout, grace time.Duration, cancel context.CancelFunc) schemas.Task {
	now := m.Now()
	t := schemas.Task{
		TaskID:    uuid.NewString(),
		Type:      taskType,
		Status:    schemas.TaskWaitingForLogin,
		Timeout:   int(timeout / time.Second),
		CreatedAt: now,
		UpdatedAt: now,
		Deadline:  now.Add(timeout + grace),
	}

	m.mu.Lock()
	m.tasks[t.TaskID] = &entry{task: t, cancel: cancel}
	m.mu.Unlock()

	m.log.Info("Task created.", zap.String("task_id", t.TaskID), zap.String("type", string(taskType)))
	return t
}

// Update records a new status. A finished task keeps its first terminal status, except
// that a runner reporting completion replaces a timeout set by the reaper.
func (m *Manager) Update(id string, status schemas.TaskStatus, result *schemas.LoginResult, errMsg string) (schemas.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[id]
	if !ok {
		return schemas.Task{}, ErrTaskNotFound
	}
	if e.task.Status.Finished() {
		if !e.reaped || status != schemas.TaskCompleted {
			return e.task, nil
		}
		e.reaped = false
		e.task.Error = ""
	}
	e.task.Status = status
	e.task.UpdatedAt = m.Now()
	if result != nil {
		e.task.Result = result
	}
	if errMsg != "" {
		e.task.Error = errMsg
	}
	if status.Finished() {
		e.cancel = nil
	}
	m.log.Info("Task updated.", zap.String("task_id", id), zap.String("status", string(status)))
	return e.task, nil
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (schemas.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	if !ok {
		return schemas.Task{}, ErrTaskNotFound
	}
	return e.task, nil
}

// List returns every task, newest first.
func (m *Manager) List() []schemas.Task {
	m.mu.RLock()
	out := make([]schemas.Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e.task)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel asks a running task to stop. The runner reports the final status.
func (m *Manager) Cancel(id string) (schemas.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return schemas.Task{}, ErrTaskNotFound
	}
	if !e.task.Status.Finished() && e.cancel != nil {
		e.cancel()
		m.log.Info("Task cancellation requested.", zap.String("task_id", id))
	}
	return e.task, nil
}

// Delete removes a task, cancelling it first if it is still running.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !e.task.Status.Finished() && e.cancel != nil {
		e.cancel()
	}
	delete(m.tasks, id)
	return nil
}

// Reap removes finished tasks older than the TTL and times out tasks past their
// deadline. It returns the number of tasks removed.
func (m *Manager) Reap() int {
	now := m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.tasks {
		switch {
		case e.task.Status.Finished():
			if now.Sub(e.task.UpdatedAt) > m.ttl {
				delete(m.tasks, id)
				removed++
			}
		case !e.task.Deadline.IsZero() && now.After(e.task.Deadline):
			if e.cancel != nil {
				e.cancel()
				e.cancel = nil
			}
			e.task.Status = schemas.TaskTimeout
			e.task.Error = "task exceeded its deadline"
			e.reaped = true
			e.task.UpdatedAt = now
			m.log.Warn("Task timed out.", zap.String("task_id", id))
		}
	}
	if removed > 0 {
		m.log.Debug("Reaped tasks.", zap.Int("removed", removed), zap.Int("remaining", len(m.tasks)))
	}
	return removed
}
