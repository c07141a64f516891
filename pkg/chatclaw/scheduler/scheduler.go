// Package scheduler maintains the live cron job registry for ChatClaw.
// Uses robfig/cron for cron expression parsing and execution. Every persisted
// task owns exactly one live job; a periodic sync pass reconciles newly
// inserted rows into the registry without touching jobs that already run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// specParser accepts standard 5-field cron, optional seconds (6 fields),
// descriptors (@daily, @hourly, ...) and @every intervals. Validation and
// scheduling share this parser so they can never disagree about the grammar.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec reports whether a cron expression is schedulable.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Engine produces the reply text for a fired task's prompt.
type Engine interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Messenger delivers a fired task's output to its chat.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// MaintenanceFunc is a periodic housekeeping sweep (task sync, conversation
// reaper, session reaper). Sweeps swallow their own errors per iteration and
// simply run again on the next tick.
type MaintenanceFunc func(ctx context.Context)

// Config holds scheduler settings.
type Config struct {
	// Timezone is the location cron expressions are evaluated in. It is an
	// explicit setting threaded into job construction, never a hidden default.
	Timezone string `yaml:"timezone"`

	// SyncSpec is the cron expression for the task sync pass.
	SyncSpec string `yaml:"sync_spec"`

	// JobTimeoutSeconds bounds a single task execution.
	JobTimeoutSeconds int `yaml:"job_timeout_seconds"`
}

// DefaultConfig returns scheduler defaults matching the reference cadence.
func DefaultConfig() Config {
	return Config{
		Timezone:          "UTC",
		SyncSpec:          "*/5 * * * *",
		JobTimeoutSeconds: 300,
	}
}

type maintenanceEntry struct {
	name string
	spec string
	fn   MaintenanceFunc
}

// Scheduler owns the live job registry and the maintenance jobs.
type Scheduler struct {
	cfg       Config
	store     *store.Store
	engine    Engine
	messenger Messenger
	logger    *slog.Logger

	cron *cron.Cron

	// jobs maps task ids to their cron entry ids. The registry is the source
	// of truth for "already scheduled": sync only ever adds missing ids.
	jobs map[int64]cron.EntryID

	// maintenance holds the fixed housekeeping jobs registered before Start.
	maintenance []maintenanceEntry
	maintIDs    []cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. The timezone is resolved eagerly so a bad
// configuration fails at construction, not at first fire.
func New(cfg Config, st *store.Store, engine Engine, messenger Messenger, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.SyncSpec == "" {
		cfg.SyncSpec = "*/5 * * * *"
	}
	if cfg.JobTimeoutSeconds <= 0 {
		cfg.JobTimeoutSeconds = 300
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cfg:       cfg,
		store:     st,
		engine:    engine,
		messenger: messenger,
		logger:    logger.With("component", "scheduler"),
		cron:      cron.New(cron.WithParser(specParser), cron.WithLocation(loc)),
		jobs:      make(map[int64]cron.EntryID),
	}, nil
}

// AddMaintenance registers a fixed housekeeping job. Must be called before
// Start.
func (s *Scheduler) AddMaintenance(name, spec string, fn MaintenanceFunc) {
	s.maintenance = append(s.maintenance, maintenanceEntry{name: name, spec: spec, fn: fn})
}

// Start loads every persisted task into a live job, registers the sync pass
// and any maintenance jobs, and starts the cron runner. Zero persisted tasks
// is a normal startup, not a failure.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	tasks, err := s.store.ListTasks(s.ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	s.mu.Lock()
	for _, task := range tasks {
		if err := s.scheduleLocked(task); err != nil {
			s.logger.Warn("skipping task with invalid schedule",
				"id", task.ID, "cron", task.Cron, "error", err)
		}
	}
	s.mu.Unlock()

	syncID, err := s.cron.AddFunc(s.cfg.SyncSpec, func() { s.Sync(s.ctx) })
	if err != nil {
		return fmt.Errorf("register sync job: %w", err)
	}
	s.maintIDs = append(s.maintIDs, syncID)

	for _, m := range s.maintenance {
		m := m
		id, err := s.cron.AddFunc(m.spec, func() { m.fn(s.ctx) })
		if err != nil {
			return fmt.Errorf("register %s job: %w", m.name, err)
		}
		s.maintIDs = append(s.maintIDs, id)
		s.logger.Info("maintenance job registered", "name", m.name, "spec", m.spec)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"jobs", len(tasks),
		"timezone", s.cfg.Timezone,
		"sync_spec", s.cfg.SyncSpec,
	)
	return nil
}

// Sync reconciles newly persisted tasks into the live registry. Ids already
// registered are never touched or restarted, so a running job keeps its
// next-fire countdown even if its row changed. Deleted rows are also left
// alone: their live jobs run until the process restarts.
func (s *Scheduler) Sync(ctx context.Context) {
	s.mu.Lock()
	registered := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		registered = append(registered, id)
	}
	s.mu.Unlock()

	tasks, err := s.store.ListTasksExcluding(ctx, registered)
	if err != nil {
		s.logger.Error("sync: failed to list tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, task := range tasks {
		if _, exists := s.jobs[task.ID]; exists {
			continue
		}
		if err := s.scheduleLocked(task); err != nil {
			s.logger.Warn("sync: skipping task with invalid schedule",
				"id", task.ID, "cron", task.Cron, "error", err)
			continue
		}
		added++
	}
	s.logger.Info("sync complete", "new_jobs", added)
}

// Stop tears down live jobs. With no arguments it stops everything including
// the maintenance jobs and waits briefly for in-flight runs; with task ids it
// removes just those entries.
func (s *Scheduler) Stop(ids ...int64) {
	s.mu.Lock()
	if len(ids) == 0 {
		for taskID, entryID := range s.jobs {
			s.cron.Remove(entryID)
			delete(s.jobs, taskID)
		}
		for _, entryID := range s.maintIDs {
			s.cron.Remove(entryID)
		}
		s.maintIDs = nil
	} else {
		for _, taskID := range ids {
			if entryID, ok := s.jobs[taskID]; ok {
				s.cron.Remove(entryID)
				delete(s.jobs, taskID)
			}
		}
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		return
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// Registered returns the task ids with a live job, for status reporting.
func (s *Scheduler) Registered() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// scheduleLocked registers one task with the cron runner. Caller holds mu.
func (s *Scheduler) scheduleLocked(task store.Task) error {
	entryID, err := s.cron.AddFunc(task.Cron, func() {
		s.runTask(task)
	})
	if err != nil {
		return err
	}
	s.jobs[task.ID] = entryID
	s.logger.Info("task scheduled", "id", task.ID, "cron", task.Cron, "chat_id", task.ChatID)
	return nil
}

// runTask executes one firing of a task: prompt through the engine, reply to
// the chat. Errors and panics are contained here; a failed run never stops
// the task's future firings or affects other jobs.
func (s *Scheduler) runTask(task store.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "id", task.ID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.JobTimeoutSeconds)*time.Second)
	defer cancel()

	s.logger.Info("running task", "id", task.ID, "chat_id", task.ChatID)

	reply, err := s.engine.Respond(ctx, task.Prompt)
	if err != nil {
		s.logger.Error("task failed", "id", task.ID, "error", err)
		return
	}

	if err := s.messenger.SendMessage(ctx, task.ChatID, reply); err != nil {
		s.logger.Error("task delivery failed", "id", task.ID, "chat_id", task.ChatID, "error", err)
		return
	}

	s.logger.Info("task completed", "id", task.ID)
}
