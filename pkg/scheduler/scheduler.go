// Copyright 2025 Certen Protocol
//
// Package scheduler runs the persisted deferred-task queue: a bounded
// pool of workers repeatedly claims due tasks from Store and dispatches
// them to the handler registered for their kind.

package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/store"
)

// Handler processes one task and reports whether it completed. A false
// return (no error) requeues the task after the kind's retry interval;
// a returned error requeues it after the after-error interval instead.
// Handlers must be idempotent: at-least-once delivery means the same
// task can run more than once.
type Handler func(ctx context.Context, task store.ScheduledTask) (bool, error)

// State is the scheduler's run/stop lifecycle; there is no paused state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

const defaultPollInterval = 2 * time.Second

// TaskStore is the slice of store.Store the scheduler depends on. The
// production store.Postgres implements it as part of the full Store
// interface; tests can supply a narrower fake.
type TaskStore interface {
	ClaimDueTasks(ctx context.Context, limit int) ([]store.ScheduledTask, error)
	RescheduleTask(ctx context.Context, taskID uuid.UUID, runAfter time.Time) error
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
}

// Scheduler polls Store for due tasks and fans them out to a bounded
// worker pool built from golang.org/x/sync/errgroup.
type Scheduler struct {
	mu sync.RWMutex

	store    TaskStore
	tasks    config.TasksConfig
	workers  int
	poll     time.Duration
	logger   *log.Logger
	handlers map[store.TaskKind]Handler

	state  State
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers overrides the number of concurrent task handlers. Default 4.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPollInterval overrides how often the scheduler checks for due tasks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New builds a Scheduler backed by st, with per-task-kind retry
// intervals drawn from tasks.
func New(st TaskStore, tasks config.TasksConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		tasks:    tasks,
		workers:  4,
		poll:     defaultPollInterval,
		logger:   log.New(log.Writer(), "[Scheduler] ", log.LstdFlags),
		handlers: make(map[store.TaskKind]Handler),
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the handler for kind. Call before Start.
func (s *Scheduler) Register(kind store.TaskKind, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Start begins polling for due tasks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Printf("scheduler started (workers=%d, poll=%s)", s.workers, s.poll)
	return nil
}

// Stop halts polling and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.state = StateStopped
	s.mu.Unlock()

	<-s.doneCh
	s.logger.Println("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.drainOnce(ctx); err != nil {
				s.logger.Printf("drain cycle failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) drainOnce(ctx context.Context) error {
	tasks, err := s.store.ClaimDueTasks(ctx, s.workers)
	if err != nil {
		return fmt.Errorf("claim due tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			s.dispatch(groupCtx, task)
			return nil
		})
	}
	return group.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, task store.ScheduledTask) {
	s.mu.RLock()
	handler, ok := s.handlers[task.Kind]
	s.mu.RUnlock()
	if !ok {
		s.logger.Printf("no handler registered for task kind %s, dropping task %s", task.Kind, task.ID)
		if err := s.store.DeleteTask(ctx, task.ID); err != nil {
			s.logger.Printf("delete unhandled task %s: %v", task.ID, err)
		}
		return
	}

	done, err := handler(ctx, task)
	retryAfter := s.retryInterval(task.Kind)
	if err != nil {
		s.logger.Printf("task %s (%s) raised: %v", task.ID, task.Kind, err)
		retryAfter = s.retryIntervalAfterError(task.Kind)
		if rescheduleErr := s.store.RescheduleTask(ctx, task.ID, time.Now().Add(retryAfter)); rescheduleErr != nil {
			s.logger.Printf("reschedule task %s after error: %v", task.ID, rescheduleErr)
		}
		return
	}
	if done {
		if err := s.store.DeleteTask(ctx, task.ID); err != nil {
			s.logger.Printf("delete completed task %s: %v", task.ID, err)
		}
		return
	}
	if err := s.store.RescheduleTask(ctx, task.ID, time.Now().Add(retryAfter)); err != nil {
		s.logger.Printf("reschedule task %s: %v", task.ID, err)
	}
}

func (s *Scheduler) retryInterval(kind store.TaskKind) time.Duration {
	return s.taskConfig(kind).RetryInterval()
}

func (s *Scheduler) retryIntervalAfterError(kind store.TaskKind) time.Duration {
	return s.taskConfig(kind).RetryIntervalAfterError()
}

func (s *Scheduler) taskConfig(kind store.TaskKind) config.TaskConfig {
	switch kind {
	case store.TaskConfirmTransfer:
		return s.tasks.ConfirmTransfer
	case store.TaskSubmitTransferOnchain:
		return s.tasks.SubmitTransferOnchain
	case store.TaskSubmitTransferToPrimaryNode:
		return s.tasks.SubmitTransferToPrimaryNode
	case store.TaskValidateTransfer:
		return s.tasks.ValidateTransfer
	default:
		return config.TaskConfig{}
	}
}
