// Package scheduler serializes work per conversation: at most one task runs
// for a given chat/sender pair while later requests wait in FIFO order.
// Distinct pairs run concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nextlevelbuilder/voicebridge/internal/scheduler"

// Key identifies a conversation: one sender in one chat.
type Key struct {
	ChatID   int64
	SenderID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.SenderID)
}

// Request is one unit of user work waiting to run.
type Request struct {
	Text       string
	TriggerID  int // message id the replies attach to
	EnqueuedAt time.Time
}

// Task is the running request for a key.
type Task struct {
	ID        string
	Key       Key
	Request   Request
	StartedAt time.Time

	cancel context.CancelFunc
	once   sync.Once
}

// Outcome reports what Submit did with a request.
type Outcome int

const (
	StartedNow Outcome = iota
	Queued
	Rejected // supervisor is shut down
)

func (o Outcome) String() string {
	switch o {
	case StartedNow:
		return "started"
	case Queued:
		return "queued"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// RunFunc executes a task. Its error is logged; it never affects scheduling.
type RunFunc func(ctx context.Context, task *Task) error

// Config tunes a Supervisor.
type Config struct {
	// TaskTimeout bounds a single task. Zero means no limit.
	TaskTimeout time.Duration
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Stats is a point-in-time view of the supervisor.
type Stats struct {
	Active int
	Queued int
}

// Supervisor owns the per-key active task table and pending queues.
// All bookkeeping is guarded by one mutex; no task code runs while it is held.
type Supervisor struct {
	run     RunFunc
	timeout time.Duration
	tracer  trace.Tracer

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	active map[Key]*Task
	queues map[Key][]Request
	closed bool

	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor that executes tasks with run.
func NewSupervisor(run RunFunc, cfg Config) *Supervisor {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		run:        run,
		timeout:    cfg.TaskTimeout,
		tracer:     tracer,
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(map[Key]*Task),
		queues:     make(map[Key][]Request),
	}
}

// Submit starts req immediately when key is idle, otherwise appends it to
// the key's queue. It never blocks on task execution.
func (s *Supervisor) Submit(key Key, req Request) Outcome {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Rejected
	}
	if _, busy := s.active[key]; busy {
		s.queues[key] = append(s.queues[key], req)
		slog.Debug("scheduler: request queued", "key", key, "pending", len(s.queues[key]))
		return Queued
	}
	s.startLocked(key, req)
	return StartedNow
}

// Cancel cancels the active task for key. Queued requests are kept and the
// next one starts once the cancelled task unwinds.
func (s *Supervisor) Cancel(key Key) bool {
	s.mu.Lock()
	t := s.active[key]
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	slog.Info("scheduler: task cancel requested", "key", key, "task_id", t.ID)
	return true
}

// Active returns the running task for key, if any.
func (s *Supervisor) Active(key Key) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[key]
	return t, ok
}

// Pending returns a copy of the requests waiting behind key's active task.
func (s *Supervisor) Pending(key Key) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.queues[key]...)
}

func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Active: len(s.active)}
	for _, q := range s.queues {
		st.Queued += len(q)
	}
	return st
}

// Shutdown rejects new submissions, drops queued requests, cancels running
// tasks and waits for them to return or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := 0
	for k, q := range s.queues {
		dropped += len(q)
		delete(s.queues, k)
	}
	for _, t := range s.active {
		t.cancel()
	}
	s.mu.Unlock()
	s.baseCancel()

	if dropped > 0 {
		slog.Info("scheduler: dropped queued requests on shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// startLocked registers and launches a task. Caller holds s.mu.
func (s *Supervisor) startLocked(key Key, req Request) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if s.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.timeout)
		cancelParent := cancel
		cancel = func() {
			cancelTimeout()
			cancelParent()
		}
	}

	t := &Task{
		ID:        uuid.NewString(),
		Key:       key,
		Request:   req,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	s.active[key] = t
	s.wg.Add(1)
	go s.execute(ctx, t)
}

func (s *Supervisor) execute(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer s.complete(t)

	ctx, span := s.tracer.Start(ctx, "scheduler.task", trace.WithAttributes(
		attribute.Int64("chat_id", t.Key.ChatID),
		attribute.Int64("sender_id", t.Key.SenderID),
		attribute.String("task_id", t.ID),
		attribute.Int64("queue_wait_ms", t.StartedAt.Sub(t.Request.EnqueuedAt).Milliseconds()),
	))
	defer span.End()

	err := s.invoke(ctx, t)
	switch {
	case err == nil:
		slog.Debug("scheduler: task finished", "key", t.Key, "task_id", t.ID, "elapsed", time.Since(t.StartedAt))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		span.SetAttributes(attribute.Bool("cancelled", true))
		slog.Info("scheduler: task cancelled", "key", t.Key, "task_id", t.ID, "error", err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("scheduler: task failed", "key", t.Key, "task_id", t.ID, "error", err)
	}
}

func (s *Supervisor) invoke(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: task panicked", "key", t.Key, "task_id", t.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return s.run(ctx, t)
}

// complete frees the key and starts the oldest queued request, if any.
// It runs once per task regardless of how the task ended.
func (s *Supervisor) complete(t *Task) {
	t.once.Do(func() {
		t.cancel()

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.active[t.Key] == t {
			delete(s.active, t.Key)
		}
		if s.closed {
			return
		}
		q := s.queues[t.Key]
		if len(q) == 0 {
			delete(s.queues, t.Key)
			return
		}
		next := q[0]
		if len(q) == 1 {
			delete(s.queues, t.Key)
		} else {
			q[0] = Request{}
			s.queues[t.Key] = q[1:]
		}
		s.startLocked(t.Key, next)
	})
}
