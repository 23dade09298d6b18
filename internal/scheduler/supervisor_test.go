package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// gatedRunner blocks each task until the test releases it and tracks
// per-key concurrency.
type gatedRunner struct {
	mu       sync.Mutex
	order    []string
	running  map[Key]int
	overlap  bool
	release  chan struct{}
	finished atomic.Int32
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{running: make(map[Key]int), release: make(chan struct{})}
}

func (g *gatedRunner) run(ctx context.Context, task *Task) error {
	g.mu.Lock()
	g.order = append(g.order, task.Request.Text)
	g.running[task.Key]++
	if g.running[task.Key] > 1 {
		g.overlap = true
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.running[task.Key]--
		g.mu.Unlock()
		g.finished.Add(1)
	}()

	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedRunner) started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func TestSupervisor_FirstStartsRestQueueInOrder(t *testing.T) {
	g := newGatedRunner()
	s := NewSupervisor(g.run, Config{})
	key := Key{ChatID: 1, SenderID: 10}

	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, s.Submit(key, Request{Text: fmt.Sprintf("r%d", i), TriggerID: i}))
	}
	if outcomes[0] != StartedNow {
		t.Fatalf("first outcome = %v, want started", outcomes[0])
	}
	for i, o := range outcomes[1:] {
		if o != Queued {
			t.Errorf("outcome[%d] = %v, want queued", i+1, o)
		}
	}
	if n := len(s.Pending(key)); n != 4 {
		t.Errorf("pending = %d, want 4", n)
	}

	for i := 1; i <= 5; i++ {
		waitUntil(t, "task start", func() bool { return len(g.started()) == i })
		g.release <- struct{}{}
		waitUntil(t, "task finish", func() bool { return int(g.finished.Load()) == i })
	}

	want := []string{"r0", "r1", "r2", "r3", "r4"}
	got := g.started()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
	if g.overlap {
		t.Error("two tasks for the same key ran concurrently")
	}
	waitUntil(t, "key released", func() bool { _, ok := s.Active(key); return !ok })
	if st := s.Stats(); st.Active != 0 || st.Queued != 0 {
		t.Errorf("stats after drain = %+v, want zero", st)
	}
	if s.Submit(key, Request{Text: "again"}) != StartedNow {
		t.Error("submit after drain should start immediately")
	}
	s.Shutdown(context.Background())
}

func TestSupervisor_DistinctKeysRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()

	run := func(ctx context.Context, task *Task) error {
		wg.Done()
		select {
		case <-both:
			return nil
		case <-time.After(time.Second):
			return errors.New("peer task never started")
		}
	}
	var failures atomic.Int32
	s := NewSupervisor(func(ctx context.Context, task *Task) error {
		err := run(ctx, task)
		if err != nil {
			failures.Add(1)
		}
		return err
	}, Config{})

	s.Submit(Key{ChatID: 1, SenderID: 1}, Request{Text: "a"})
	s.Submit(Key{ChatID: 1, SenderID: 2}, Request{Text: "b"})

	select {
	case <-both:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks for different keys did not overlap")
	}
	s.Shutdown(context.Background())
	if failures.Load() != 0 {
		t.Error("a task timed out waiting for its peer")
	}
}

func TestSupervisor_FailureAndPanicFreeTheKey(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	s := NewSupervisor(func(ctx context.Context, task *Task) error {
		mu.Lock()
		ran = append(ran, task.Request.Text)
		mu.Unlock()
		switch task.Request.Text {
		case "fail":
			return errors.New("engine exploded")
		case "panic":
			panic("boom")
		}
		return nil
	}, Config{})
	key := Key{ChatID: 5, SenderID: 5}

	s.Submit(key, Request{Text: "fail"})
	s.Submit(key, Request{Text: "panic"})
	s.Submit(key, Request{Text: "ok"})

	waitUntil(t, "all tasks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 3
	})
	waitUntil(t, "key released", func() bool { _, ok := s.Active(key); return !ok })
	if got := s.Submit(key, Request{Text: "after"}); got != StartedNow {
		t.Errorf("submit after failures = %v, want started", got)
	}
	s.Shutdown(context.Background())
}

func TestSupervisor_CancelStartsNextQueued(t *testing.T) {
	g := newGatedRunner()
	s := NewSupervisor(g.run, Config{})
	defer s.Shutdown(context.Background())
	key := Key{ChatID: 3, SenderID: 4}

	if s.Cancel(key) {
		t.Error("Cancel on idle key should report false")
	}

	s.Submit(key, Request{Text: "long"})
	s.Submit(key, Request{Text: "next"})
	waitUntil(t, "first start", func() bool { return len(g.started()) == 1 })

	if !s.Cancel(key) {
		t.Fatal("Cancel on busy key should report true")
	}
	waitUntil(t, "queued start", func() bool { return len(g.started()) == 2 })
	if got := g.started()[1]; got != "next" {
		t.Errorf("second task = %q, want next", got)
	}
	g.release <- struct{}{}
}

func TestSupervisor_TimeoutCancelsTask(t *testing.T) {
	errCh := make(chan error, 1)
	s := NewSupervisor(func(ctx context.Context, task *Task) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}, Config{TaskTimeout: 20 * time.Millisecond})
	defer s.Shutdown(context.Background())

	s.Submit(Key{ChatID: 1, SenderID: 1}, Request{Text: "slow"})
	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("task ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled by timeout")
	}
}

func TestSupervisor_ShutdownCancelsAndRejects(t *testing.T) {
	g := newGatedRunner()
	s := NewSupervisor(g.run, Config{})
	key := Key{ChatID: 9, SenderID: 9}

	s.Submit(key, Request{Text: "running"})
	s.Submit(key, Request{Text: "queued"})
	waitUntil(t, "start", func() bool { return len(g.started()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := g.started(); len(got) != 1 {
		t.Errorf("queued request ran after shutdown: %v", got)
	}
	if got := s.Submit(key, Request{Text: "late"}); got != Rejected {
		t.Errorf("submit after shutdown = %v, want rejected", got)
	}
}

func TestSupervisor_TaskMetadata(t *testing.T) {
	got := make(chan *Task, 1)
	s := NewSupervisor(func(ctx context.Context, task *Task) error {
		got <- task
		return nil
	}, Config{})
	defer s.Shutdown(context.Background())

	enq := time.Now().Add(-time.Second)
	key := Key{ChatID: -100, SenderID: 7}
	s.Submit(key, Request{Text: "hi", TriggerID: 55, EnqueuedAt: enq})

	task := <-got
	if task.Key != key || task.Request.TriggerID != 55 || !task.Request.EnqueuedAt.Equal(enq) {
		t.Errorf("unexpected task %+v", task)
	}
	if task.ID == "" || task.StartedAt.Before(enq) {
		t.Errorf("task id/start not populated: %+v", task)
	}
	if key.String() != "-100:7" {
		t.Errorf("Key.String() = %q", key.String())
	}
}
