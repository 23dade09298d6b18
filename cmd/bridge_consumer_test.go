package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/voicebridge/internal/bus"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery/deliverytest"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
)

func TestDispatchInbound_BusyNoticeOnQueue(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)
	sup := scheduler.NewSupervisor(func(ctx context.Context, task *scheduler.Task) error {
		started <- task.Request.Text
		<-release
		return nil
	}, scheduler.Config{})
	out := deliverytest.New()
	notices := newBusyNotifier(out)
	ctx := context.Background()

	first := bus.InboundMessage{ChatID: 7, SenderID: 7, MessageID: 1, Content: "alice: one"}
	second := bus.InboundMessage{ChatID: 7, SenderID: 7, MessageID: 2, Content: "alice: two"}
	other := bus.InboundMessage{ChatID: 7, SenderID: 8, MessageID: 3, Content: "bob: hi"}

	if got := dispatchInbound(ctx, first, sup, notices); got != scheduler.StartedNow {
		t.Fatalf("first = %v", got)
	}
	if got := dispatchInbound(ctx, second, sup, notices); got != scheduler.Queued {
		t.Fatalf("second = %v", got)
	}
	if got := dispatchInbound(ctx, other, sup, notices); got != scheduler.StartedNow {
		t.Fatalf("other sender = %v", got)
	}

	notices.wait()
	calls := out.Calls()
	if len(calls) != 1 || calls[0].Text != BusyText || calls[0].ReplyTo != 2 {
		t.Fatalf("calls = %+v", calls)
	}

	close(release)
	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case text := <-started:
			seen[text] = true
		case <-deadline:
			t.Fatalf("only ran %v", seen)
		}
	}
	for _, want := range []string{"alice: one", "alice: two", "bob: hi"} {
		if !seen[want] {
			t.Errorf("%q never ran", want)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestDispatchInbound_SlowNoticeDoesNotDelayOtherChats(t *testing.T) {
	release := make(chan struct{})
	started := make(chan int64, 8)
	sup := scheduler.NewSupervisor(func(ctx context.Context, task *scheduler.Task) error {
		started <- task.Key.ChatID
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, scheduler.Config{})
	defer func() {
		close(release)
		sup.Shutdown(context.Background())
	}()

	out := deliverytest.New()
	out.FailSend = func(text string) error {
		if text == BusyText {
			time.Sleep(300 * time.Millisecond)
		}
		return nil
	}
	notices := newBusyNotifier(out)
	defer notices.wait()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		dispatchInbound(ctx, bus.InboundMessage{ChatID: 1, SenderID: 1, MessageID: i, Content: "flood"}, sup, notices)
	}
	<-started

	begin := time.Now()
	if got := dispatchInbound(ctx, bus.InboundMessage{ChatID: 2, SenderID: 2, MessageID: 9, Content: "hello"}, sup, notices); got != scheduler.StartedNow {
		t.Fatalf("other chat = %v, want started", got)
	}
	select {
	case chat := <-started:
		if chat != 2 {
			t.Fatalf("started chat %d, want 2", chat)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("other chat never started")
	}
	if elapsed := time.Since(begin); elapsed > 150*time.Millisecond {
		t.Errorf("other chat started after %v; busy notices held up dispatch", elapsed)
	}
}

func TestConsumeInbound_StopsWhenBusCloses(t *testing.T) {
	b := bus.New(4)
	sup := scheduler.NewSupervisor(func(context.Context, *scheduler.Task) error { return nil }, scheduler.Config{})
	out := deliverytest.New()

	done := make(chan struct{})
	go func() {
		consumeInbound(context.Background(), b, sup, out)
		close(done)
	}()
	b.PublishInbound(bus.InboundMessage{ChatID: 1, SenderID: 1, MessageID: 5, Content: "x: hi"})
	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after Close")
	}
}
