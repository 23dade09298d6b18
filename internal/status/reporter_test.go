package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type recordingEditor struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *recordingEditor) edit(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return e.err
}

func (e *recordingEditor) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func waitForEdits(t *testing.T, e *recordingEditor, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := e.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d edits, want %d", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReporter_RenderShowsLastTenAndKeepsFullLog(t *testing.T) {
	ed := &recordingEditor{}
	r := NewReporter(42, time.Hour, ed.edit)
	defer r.Stop()

	for i := 0; i < 25; i++ {
		r.Record("step", i)
	}

	events := r.Events()
	if len(events) != 25 {
		t.Fatalf("log holds %d events, want all 25", len(events))
	}
	if events[0].Snippet != "0" || events[24].Snippet != "24" {
		t.Errorf("log order: first=%q last=%q", events[0].Snippet, events[24].Snippet)
	}

	lines := strings.Split(r.Render(), "\n")
	if lines[0] != "context_42.jsonl updating..." {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want header + 10", len(lines))
	}
	if lines[1] != "• step: 15" || lines[10] != "• step: 24" {
		t.Errorf("unexpected window: first=%q last=%q", lines[1], lines[10])
	}
}

func TestReporter_RenderFitsEditLimit(t *testing.T) {
	r := NewReporter(42, time.Hour, func(context.Context, string) error { return nil })
	defer r.Stop()

	for i := 0; i < 10; i++ {
		r.Record(fmt.Sprintf("s%d", i), strings.Repeat("z", 1500))
	}

	view := r.Render()
	if n := utf8.RuneCountInString(view); n > maxViewRunes {
		t.Fatalf("view is %d runes, want at most %d", n, maxViewRunes)
	}
	if !strings.HasSuffix(view, "…") || !strings.Contains(view, "• s9: ") {
		t.Error("newest event missing from the view")
	}
	if strings.Contains(view, "• s0: ") {
		t.Error("oldest event should be left out of an oversized view")
	}
	if len(r.Events()) != 10 {
		t.Errorf("log holds %d events, want 10", len(r.Events()))
	}
}

func TestReporter_SnippetFormatting(t *testing.T) {
	long := strings.Repeat("x", 1500)
	tests := []struct {
		name   string
		output any
		want   string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"newlines flattened", "a\nb\r\nc", "a b c"},
		{"error", errors.New("boom"), "boom"},
		{"struct", struct{ N int }{7}, "{7}"},
		{"exactly limit", strings.Repeat("y", 1000), strings.Repeat("y", 1000)},
		{"truncated", long, strings.Repeat("x", 997) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snippet(tt.output); got != tt.want {
				t.Errorf("snippet() = %q (len %d), want len %d", got, utf8.RuneCountInString(got), utf8.RuneCountInString(tt.want))
			}
		})
	}
}

func TestReporter_BurstCoalescesToTwoEdits(t *testing.T) {
	ed := &recordingEditor{}
	r := NewReporter(7, 150*time.Millisecond, ed.edit)
	defer r.Stop()

	for i := 0; i < 20; i++ {
		r.Record("tick", i)
		time.Sleep(2 * time.Millisecond)
	}

	got := waitForEdits(t, ed, 2)
	time.Sleep(250 * time.Millisecond)
	got = ed.snapshot()
	if len(got) != 2 {
		t.Fatalf("got %d edits, want 2", len(got))
	}
	last := got[len(got)-1]
	if !strings.HasSuffix(last, "• tick: 19") {
		t.Errorf("final edit should show the latest event, got %q", last)
	}
}

func TestReporter_StopPreventsLaterEdits(t *testing.T) {
	ed := &recordingEditor{}
	r := NewReporter(7, 100*time.Millisecond, ed.edit)

	r.Record("first", "a")
	waitForEdits(t, ed, 1)
	r.Record("second", "b") // deferred
	r.Stop()
	r.Record("third", "c") // ignored

	time.Sleep(200 * time.Millisecond)
	if got := ed.snapshot(); len(got) != 1 {
		t.Errorf("got %d edits after Stop, want 1: %v", len(got), got)
	}
	for _, ev := range r.Events() {
		if ev.Stage == "third" {
			t.Error("event recorded after Stop")
		}
	}
}

func TestReporter_EditErrorsAreSwallowed(t *testing.T) {
	ed := &recordingEditor{err: fmt.Errorf("telegram: message not found")}
	r := NewReporter(1, 20*time.Millisecond, ed.edit)
	defer r.Stop()

	r.Record("a", 1)
	waitForEdits(t, ed, 1)
	time.Sleep(30 * time.Millisecond)
	r.Record("b", 2)
	waitForEdits(t, ed, 2)
}
