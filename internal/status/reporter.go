// Package status renders engine progress into a single placeholder message,
// throttled so the chat transport is edited at most once per interval.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/voicebridge/internal/debounce"
)

const (
	// DefaultInterval is the minimum spacing between two placeholder edits.
	DefaultInterval = 5 * time.Second

	maxVisibleEvents = 10
	maxSnippetRunes  = 1000
	// maxViewRunes keeps the rendered view under the platform edit limit.
	maxViewRunes = 4000
	editTimeout      = 10 * time.Second
)

// Event is one progress update from the engine.
type Event struct {
	Stage   string
	Snippet string
}

// EditFunc replaces the placeholder text.
type EditFunc func(ctx context.Context, text string) error

// Reporter accumulates progress events for one task and mirrors the
// latest view into the placeholder.
type Reporter struct {
	chatID  int64
	edit    EditFunc
	emitter *debounce.Emitter

	mu       sync.Mutex
	events   []Event
	lastSent string
}

// NewReporter creates a reporter for chatID. interval <= 0 uses DefaultInterval.
func NewReporter(chatID int64, interval time.Duration, edit EditFunc) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reporter{chatID: chatID, edit: edit}
	r.emitter = debounce.New(interval, r.flush)
	return r
}

// Record appends a progress event and schedules a placeholder update.
// Never blocks on the transport.
func (r *Reporter) Record(stage string, output any) {
	if r.emitter.Stopped() {
		return
	}
	ev := Event{Stage: stage, Snippet: snippet(output)}

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	r.emitter.Trigger()
}

// Stop cancels a pending update and waits for an in-flight one, so the
// placeholder is not edited after Stop returns.
func (r *Reporter) Stop() {
	r.emitter.Stop()
}

// Events returns a copy of every recorded event, oldest first.
func (r *Reporter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Render builds the placeholder text: a header line followed by the last
// events, one per line. Older lines are left out while the view would
// exceed the edit limit.
func (r *Reporter) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked()
}

func (r *Reporter) renderLocked() string {
	visible := r.events
	if len(visible) > maxVisibleEvents {
		visible = visible[len(visible)-maxVisibleEvents:]
	}

	header := fmt.Sprintf("context_%d.jsonl updating...", r.chatID)
	total := utf8.RuneCountInString(header)
	lines := make([]string, len(visible))
	for i, ev := range visible {
		lines[i] = fmt.Sprintf("\n• %s: %s", ev.Stage, ev.Snippet)
		total += utf8.RuneCountInString(lines[i])
	}
	for len(lines) > 1 && total > maxViewRunes {
		total -= utf8.RuneCountInString(lines[0])
		lines = lines[1:]
	}
	return header + strings.Join(lines, "")
}

func (r *Reporter) flush() {
	r.mu.Lock()
	text := r.renderLocked()
	if text == r.lastSent {
		r.mu.Unlock()
		return
	}
	r.lastSent = text
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), editTimeout)
	defer cancel()
	if err := r.edit(ctx, text); err != nil {
		slog.Debug("status: placeholder edit failed", "chat_id", r.chatID, "error", err)
	}
}

func snippet(output any) string {
	var s string
	switch v := output.(type) {
	case nil:
		s = ""
	case string:
		s = v
	case error:
		s = v.Error()
	default:
		s = fmt.Sprint(v)
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")

	runes := []rune(s)
	if len(runes) > maxSnippetRunes {
		s = string(runes[:maxSnippetRunes-3]) + "…"
	}
	return s
}
