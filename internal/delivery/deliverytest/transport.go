// Package deliverytest provides an in-memory delivery.Transport for tests.
package deliverytest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/voicebridge/internal/audio"
)

// Call is one recorded transport call.
type Call struct {
	Op        string // send, edit, delete, pin, unpin, voice
	ChatID    int64
	MessageID int // target message for edit/delete/pin/unpin, new id for send/voice
	ReplyTo   int
	Text      string // text, or voice file contents
}

// Transport records every call. Fail* hooks make individual operations fail.
type Transport struct {
	mu     sync.Mutex
	nextID int
	calls  []Call

	FailSend  func(text string) error
	FailEdit  func(text string) error
	FailPin   error
	FailVoice error
}

func New() *Transport {
	return &Transport{nextID: 1000}
}

func (t *Transport) record(c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
}

func (t *Transport) newID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

func (t *Transport) SendText(_ context.Context, chatID int64, text string, replyTo int) (int, error) {
	if t.FailSend != nil {
		if err := t.FailSend(text); err != nil {
			return 0, err
		}
	}
	id := t.newID()
	t.record(Call{Op: "send", ChatID: chatID, MessageID: id, ReplyTo: replyTo, Text: text})
	return id, nil
}

func (t *Transport) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	if t.FailEdit != nil {
		if err := t.FailEdit(text); err != nil {
			return err
		}
	}
	t.record(Call{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (t *Transport) Delete(_ context.Context, chatID int64, messageID int) error {
	t.record(Call{Op: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (t *Transport) Pin(_ context.Context, chatID int64, messageID int) error {
	if t.FailPin != nil {
		return t.FailPin
	}
	t.record(Call{Op: "pin", ChatID: chatID, MessageID: messageID})
	return nil
}

func (t *Transport) Unpin(_ context.Context, chatID int64, messageID int) error {
	t.record(Call{Op: "unpin", ChatID: chatID, MessageID: messageID})
	return nil
}

func (t *Transport) SendVoice(_ context.Context, chatID int64, path string, replyTo int) (int, error) {
	if t.FailVoice != nil {
		return 0, t.FailVoice
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read voice: %w", err)
	}
	id := t.newID()
	t.record(Call{Op: "voice", ChatID: chatID, MessageID: id, ReplyTo: replyTo, Text: string(data)})
	return id, nil
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Ops returns the recorded operation names in order.
func (t *Transport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]string, len(t.calls))
	for i, c := range t.calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many calls of op were recorded.
func (t *Transport) Count(op string) int {
	n := 0
	for _, c := range t.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Synth is a Synthesizer writing one file per sentence-like part.
type Synth struct {
	Dir   string
	Parts func(text string) []string
	Err   error

	mu      sync.Mutex
	written []string
}

func (s *Synth) Synthesize(_ context.Context, text string) ([]audio.Segment, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	parts := []string{text}
	if s.Parts != nil {
		parts = s.Parts(text)
	}
	var out []audio.Segment
	for _, p := range parts {
		s.mu.Lock()
		path := filepath.Join(s.Dir, fmt.Sprintf("seg_%d.ogg", len(s.written)))
		s.written = append(s.written, path)
		s.mu.Unlock()
		if err := os.WriteFile(path, []byte(p), 0o600); err != nil {
			return nil, err
		}
		out = append(out, audio.Segment{Path: path})
	}
	return out, nil
}

// Written lists every file the synth created.
func (s *Synth) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// ConcatMerger merges segments by concatenating their bytes into Dir.
type ConcatMerger struct {
	Dir string
	Err error
}

func (m *ConcatMerger) Merge(_ context.Context, segs []audio.Segment) (*audio.Segment, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	switch len(segs) {
	case 0:
		return nil, nil
	case 1:
		s := segs[0]
		return &s, nil
	}
	var merged []byte
	for _, s := range segs {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, err
		}
		merged = append(merged, data...)
	}
	f, err := os.CreateTemp(m.Dir, "combined_*.ogg")
	if err != nil {
		return nil, err
	}
	out := f.Name()
	f.Close()
	if err := os.WriteFile(out, merged, 0o600); err != nil {
		return nil, err
	}
	return &audio.Segment{Path: out}, nil
}
