// Package delivery turns a finished answer into chat messages: an in-place
// placeholder edit or a series of chunks, followed by one voice clip.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/voicebridge/internal/audio"
	"github.com/nextlevelbuilder/voicebridge/internal/scheduler"
	"github.com/nextlevelbuilder/voicebridge/internal/textchunk"
)

const (
	// EditLimit is the platform limit for a message edited in place.
	EditLimit = 4000

	DefaultPinHold = time.Second

	unpinTimeout = 5 * time.Second
)

// Transport is the messaging platform as seen by the pipeline.
// Methods returning a message id return the id of the new message.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	Pin(ctx context.Context, chatID int64, messageID int) error
	Unpin(ctx context.Context, chatID int64, messageID int) error
	SendVoice(ctx context.Context, chatID int64, path string, replyTo int) (int, error)
}

// Synthesizer renders text to zero or more voice segments, in reading order.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]audio.Segment, error)
}

// Merger combines segments into one clip. See audio.Merger.
type Merger interface {
	Merge(ctx context.Context, segs []audio.Segment) (*audio.Segment, error)
}

// State is the terminal delivery state of a task.
type State int

const (
	StateEmpty State = iota
	StateSmall
	StateLarge
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty_result"
	case StateSmall:
		return "small_reply"
	case StateLarge:
		return "large_reply"
	}
	return "unknown"
}

// Target locates the conversation a reply belongs to.
type Target struct {
	ChatID        int64
	PlaceholderID int
	TriggerID     int
}

// Config tunes a Pipeline. Zero values fall back to defaults.
type Config struct {
	EditLimit  int
	ChunkLimit int
	PinHold    time.Duration
}

type Pipeline struct {
	transport Transport
	tts       Synthesizer
	merger    Merger
	pool      *scheduler.Pool
	cfg       Config
}

// New builds a pipeline. tts may be nil to disable voice replies.
func New(transport Transport, tts Synthesizer, merger Merger, pool *scheduler.Pool, cfg Config) *Pipeline {
	if cfg.EditLimit <= 0 {
		cfg.EditLimit = EditLimit
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = textchunk.DefaultLimit
	}
	if cfg.PinHold <= 0 {
		cfg.PinHold = DefaultPinHold
	}
	if pool == nil {
		pool = scheduler.NewPool(scheduler.DefaultWorkers)
	}
	if merger == nil {
		merger = audio.NewMerger(audio.MergerConfig{})
	}
	return &Pipeline{transport: transport, tts: tts, merger: merger, pool: pool, cfg: cfg}
}

// Classify picks the delivery state for answer.
func (p *Pipeline) Classify(answer string) State {
	switch {
	case strings.TrimSpace(answer) == "":
		return StateEmpty
	case utf8.RuneCountInString(answer) < p.cfg.EditLimit:
		return StateSmall
	default:
		return StateLarge
	}
}

// Deliver publishes answer for t. Primary send/edit and voice failures are
// returned as *Error; pin, unpin and placeholder deletion failures are logged.
// Once the placeholder has been replaced by the answer or deleted, returned
// errors carry Replaced.
func (p *Pipeline) Deliver(ctx context.Context, t Target, answer string) (State, error) {
	state := p.Classify(answer)

	switch state {
	case StateEmpty:
		p.deletePlaceholder(ctx, t)
		return state, nil

	case StateSmall:
		if err := p.transport.EditText(ctx, t.ChatID, t.PlaceholderID, answer); err != nil {
			return state, &Error{Op: "edit reply", Err: err}
		}
		p.flash(ctx, t.ChatID, t.PlaceholderID, p.cfg.PinHold)

	case StateLarge:
		p.deletePlaceholder(ctx, t)
		chunks := textchunk.Split(answer, p.cfg.ChunkLimit)
		for i, chunk := range chunks {
			id, err := p.transport.SendText(ctx, t.ChatID, chunk, t.TriggerID)
			if err != nil {
				return state, &Error{Op: chunkOp(i, len(chunks)), Err: err, Replaced: true}
			}
			p.flash(ctx, t.ChatID, id, 0)
		}
	}

	if err := p.deliverVoice(ctx, t, answer); err != nil {
		err.Replaced = true
		return state, err
	}
	return state, nil
}

func (p *Pipeline) deletePlaceholder(ctx context.Context, t Target) {
	if t.PlaceholderID == 0 {
		return
	}
	if err := p.transport.Delete(ctx, t.ChatID, t.PlaceholderID); err != nil {
		slog.Debug("delivery: delete placeholder failed", "chat_id", t.ChatID, "message_id", t.PlaceholderID, "error", err)
	}
}

// flash pins a message silently, holds it for hold, then unpins it. The
// unpin runs even when ctx ends during the hold.
func (p *Pipeline) flash(ctx context.Context, chatID int64, messageID int, hold time.Duration) {
	if err := p.transport.Pin(ctx, chatID, messageID); err != nil {
		slog.Debug("delivery: pin failed", "chat_id", chatID, "message_id", messageID, "error", err)
		return
	}

	if hold > 0 {
		timer := time.NewTimer(hold)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unpinTimeout)
	defer cancel()
	if err := p.transport.Unpin(uctx, chatID, messageID); err != nil {
		slog.Debug("delivery: unpin failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// deliverVoice synthesizes, merges and sends one voice clip. Every segment
// and the merged clip are removed before it returns.
func (p *Pipeline) deliverVoice(ctx context.Context, t Target, text string) *Error {
	if p.tts == nil {
		return nil
	}

	var cleanup audio.Cleanup
	defer cleanup.Close()

	segs, err := scheduler.Do(ctx, p.pool, func(ctx context.Context) ([]audio.Segment, error) {
		segs, err := p.tts.Synthesize(ctx, text)
		if ctx.Err() != nil {
			// Caller has gone; nobody else will remove these.
			discard(segs...)
			return nil, ctx.Err()
		}
		return segs, err
	})
	cleanup.Track(segs...)
	if err != nil {
		return &Error{Op: "synthesize voice", Err: err}
	}

	segs = audio.NonEmpty(segs)
	if len(segs) == 0 {
		return nil
	}

	clip, err := scheduler.Do(ctx, p.pool, func(ctx context.Context) (*audio.Segment, error) {
		clip, err := p.merger.Merge(ctx, segs)
		if ctx.Err() != nil && clip != nil && len(segs) > 1 {
			discard(*clip)
			return nil, ctx.Err()
		}
		return clip, err
	})
	if err != nil {
		return &Error{Op: "merge voice", Err: err}
	}
	if clip == nil {
		return nil
	}
	cleanup.Track(*clip)

	if _, err := p.transport.SendVoice(ctx, t.ChatID, clip.Path, t.TriggerID); err != nil {
		return &Error{Op: "send voice", Err: err}
	}
	return nil
}

func discard(segs ...audio.Segment) {
	var c audio.Cleanup
	c.Track(segs...)
	c.Close()
}

func chunkOp(i, n int) string {
	if n == 1 {
		return "send chunk"
	}
	return fmt.Sprintf("send chunk %d/%d", i+1, n)
}
