// Package bus carries inbound chat messages from channels to the consumer
// that schedules them.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBuffer = 100

// MessageBus is a buffered in-process queue of inbound messages.
type MessageBus struct {
	inbound   chan InboundMessage
	done      chan struct{}
	closeOnce sync.Once
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a bus. buffer <= 0 uses the default capacity.
func New(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MessageBus{
		inbound: make(chan InboundMessage, buffer),
		done:    make(chan struct{}),
	}
}

// PublishInbound enqueues msg, blocking while the buffer is full.
// Messages published after Close are dropped.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	case <-b.done:
		slog.Debug("bus: inbound dropped after close", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound returns the next message, or false when ctx ends or the
// bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-b.done:
		return InboundMessage{}, false
	}
}

// Close stops the bus. Safe to call more than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
