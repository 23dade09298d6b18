// Package channels provides the channel abstraction that connects a chat
// platform to the inbound bus.
package channels

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/voicebridge/internal/bus"
)

// Channel is a chat platform connection.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	IsRunning() bool

	// IsAllowed checks a sender id or username against the allowlist.
	IsAllowed(senderID int64, username string) bool
}

// BaseChannel provides shared functionality for channel implementations.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   atomic.Bool
	allowList []string
}

func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: router, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the inbound router.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// IsAllowed reports whether a sender may trigger the agent. Entries match
// the numeric id or the username, with or without a leading "@".
// An empty allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID int64, username string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	id := strconv.FormatInt(senderID, 10)
	username = strings.TrimPrefix(username, "@")
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if trimmed == id || (username != "" && strings.EqualFold(trimmed, username)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes msg to the bus when its sender is allowed.
// It returns false when the message was dropped.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage, username string) bool {
	if !c.IsAllowed(msg.SenderID, username) {
		return false
	}
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens s to at most maxLen runes, appending "..." if cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
