// Package store defines the user and group registries that back the
// /dm and /gm commands. Backends live in store/sqlite and store/pg.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup has no match.
var ErrNotFound = errors.New("not found")

// User is a Telegram user seen by the bot. Only users with a username
// are recorded.
type User struct {
	Username string    `json:"username"`
	ID       int64     `json:"id"`
	SeenAt   time.Time `json:"seenAt"`
}

// Group is a group, supergroup or channel the bot has seen.
type Group struct {
	Name   string    `json:"name"`
	ChatID int64     `json:"chatId"`
	SeenAt time.Time `json:"seenAt"`
}

// UserRegistry maps usernames to user ids.
type UserRegistry interface {
	// AddUser records or refreshes a user. Usernames are stored normalized.
	AddUser(ctx context.Context, username string, id int64) error
	// UserID resolves a username (with or without "@", any case).
	UserID(ctx context.Context, username string) (int64, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// GroupRegistry maps group titles to chat ids.
type GroupRegistry interface {
	AddGroup(ctx context.Context, name string, chatID int64) error
	// GroupID resolves a group by its exact title.
	GroupID(ctx context.Context, name string) (int64, error)
	ListGroups(ctx context.Context) ([]Group, error)
}

// Registry is the combined registry a backend provides.
type Registry interface {
	UserRegistry
	GroupRegistry
	Close() error
}

// NormalizeUsername strips a leading "@" and lowercases the name.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// GroupName returns the registry name for a chat: its title, or
// "chat_<id>" when the chat has none.
func GroupName(title string, chatID int64) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return "chat_" + formatInt(chatID)
}
