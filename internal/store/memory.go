package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry. It is used when no database is
// configured and in tests.
type MemoryRegistry struct {
	mu     sync.RWMutex
	users  map[string]User
	groups map[string]Group
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		users:  make(map[string]User),
		groups: make(map[string]Group),
	}
}

func (m *MemoryRegistry) AddUser(_ context.Context, username string, id int64) error {
	name := NormalizeUsername(username)
	if name == "" {
		return nil
	}
	m.mu.Lock()
	m.users[name] = User{Username: name, ID: id, SeenAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) UserID(_ context.Context, username string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[NormalizeUsername(username)]
	if !ok {
		return 0, ErrNotFound
	}
	return u.ID, nil
}

func (m *MemoryRegistry) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryRegistry) AddGroup(_ context.Context, name string, chatID int64) error {
	m.mu.Lock()
	m.groups[name] = Group{Name: name, ChatID: chatID, SeenAt: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) GroupID(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	if !ok {
		return 0, ErrNotFound
	}
	return g.ChatID, nil
}

func (m *MemoryRegistry) ListGroups(_ context.Context) ([]Group, error) {
	m.mu.RLock()
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRegistry) Close() error { return nil }

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
