// Package sqlite implements store.Registry on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/voicebridge/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tg_users (
	username   TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tg_groups (
	name       TEXT PRIMARY KEY,
	chat_id    INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tg_groups_chat ON tg_groups(chat_id);
`

// Registry is a store.Registry backed by SQLite.
type Registry struct {
	db *sql.DB
}

var _ store.Registry = (*Registry)(nil)

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) AddUser(ctx context.Context, username string, id int64) error {
	name := store.NormalizeUsername(username)
	if name == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tg_users (username, user_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET user_id = excluded.user_id, updated_at = excluded.updated_at`,
		name, id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add user %q: %w", name, err)
	}
	return nil
}

func (r *Registry) UserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM tg_users WHERE username = ?`, store.NormalizeUsername(username),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	return id, nil
}

func (r *Registry) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username, user_id, updated_at FROM tg_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.Username, &u.ID, &u.SeenAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Registry) AddGroup(ctx context.Context, name string, chatID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tg_groups (name, chat_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET chat_id = excluded.chat_id, updated_at = excluded.updated_at`,
		name, chatID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add group %q: %w", name, err)
	}
	return nil
}

func (r *Registry) GroupID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT chat_id FROM tg_groups WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup group: %w", err)
	}
	return id, nil
}

func (r *Registry) ListGroups(ctx context.Context) ([]store.Group, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, chat_id, updated_at FROM tg_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []store.Group
	for rows.Next() {
		var g store.Group
		if err := rows.Scan(&g.Name, &g.ChatID, &g.SeenAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *Registry) Close() error { return r.db.Close() }
