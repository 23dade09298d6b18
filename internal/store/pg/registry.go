// Package pg implements store.Registry on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/voicebridge/internal/store"
)

const schemaCheckTimeout = 10 * time.Second

// Registry is a store.Registry backed by Postgres.
type Registry struct {
	db *sql.DB
}

var _ store.Registry = (*Registry)(nil)

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Open connects, migrates an outdated schema and returns a ready registry.
// A dirty schema or one newer than this binary is an error.
func Open(dsn string) (*Registry, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), schemaCheckTimeout)
	defer cancel()
	status, err := CheckSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check registry schema: %w", err)
	}
	if err := status.Err(); err != nil {
		db.Close()
		return nil, err
	}
	if status.NeedsMigration {
		if err := MigrateUp(dsn); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewRegistry(db), nil
}

func (r *Registry) AddUser(ctx context.Context, username string, id int64) error {
	name := store.NormalizeUsername(username)
	if name == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tg_users (username, user_id, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (username) DO UPDATE SET user_id = EXCLUDED.user_id, updated_at = now()`,
		name, id,
	)
	if err != nil {
		return fmt.Errorf("add user %q: %w", name, err)
	}
	return nil
}

func (r *Registry) UserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM tg_users WHERE username = $1`, store.NormalizeUsername(username),
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
		`INSERT INTO tg_groups (name, chat_id, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET chat_id = EXCLUDED.chat_id, updated_at = now()`,
		name, chatID,
	)
	if err != nil {
		return fmt.Errorf("add group %q: %w", name, err)
	}
	return nil
}

func (r *Registry) GroupID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT chat_id FROM tg_groups WHERE name = $1`, name).Scan(&id)
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
