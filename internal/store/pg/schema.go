package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the highest embedded migration.
const RequiredSchemaVersion uint = 2

// SchemaStatus is the result of comparing the database schema with this binary.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaDirty = errors.New("registry schema is dirty (failed migration)")
	ErrSchemaAhead = errors.New("registry schema is newer than this binary")
)

// CheckSchema reads schema_migrations. A missing table means a fresh
// database that needs migrating.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	var version int64
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &s.Dirty)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.NeedsMigration = true
		return s, nil
	}
	s.CurrentVersion = uint(version)

	switch {
	case s.Dirty:
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps a status that cannot be fixed by migrating up to an error.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("%w: version %d; fix it by hand, then run `voicebridge migrate down`", ErrSchemaDirty, s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Errorf("%w: database v%d, binary requires v%d", ErrSchemaAhead, s.CurrentVersion, s.RequiredVersion)
	}
	return nil
}

func (s *SchemaStatus) String() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("dirty at v%d", s.CurrentVersion)
	case s.Compatible:
		return fmt.Sprintf("up to date (v%d)", s.CurrentVersion)
	case s.NeedsMigration:
		return fmt.Sprintf("outdated: v%d, required v%d", s.CurrentVersion, s.RequiredVersion)
	}
	return fmt.Sprintf("ahead: v%d, required v%d", s.CurrentVersion, s.RequiredVersion)
}
