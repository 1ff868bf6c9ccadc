package archive

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// SchemaStatus is a read-only snapshot of the archive schema. Open
// migrates on its own; this exists for inspection, it never writes.
type SchemaStatus struct {
	Version  uint // current schema_migrations version, 0 when fresh
	Required uint // highest embedded migration version
	Dirty    bool // a migration failed partway
	Fresh    bool // no schema yet; Open will create it
}

func (s SchemaStatus) String() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("schema v%d DIRTY, restore from backup or roll back", s.Version)
	case s.Fresh:
		return fmt.Sprintf("no schema yet, v%d applies on first run", s.Required)
	case s.Version < s.Required:
		return fmt.Sprintf("schema v%d, v%d applies on next run", s.Version, s.Required)
	case s.Version > s.Required:
		return fmt.Sprintf("schema v%d is newer than this binary (wants v%d)", s.Version, s.Required)
	default:
		return fmt.Sprintf("schema v%d (current)", s.Version)
	}
}

// Status connects to the DSN and reads the migration bookkeeping
// without touching the schema.
func Status(ctx context.Context, dsn string) (SchemaStatus, error) {
	s := SchemaStatus{Required: requiredVersion()}

	var db *sql.DB
	var err error
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		db, err = sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = sql.Open("pgx", dsn)
	default:
		return s, fmt.Errorf("archive: unsupported dsn scheme (want sqlite: or postgres://)")
	}
	if err != nil {
		return s, fmt.Errorf("archive: open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return s, fmt.Errorf("archive: ping: %w", err)
	}

	row := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1")
	if err := row.Scan(&s.Version, &s.Dirty); err != nil {
		// Missing table or empty table both mean a fresh database.
		s.Fresh = true
		return s, nil
	}
	return s, nil
}

// requiredVersion is the highest version among the embedded migration
// files, parsed from their NNNNNN_name.up.sql prefix.
func requiredVersion() uint {
	var max uint64
	fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		i := strings.IndexByte(name, '_')
		if i <= 0 {
			return nil
		}
		v, err := strconv.ParseUint(name[:i], 10, 32)
		if err == nil && v > max {
			max = v
		}
		return nil
	})
	return uint(max)
}
