// Package archive copies chat logs out of the broker into a durable SQL
// store. The broker list stays the working set; the archive is where a
// day's log outlives it.
//
// Backends are selected by DSN scheme: "sqlite:<path>" opens an embedded
// database, "postgres://" connects a server. Both run the same embedded
// migrations.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tuna/fishroom/internal/bus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one message at its chat-log position.
type Entry struct {
	ID  int64
	Msg *bus.Message
}

// Store is the archive backend.
type Store interface {
	// SaveBatch inserts entries for one room and day. Positions already
	// archived are skipped, so re-archiving a day is harmless.
	SaveBatch(ctx context.Context, room, date string, entries []Entry) error
	// MaxID reports the highest archived log position for one room and
	// day; ok is false when the day has nothing archived yet.
	MaxID(ctx context.Context, room, date string) (id int64, ok bool, err error)
	Close() error
}

type dialect struct {
	name      string
	insertSQL string
	maxSQL    string
}

var sqliteDialect = dialect{
	name: "sqlite",
	insertSQL: `INSERT INTO archived_messages
		(room, date, log_id, channel, sender, mtype, content, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room, date, log_id) DO NOTHING`,
	maxSQL: `SELECT MAX(log_id) FROM archived_messages WHERE room = ? AND date = ?`,
}

var postgresDialect = dialect{
	name: "postgres",
	insertSQL: `INSERT INTO archived_messages
		(room, date, log_id, channel, sender, mtype, content, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room, date, log_id) DO NOTHING`,
	maxSQL: `SELECT MAX(log_id) FROM archived_messages WHERE room = $1 AND date = $2`,
}

// Open connects the backend named by the DSN scheme and brings its
// schema up to date.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		db, err := sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite:"))
		if err != nil {
			return nil, fmt.Errorf("archive: open sqlite: %w", err)
		}
		// One writer connection keeps the embedded backend clear of
		// SQLITE_BUSY under the sweep's batch inserts.
		db.SetMaxOpenConns(1)
		return newStore(ctx, db, sqliteDialect)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("archive: open postgres: %w", err)
		}
		return newStore(ctx, db, postgresDialect)
	default:
		return nil, fmt.Errorf("archive: unsupported dsn scheme (want sqlite: or postgres://)")
	}
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := migrateUp(db, d); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, dialect: d}, nil
}

func migrateUp(db *sql.DB, d dialect) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive: load migrations: %w", err)
	}

	var driver database.Driver
	switch d.name {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case "postgres":
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	default:
		err = fmt.Errorf("no migration driver for %q", d.name)
	}
	if err != nil {
		return fmt.Errorf("archive: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.name, driver)
	if err != nil {
		return fmt.Errorf("archive: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("archive: migrate up: %w", err)
	}
	return nil
}

// sqlStore implements Store over database/sql for both dialects.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) SaveBatch(ctx context.Context, room, date string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.insertSQL)
	if err != nil {
		return fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		raw, err := e.Msg.Encode()
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, room, date, e.ID,
			e.Msg.Channel, e.Msg.Sender, string(e.Msg.MType), e.Msg.Content, string(raw))
		if err != nil {
			return fmt.Errorf("archive: insert %s/%s/%d: %w", room, date, e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

func (s *sqlStore) MaxID(ctx context.Context, room, date string) (int64, bool, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.dialect.maxSQL, room, date).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("archive: max id: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
