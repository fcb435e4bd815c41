// Package store keeps an offline copy of conversations in SQLite so they can
// be listed, read and searched without reaching the server.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/soyeahso/compass/internal/logging"
)

const memoryPath = ":memory:"

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// DB is the cache database with its schema brought up to date.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens or creates the cache at path and applies pending migrations.
// ":memory:" gives a private in-memory database.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db.log.Debug().Str("path", path).Msg("cache opened")
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL exposes the handle for queries outside this package's helpers.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// migrate applies every migration above the recorded schema version, each
// in its own transaction. A cache written by a newer build is refused
// rather than silently misread.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	latest := migrations[len(migrations)-1].Version
	if current > latest {
		return fmt.Errorf("cache schema version %d is newer than this build supports (%d)", current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
		db.log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("cache migrated")
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration, or 0 for a new file.
func (db *DB) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := db.sql.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}
