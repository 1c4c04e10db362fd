package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// SchemaVersion is written to the meta table. Readers select named columns
// only, so a store written by a newer version still loads.
const SchemaVersion = 1

// DB is the sqlite file backing SyncState
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path and migrates it
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Migrate creates missing tables and records the schema version
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	version, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version >= SchemaVersion {
		return nil
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(SchemaVersion))
	return err
}

func (d *DB) schemaVersion(ctx context.Context) (int, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q", value)
	}
	return version, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_entries (
	remote_id TEXT PRIMARY KEY,
	local_path TEXT NOT NULL UNIQUE,
	fingerprint TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	last_sync INTEGER NOT NULL DEFAULT 0
);
`
