// Package store persists one user's client state in a local SQLite file:
// the keyed state snapshots, the offline push queue and the outbox.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// pragmas are applied to every connection in the pool. WAL lets the replay
// worker read the push queue while the state store writes snapshots.
const pragmas = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB is the handle shared by the state store, the replay cache and the
// outbox. It is safe for concurrent use.
type DB struct {
	*sql.DB
}

// Open opens the database at path, creating the file if needed. Call
// Migrate before first use.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sql.Open is lazy; surface a bad path or locked file here.
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{conn}, nil
}
