package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Data types persisted in the per-user key-value table.
const (
	DataConnections = "connections"
	DataChats       = "chats"
	DataContacts    = "contacts"
	DataProfile     = "profile"
)

// Get returns the raw value stored for (userID, dataType).
// found is false when nothing is stored.
func (db *DB) Get(userID, dataType string) (value []byte, found bool, err error) {
	err = db.QueryRow(`SELECT value FROM kv WHERE user_id = ? AND data_type = ?`, userID, dataType).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Save JSON-encodes v and stores it under (userID, dataType), replacing
// any previous value.
func (db *DB) Save(userID, dataType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", dataType, err)
	}
	_, err = db.Exec(`
		INSERT INTO kv (user_id, data_type, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, data_type) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		userID, dataType, data, time.Now().UnixMilli())
	return err
}

// Clear deletes the value stored under (userID, dataType).
func (db *DB) Clear(userID, dataType string) error {
	_, err := db.Exec(`DELETE FROM kv WHERE user_id = ? AND data_type = ?`, userID, dataType)
	return err
}

// Load decodes the value stored under (userID, dataType), returning def
// when nothing is stored.
func Load[T any](db *DB, userID, dataType string, def T) (T, error) {
	data, found, err := db.Get(userID, dataType)
	if err != nil || !found {
		return def, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def, fmt.Errorf("decode %s: %w", dataType, err)
	}
	return v, nil
}
