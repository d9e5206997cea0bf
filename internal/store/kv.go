package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Storage keys for the independently persisted namespaces.
const (
	KeyAuth         = "auth"
	KeyContent      = "content"
	KeySubscription = "subscription"
	KeyPush         = "push"
	KeyBilling      = "billing"
)

// KVStore persists JSON documents under string keys.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Load decodes the value stored under key into v. It reports false when the key
// has never been saved.
func (s *KVStore) Load(key string, v any) (bool, error) {
	raw, err := s.LoadRaw(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// LoadRaw returns the stored JSON for key, or nil if absent.
func (s *KVStore) LoadRaw(key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// Save encodes v as JSON and upserts it under key.
func (s *KVStore) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.SaveRaw(key, data)
}

func (s *KVStore) SaveRaw(key string, data json.RawMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Snapshot returns every stored namespace keyed by name.
func (s *KVStore) Snapshot() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// Replace overwrites the given namespaces in a single transaction.
func (s *KVStore) Replace(entries map[string]json.RawMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for key, value := range entries {
		if _, err := tx.Exec(
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(value), now,
		); err != nil {
			return fmt.Errorf("replace %q: %w", key, err)
		}
	}
	return tx.Commit()
}
