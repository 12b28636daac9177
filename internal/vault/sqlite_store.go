package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists descriptors across runs. Writes are serialized across
// processes with a file lock.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenSQLiteStore(path, lockPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create vault cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite vault cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS vault_entries (key TEXT PRIMARY KEY, network TEXT NOT NULL, market_id TEXT NOT NULL, value BLOB NOT NULL, created_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init vault cache schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) ([]Descriptor, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM vault_entries WHERE key = ?", key.String()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("vault cache read: %w", err)
	}
	var descriptors []Descriptor
	if err := json.Unmarshal(value, &descriptors); err != nil {
		return nil, false, fmt.Errorf("decode vault cache entry: %w", err)
	}
	return descriptors, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, descriptors []Descriptor) error {
	locked, err := s.lock.TryLockContext(ctx, 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock vault cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock vault cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	value, err := json.Marshal(descriptors)
	if err != nil {
		return fmt.Errorf("encode vault cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_entries (key, network, market_id, value, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at
	`, key.String(), key.Network, key.MarketID, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("vault cache write: %w", err)
	}
	return nil
}
