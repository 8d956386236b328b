package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteSchema is applied on open. Every statement is idempotent.
var sqliteSchema = []string{
	`PRAGMA journal_mode=WAL`,
	`CREATE TABLE IF NOT EXISTS records (
		collection TEXT    NOT NULL,
		key        TEXT    NOT NULL,
		seq        INTEGER NOT NULL,
		updated_ns INTEGER NOT NULL,
		data       BLOB    NOT NULL,
		PRIMARY KEY (collection, key)
	)`,
	`CREATE INDEX IF NOT EXISTS records_by_seq ON records (collection, seq)`,
	`CREATE TABLE IF NOT EXISTS collections (
		name     TEXT    PRIMARY KEY,
		last_seq INTEGER NOT NULL
	)`,
}

const (
	nextSeqSQL = `INSERT INTO collections (name, last_seq) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET last_seq = last_seq + 1
		RETURNING last_seq`
	putSQL    = `INSERT OR REPLACE INTO records (collection, key, seq, updated_ns, data) VALUES (?, ?, ?, ?, ?)`
	getSQL    = `SELECT data FROM records WHERE collection = ? AND key = ?`
	listSQL   = `SELECT key, seq, updated_ns, LENGTH(data) FROM records WHERE collection = ? ORDER BY seq`
	deleteSQL = `DELETE FROM records WHERE collection = ? AND key = ?`
)

// SQLiteStore persists records to a SQLite database. Each collection keeps
// its own write counter, so List order survives reopening the file.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // SQLite allows one writer
	closed  atomic.Bool
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, data []byte) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if data == nil {
		data = []byte{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var seq int
		if err := tx.QueryRowContext(ctx, nextSeqSQL, collection).Scan(&seq); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, putSQL, collection, key, seq, time.Now().UnixNano(), data)
		return err
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var data []byte
	switch err := s.db.QueryRowContext(ctx, getSQL, collection, key).Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Info, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, listSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var updated int64
		info := Info{Collection: collection}
		if err := rows.Scan(&info.Key, &info.Sequence, &updated, &info.Size); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		info.Updated = time.Unix(0, updated).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return infos, nil
}

// Delete implements Store. The collection's write counter is kept.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, deleteSQL, collection, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close implements Store. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
