package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteKV implements KV on a single-table SQLite database.
// modernc.org/sqlite is pure Go, so the same backend works in gomobile builds.
type SQLiteKV struct {
	db        *sql.DB
	getStmt   *sql.Stmt
	setStmt   *sql.Stmt
	closeOnce sync.Once
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// NewSQLiteKV opens (or creates) the database at dbPath.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 单连接写入
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	s := &SQLiteKV{db: db}
	if s.getStmt, err = db.Prepare(`SELECT value FROM kv WHERE key = ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}
	s.setStmt, err = db.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		s.getStmt.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare set statement: %w", err)
	}
	return s, nil
}

func (s *SQLiteKV) Get(key string) ([]byte, error) {
	var value []byte
	err := s.getStmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(key string, value []byte) error {
	if _, err := s.setStmt.Exec(key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.getStmt.Close()
		s.setStmt.Close()
		err = s.db.Close()
	})
	return err
}
