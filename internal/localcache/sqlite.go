package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteOperationTimeout = 5 * time.Second

// SQLiteCache stores both records as rows of a key/value table. Every write
// is a single upsert, so sqlite's own locking gives cross-process safety.
type SQLiteCache struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteCache(path string) (*SQLiteCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, notes.ErrInvalidInput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS records (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize sqlite cache: %w", err)
		}
	}
	return &SQLiteCache{path: path, db: db}, nil
}

func (c *SQLiteCache) ReadNotes() ([]notes.Note, error) {
	data, err := c.read(NotesRecord)
	if err != nil {
		return nil, err
	}
	return decodeNotes(data)
}

func (c *SQLiteCache) WriteNotes(items []notes.Note) error {
	data, err := encodeRecord(items)
	if err != nil {
		return err
	}
	return c.write(NotesRecord, data)
}

func (c *SQLiteCache) ReadQueue() ([]notesync.PendingOperation, error) {
	data, err := c.read(QueueRecord)
	if err != nil {
		return nil, err
	}
	return decodeQueue(data)
}

func (c *SQLiteCache) WriteQueue(queue []notesync.PendingOperation) error {
	data, err := encodeRecord(queue)
	if err != nil {
		return err
	}
	return c.write(QueueRecord, data)
}

func (c *SQLiteCache) ReadState() (notesync.SyncState, error) {
	data, err := c.read(StateRecord)
	if err != nil {
		return notesync.SyncState{}, err
	}
	return decodeState(data)
}

func (c *SQLiteCache) WriteState(state notesync.SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.write(StateRecord, data)
}

func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *SQLiteCache) read(name string) ([]byte, error) {
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM records WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s record: %w", name, err)
	}
	return []byte(value), nil
}

func (c *SQLiteCache) write(name string, data []byte) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	_, err = db.ExecContext(ctx,
		`INSERT INTO records (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, string(data))
	if err != nil {
		return fmt.Errorf("write %s record: %w", name, err)
	}
	return nil
}

func (c *SQLiteCache) handle() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, fmt.Errorf("sqlite cache %s is closed", c.path)
	}
	return c.db, nil
}
