package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteRepository keeps the notes table in an embedded sqlite file. It is
// meant for local development and single-node deployments.
type SQLiteRepository struct {
	path   string
	openDB sqlOpenFunc
	now    func() time.Time

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteRepository{
		path:   path,
		openDB: sql.Open,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Note, error) {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id, title, content, created_at, updated_at FROM notes ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, classifySQLiteError("listing", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, scanErr := scanSQLiteNote(rows)
		if scanErr != nil {
			return nil, classifySQLiteError("listing", scanErr)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError("listing", err)
	}
	return items, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (Note, error) {
	key, err := ParseID(id)
	if err != nil {
		return Note{}, err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return Note{}, err
	}
	row := db.QueryRowContext(ctx, "SELECT id, title, content, created_at, updated_at FROM notes WHERE id = ?", key)
	note, err := scanSQLiteNote(row)
	if err != nil {
		return Note{}, classifySQLiteError("reading", err)
	}
	return note, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, in NoteInput) (Note, error) {
	if err := in.Validate(); err != nil {
		return Note{}, err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return Note{}, err
	}
	now := formatSQLiteTime(r.now())
	row := db.QueryRowContext(ctx, `
		INSERT INTO notes (title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		RETURNING id, title, content, created_at, updated_at`,
		in.TitleValue(), in.ContentValue(), now, now)
	note, err := scanSQLiteNote(row)
	if err != nil {
		return Note{}, classifySQLiteError("creating", err)
	}
	return note, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, id string, in NoteInput) (Note, error) {
	if err := in.Validate(); err != nil {
		return Note{}, err
	}
	key, err := ParseID(id)
	if err != nil {
		return Note{}, err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return Note{}, err
	}
	row := db.QueryRowContext(ctx, `
		UPDATE notes
		SET title = ?, content = ?, updated_at = ?
		WHERE id = ?
		RETURNING id, title, content, created_at, updated_at`,
		in.TitleValue(), in.ContentValue(), formatSQLiteTime(r.now()), key)
	note, err := scanSQLiteNote(row)
	if err != nil {
		return Note{}, classifySQLiteError("updating", err)
	}
	return note, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	key, err := ParseID(id)
	if err != nil {
		return err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", key)
	if err != nil {
		return classifySQLiteError("deleting", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classifySQLiteError("deleting", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *SQLiteRepository) ensureReady(ctx context.Context) (*sql.DB, error) {
	if r == nil {
		return nil, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &UnavailableError{Err: err}
		}
	}
	db, err := r.openDB("sqlite3", "file:"+r.path)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, &UnavailableError{Err: fmt.Errorf("initialize sqlite notes store: %w", err)}
		}
	}
	r.db = db
	return db, nil
}

func scanSQLiteNote(row rowScanner) (Note, error) {
	var (
		id        int64
		note      Note
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&id, &note.Title, &note.Content, &createdAt, &updatedAt); err != nil {
		return Note{}, err
	}
	var err error
	if note.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Note{}, err
	}
	if note.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Note{}, err
	}
	note.ID = FormatID(id)
	return note, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func classifySQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return &UnavailableError{Err: err}
	}
	return &StoreError{Op: op, Err: err}
}
