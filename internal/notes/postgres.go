package notes

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresNotesTableName   = "notes"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRepository stores notes in a single postgres table. The connection
// is opened lazily and re-attempted on the next call after a failure, so a
// database that comes back up is picked up without restarting the server.
type PostgresRepository struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	mu sync.Mutex
	db *sql.DB
}

func NewPostgresRepository(dsn string) (Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRepository{
		dsn:       dsn,
		tableName: postgresNotesTableName,
		openDB:    sql.Open,
	}, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return classifyPostgresError("reading", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Note, error) {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT id, title, content, created_at, updated_at FROM %s ORDER BY updated_at DESC, id DESC",
		postgresQuoteIdentifier(r.tableName),
	)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyPostgresError("listing", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, scanErr := scanPostgresNote(rows)
		if scanErr != nil {
			return nil, classifyPostgresError("listing", scanErr)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError("listing", err)
	}
	return items, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Note, error) {
	key, err := ParseID(id)
	if err != nil {
		return Note{}, err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return Note{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT id, title, content, created_at, updated_at FROM %s WHERE id = $1",
		postgresQuoteIdentifier(r.tableName),
	)
	note, err := scanPostgresNote(db.QueryRowContext(ctx, query, key))
	if err != nil {
		return Note{}, classifyPostgresError("reading", err)
	}
	return note, nil
}

func (r *PostgresRepository) Create(ctx context.Context, in NoteInput) (Note, error) {
	if err := in.Validate(); err != nil {
		return Note{}, err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return Note{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (title, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, title, content, created_at, updated_at`, postgresQuoteIdentifier(r.tableName))
	note, err := scanPostgresNote(db.QueryRowContext(ctx, query, in.TitleValue(), in.ContentValue()))
	if err != nil {
		return Note{}, classifyPostgresError("creating", err)
	}
	return note, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, in NoteInput) (Note, error) {
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
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, content = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, title, content, created_at, updated_at`, postgresQuoteIdentifier(r.tableName))
	note, err := scanPostgresNote(db.QueryRowContext(ctx, query, in.TitleValue(), in.ContentValue(), key))
	if err != nil {
		return Note{}, classifyPostgresError("updating", err)
	}
	return note, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	key, err := ParseID(id)
	if err != nil {
		return err
	}
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresQuoteIdentifier(r.tableName))
	result, err := db.ExecContext(ctx, query, key)
	if err != nil {
		return classifyPostgresError("deleting", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classifyPostgresError("deleting", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Close() error {
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

func (r *PostgresRepository) ensureReady(ctx context.Context) (*sql.DB, error) {
	if r == nil {
		return nil, ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	db, err := r.openDB("postgres", r.dsn)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, postgresQuoteIdentifier(r.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return nil, classifyPostgresError("reading", err)
	}
	r.db = db
	return db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresNote(row rowScanner) (Note, error) {
	var (
		id   int64
		note Note
	)
	if err := row.Scan(&id, &note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return Note{}, err
	}
	note.ID = FormatID(id)
	note.CreatedAt = note.CreatedAt.UTC()
	note.UpdatedAt = note.UpdatedAt.UTC()
	return note, nil
}

// classifyPostgresError maps driver errors onto the notes taxonomy. Anything
// that means the server could not be talked to becomes ErrUnavailable.
func classifyPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return &UnavailableError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &UnavailableError{Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "28", "53", "57":
			return &UnavailableError{Err: err}
		}
		if pqErr.Code == "3D000" {
			return &UnavailableError{Err: err}
		}
	}
	return &StoreError{Op: op, Err: err}
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
