package notes

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Repository is the server-side notes table. Implementations return errors
// matching ErrUnavailable for connectivity-class failures, ErrNotFound when
// the target row is absent and ErrStore for anything else the store rejects.
type Repository interface {
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]Note, error)
	Get(ctx context.Context, id string) (Note, error)
	Create(ctx context.Context, in NoteInput) (Note, error)
	Update(ctx context.Context, id string, in NoteInput) (Note, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ParseID converts a wire identifier into a row key. Identifiers that can
// never exist in the table report ErrNotFound.
func ParseID(id string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrNotFound
	}
	return value, nil
}

func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

type MemoryRepository struct {
	mu          sync.Mutex
	nextID      int64
	rows        map[int64]Note
	unavailable bool
	now         func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: map[int64]Note{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetAvailable toggles a simulated outage. While unavailable every call
// reports ErrUnavailable.
func (r *MemoryRepository) SetAvailable(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = !available
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(ctx)
}

func (r *MemoryRepository) List(ctx context.Context) ([]Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ctx); err != nil {
		return nil, err
	}
	items := make([]Note, 0, len(r.rows))
	for _, note := range r.rows {
		items = append(items, note)
	}
	SortByUpdated(items)
	return items, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ctx); err != nil {
		return Note{}, err
	}
	key, err := ParseID(id)
	if err != nil {
		return Note{}, err
	}
	note, ok := r.rows[key]
	if !ok {
		return Note{}, ErrNotFound
	}
	return note, nil
}

func (r *MemoryRepository) Create(ctx context.Context, in NoteInput) (Note, error) {
	if err := in.Validate(); err != nil {
		return Note{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ctx); err != nil {
		return Note{}, err
	}
	r.nextID++
	now := r.now()
	note := Note{
		ID:        FormatID(r.nextID),
		Title:     in.TitleValue(),
		Content:   in.ContentValue(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.rows[r.nextID] = note
	return note, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, in NoteInput) (Note, error) {
	if err := in.Validate(); err != nil {
		return Note{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ctx); err != nil {
		return Note{}, err
	}
	key, err := ParseID(id)
	if err != nil {
		return Note{}, err
	}
	note, ok := r.rows[key]
	if !ok {
		return Note{}, ErrNotFound
	}
	note.Title = in.TitleValue()
	note.Content = in.ContentValue()
	note.UpdatedAt = r.now()
	r.rows[key] = note
	return note, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ctx); err != nil {
		return err
	}
	key, err := ParseID(id)
	if err != nil {
		return err
	}
	if _, ok := r.rows[key]; !ok {
		return ErrNotFound
	}
	delete(r.rows, key)
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) checkLocked(ctx context.Context) error {
	if r.unavailable {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}
