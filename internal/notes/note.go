package notes

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const temporaryIDPrefix = "tmp-"

type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteInput is the body accepted by create and update. Fields are pointers so
// that an absent field can be told apart from an empty one.
type NoteInput struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func NewInput(title, content string) NoteInput {
	return NoteInput{Title: &title, Content: &content}
}

func (in NoteInput) Validate() error {
	if in.Title == nil || in.Content == nil {
		return ErrValidation
	}
	return nil
}

func (in NoteInput) TitleValue() string {
	if in.Title == nil {
		return ""
	}
	return *in.Title
}

func (in NoteInput) ContentValue() string {
	if in.Content == nil {
		return ""
	}
	return *in.Content
}

// NewTemporaryID returns an identifier for a note that has not reached the
// remote store yet.
func NewTemporaryID() string {
	return temporaryIDPrefix + uuid.NewString()
}

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), temporaryIDPrefix)
}

// SortByUpdated orders notes most-recently-updated first. Ties keep the
// higher id first so the order is stable across reads.
func SortByUpdated(items []Note) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func IndexOf(items []Note, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
