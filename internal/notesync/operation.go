package notesync

import (
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PendingOperation is a mutation the remote store has not confirmed yet.
// Only Note.ID is meaningful for deletes.
type PendingOperation struct {
	ID         string     `json:"id"`
	Action     Action     `json:"action"`
	Note       notes.Note `json:"note"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Attempts   int        `json:"attempts,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func (op PendingOperation) input() notes.NoteInput {
	return notes.NewInput(op.Note.Title, op.Note.Content)
}

// Cache is the client's durable state: the last known notes and the queue of
// unconfirmed operations. Each record is replaced as a whole on write.
type Cache interface {
	ReadNotes() ([]notes.Note, error)
	WriteNotes(items []notes.Note) error
	ReadQueue() ([]PendingOperation, error)
	WriteQueue(queue []PendingOperation) error
	ReadState() (SyncState, error)
	WriteState(state SyncState) error
}

const maxAliases = 256

// SyncState is bookkeeping kept beside the queue: the server ids given to
// temporary notes, and operations parked after running out of attempts.
type SyncState struct {
	Aliases     []IDAlias          `json:"aliases,omitempty"`
	DeadLetters []PendingOperation `json:"dead_letters,omitempty"`
}

type IDAlias struct {
	TempID string `json:"temp_id"`
	ID     string `json:"id"`
}

func (s SyncState) resolve(tempID string) (string, bool) {
	for i := len(s.Aliases) - 1; i >= 0; i-- {
		if s.Aliases[i].TempID == tempID {
			return s.Aliases[i].ID, true
		}
	}
	return "", false
}

// addAlias records tempID -> id, keeping only the newest maxAliases entries.
func (s *SyncState) addAlias(tempID, id string) {
	s.Aliases = append(s.Aliases, IDAlias{TempID: tempID, ID: id})
	if extra := len(s.Aliases) - maxAliases; extra > 0 {
		s.Aliases = append([]IDAlias(nil), s.Aliases[extra:]...)
	}
}

// Locker is implemented by caches shared between processes. The returned
// func releases the lock.
type Locker interface {
	Lock() (func(), error)
}

type ReplayReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Deferred  int
	Discarded int
	Parked    int
	Skipped   bool
}

func findOperation(queue []PendingOperation, id string) (PendingOperation, bool) {
	for _, op := range queue {
		if op.ID == id {
			return op, true
		}
	}
	return PendingOperation{}, false
}

func removeOperation(queue []PendingOperation, id string) []PendingOperation {
	out := make([]PendingOperation, 0, len(queue))
	for _, op := range queue {
		if op.ID != id {
			out = append(out, op)
		}
	}
	return out
}

func replaceOperation(queue []PendingOperation, op PendingOperation) []PendingOperation {
	for i := range queue {
		if queue[i].ID == op.ID {
			queue[i] = op
		}
	}
	return queue
}

func hasPendingCreate(queue []PendingOperation, noteID string) bool {
	return indexCreate(queue, noteID) >= 0
}

func indexCreate(queue []PendingOperation, noteID string) int {
	for i, op := range queue {
		if op.Action == ActionCreate && op.Note.ID == noteID {
			return i
		}
	}
	return -1
}

func hasNoteOperation(queue []PendingOperation, noteID string) bool {
	for _, op := range queue {
		if op.Note.ID == noteID {
			return true
		}
	}
	return false
}

// dropNoteOperations removes every operation on noteID.
func dropNoteOperations(queue []PendingOperation, noteID string) []PendingOperation {
	out := make([]PendingOperation, 0, len(queue))
	for _, op := range queue {
		if op.Note.ID != noteID {
			out = append(out, op)
		}
	}
	return out
}

// remapNoteID points every queued operation on from at to. Used once a
// temporary note has been assigned its server id.
func remapNoteID(queue []PendingOperation, from, to string) []PendingOperation {
	for i := range queue {
		if queue[i].Note.ID == from {
			queue[i].Note.ID = to
		}
	}
	return queue
}
