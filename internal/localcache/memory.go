package localcache

import (
	"sync"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

// MemoryCache is a process-local cache, used by tests and `--cache memory://`.
type MemoryCache struct {
	mu    sync.Mutex
	notes []notes.Note
	queue []notesync.PendingOperation
	state notesync.SyncState
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) ReadNotes() ([]notes.Note, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notes.Note{}, c.notes...), nil
}

func (c *MemoryCache) WriteNotes(items []notes.Note) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append([]notes.Note{}, items...)
	return nil
}

func (c *MemoryCache) ReadQueue() ([]notesync.PendingOperation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notesync.PendingOperation{}, c.queue...), nil
}

func (c *MemoryCache) WriteQueue(queue []notesync.PendingOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append([]notesync.PendingOperation{}, queue...)
	return nil
}

func (c *MemoryCache) ReadState() (notesync.SyncState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.state), nil
}

func (c *MemoryCache) WriteState(state notesync.SyncState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = copyState(state)
	return nil
}

func copyState(state notesync.SyncState) notesync.SyncState {
	return notesync.SyncState{
		Aliases:     append([]notesync.IDAlias(nil), state.Aliases...),
		DeadLetters: append([]notesync.PendingOperation(nil), state.DeadLetters...),
	}
}
