package localcache

import (
	"encoding/json"
	"fmt"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

// Record names shared by every backend.
const (
	NotesRecord = "notes"
	QueueRecord = "syncQueue"
	StateRecord = "syncState"
)

func decodeNotes(data []byte) ([]notes.Note, error) {
	if len(data) == 0 {
		return []notes.Note{}, nil
	}
	var items []notes.Note
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", NotesRecord, err)
	}
	if items == nil {
		items = []notes.Note{}
	}
	return items, nil
}

func decodeQueue(data []byte) ([]notesync.PendingOperation, error) {
	if len(data) == 0 {
		return []notesync.PendingOperation{}, nil
	}
	var queue []notesync.PendingOperation
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", QueueRecord, err)
	}
	if queue == nil {
		queue = []notesync.PendingOperation{}
	}
	return queue, nil
}

func decodeState(data []byte) (notesync.SyncState, error) {
	var state notesync.SyncState
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return notesync.SyncState{}, fmt.Errorf("decode %s record: %w", StateRecord, err)
	}
	return state, nil
}

func encodeRecord[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
