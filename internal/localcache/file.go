package localcache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

const lockFileName = ".lock"

// FileCache keeps each record as a JSON file in dir. Writes go through a
// temp file and rename, so a reader sees either the old or the new value.
type FileCache struct {
	dir string
	mu  sync.Mutex
}

func NewFileCache(dir string) (*FileCache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, notes.ErrInvalidInput
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) Dir() string {
	return c.dir
}

func (c *FileCache) ReadNotes() ([]notes.Note, error) {
	data, err := c.read(NotesRecord)
	if err != nil {
		return nil, err
	}
	return decodeNotes(data)
}

func (c *FileCache) WriteNotes(items []notes.Note) error {
	data, err := encodeRecord(items)
	if err != nil {
		return err
	}
	return c.write(NotesRecord, data)
}

func (c *FileCache) ReadQueue() ([]notesync.PendingOperation, error) {
	data, err := c.read(QueueRecord)
	if err != nil {
		return nil, err
	}
	return decodeQueue(data)
}

func (c *FileCache) WriteQueue(queue []notesync.PendingOperation) error {
	data, err := encodeRecord(queue)
	if err != nil {
		return err
	}
	return c.write(QueueRecord, data)
}

func (c *FileCache) ReadState() (notesync.SyncState, error) {
	data, err := c.read(StateRecord)
	if err != nil {
		return notesync.SyncState{}, err
	}
	return decodeState(data)
}

func (c *FileCache) WriteState(state notesync.SyncState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.write(StateRecord, data)
}

// Lock takes an exclusive lock shared with every other process using the
// same directory.
func (c *FileCache) Lock() (func(), error) {
	return lockFile(filepath.Join(c.dir, lockFileName))
}

func (c *FileCache) read(record string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(RecordPath(c.dir, record))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (c *FileCache) write(record string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFileAtomic(RecordPath(c.dir, record), data, 0o644)
}

func RecordPath(dir, record string) string {
	return filepath.Join(dir, record+".json")
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
