package localcache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

const defaultDirName = ".notesync"

// DefaultDir is where the file cache lives when no DSN is given.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return defaultDirName
	}
	return filepath.Join(home, defaultDirName)
}

// Open builds a cache from a DSN: file://dir, sqlite://path or memory://.
// An empty DSN means the file cache in DefaultDir.
func Open(dsn string) (notesync.Cache, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileCache(DefaultDir())
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, err := notes.DSNPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileCache(path)
	case "sqlite", "sqlite3":
		path, err := notes.DSNPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteCache(path)
	case "memory", "mem", "inmem":
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache scheme: %s", scheme)
	}
}
