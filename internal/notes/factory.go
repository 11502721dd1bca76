package notes

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildRepositoryFromDSN picks a repository implementation by DSN scheme:
// postgres://, sqlite://path, memory://.
func BuildRepositoryFromDSN(dsn string) (Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupRepositoryFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "postgres", "postgresql":
		return NewPostgresRepository(dsn)
	case "sqlite", "sqlite3", "file":
		path, pathErr := DSNPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteRepository(path)
	case "memory", "mem", "inmem":
		return NewMemoryRepository(), nil
	case "mysql":
		return nil, fmt.Errorf("%w: notes repository %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported notes repository scheme: %s", scheme)
	}
}

// DSNPath extracts a filesystem path from a file-like DSN. Both
// "sqlite:///abs/path.db" and "sqlite://relative.db" are accepted, as is a
// bare path with no scheme.
func DSNPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Host) + strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
