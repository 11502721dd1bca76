package notes

import (
	"strings"
	"sync"
)

type RepositoryFactory func(dsn string) (Repository, error)

var repositoryFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]RepositoryFactory
}{
	factories: map[string]RepositoryFactory{},
}

// RegisterRepositoryFactory lets callers plug additional DSN schemes into
// BuildRepositoryFromDSN. A registered scheme takes precedence over the
// built-in ones.
func RegisterRepositoryFactory(scheme string, factory RepositoryFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	repositoryFactoryRegistry.mu.Lock()
	defer repositoryFactoryRegistry.mu.Unlock()
	repositoryFactoryRegistry.factories[scheme] = factory
}

func lookupRepositoryFactory(scheme string) (RepositoryFactory, bool) {
	scheme = normalizeScheme(scheme)
	repositoryFactoryRegistry.mu.RLock()
	defer repositoryFactoryRegistry.mu.RUnlock()
	factory, ok := repositoryFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
