//go:build !unix

package localcache

// Without flock the cache is only safe for a single process.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
