package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key/value store under the state manager. Implementations
// return copies from Get and treat deleting a missing key as success.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Close()
}

// Open selects a backend by name: "memory", "leveldb" or "bolt". For bolt the
// path names a directory that holds state.db.
func Open(backend, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "leveldb":
		return NewLevelDB(path)
	case "bolt", "bbolt":
		return NewBoltDB(filepath.Join(path, "state.db"))
	case "memory":
		return NewMemDB(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
