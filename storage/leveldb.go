package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is the default persistent backend.
type LevelDB struct {
	db    *leveldb.DB
	write *opt.WriteOptions
}

// NewLevelDB opens or creates the database directory at path. Writes are
// synced so an acknowledged loan operation survives a crash.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Filter: filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db, write: &opt.WriteOptions{Sync: true}}, nil
}

func (l *LevelDB) Put(key []byte, value []byte) error {
	return l.db.Put(key, value, l.write)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, l.write)
}

func (l *LevelDB) Close() {
	_ = l.db.Close()
}
