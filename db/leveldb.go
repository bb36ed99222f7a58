package db

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// NewMemLevelDB opens a LevelDB instance kept entirely in memory
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.conn.Get(key, nil)
}

// Has reports whether the key exists
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.conn.Has(key, nil)
}

// Write applies all operations of the batch atomically
func (l *LevelDB) Write(batch *leveldb.Batch) error {
	return l.conn.Write(batch, nil)
}

// NewPrefixIterator returns an iterator over keys starting with prefix, in key order
func (l *LevelDB) NewPrefixIterator(prefix []byte) iterator.Iterator {
	return l.conn.NewIterator(util.BytesPrefix(prefix), nil)
}

// IsNotFound reports whether err is a missing-key error
func IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}
