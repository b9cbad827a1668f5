package ldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

// LevelDB defines a thin wrapper around goleveldb implementing
// database.Database.
//
// When write-through is disabled the writes accumulate in a batch that is
// mirrored by an in-memory map so that reads observe the buffered state.
type LevelDB struct {
	ldb *leveldb.DB

	writeThrough bool
	batch        *leveldb.Batch
	buffer       map[string]bufferedValue
}

type bufferedValue struct {
	value   []byte
	deleted bool
}

// NewLevelDB opens a leveldb instance defined by the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	// Open leveldb. If it doesn't exist, create it.
	ldb, err := leveldb.OpenFile(path, Options())

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s",
			path, err)
		var err error
		ldb, err = leveldb.RecoverFile(path, Options())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		log.Warnf("LevelDB recovered from corruption for path %s",
			path)
	}

	// If the database cannot be opened for any other
	// reason, return the error as-is.
	if err != nil {
		return nil, errors.WithStack(err)
	}

	db := &LevelDB{
		ldb:          ldb,
		writeThrough: true,
	}
	return db, nil
}

// Close closes the leveldb instance, flushing buffered writes first.
func (db *LevelDB) Close() error {
	err := db.Flush()
	if err != nil {
		return err
	}
	return errors.WithStack(db.ldb.Close())
}

// SetWriteThrough toggles between direct writes and buffered batch writes.
// Enabling write-through flushes any buffered writes.
func (db *LevelDB) SetWriteThrough(writeThrough bool) error {
	if writeThrough {
		err := db.Flush()
		if err != nil {
			return err
		}
		db.writeThrough = true
		return nil
	}
	if db.writeThrough {
		db.writeThrough = false
		db.batch = new(leveldb.Batch)
		db.buffer = make(map[string]bufferedValue)
	}
	return nil
}

// Flush writes any buffered writes to disk. The write-through mode is left
// unchanged.
func (db *LevelDB) Flush() error {
	if db.batch == nil {
		return nil
	}
	err := db.ldb.Write(db.batch, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if db.writeThrough {
		db.batch = nil
		db.buffer = nil
	} else {
		db.batch.Reset()
		db.buffer = make(map[string]bufferedValue)
	}
	return nil
}

// Put sets the value for the given key. It overwrites any previous value
// for that key.
func (db *LevelDB) Put(key *database.Key, value []byte) error {
	if !db.writeThrough {
		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)
		keyBytes := key.Bytes()
		db.batch.Put(keyBytes, valueCopy)
		db.buffer[string(keyBytes)] = bufferedValue{value: valueCopy}
		return nil
	}
	err := db.ldb.Put(key.Bytes(), value, nil)
	return errors.WithStack(err)
}

// Get gets the value for the given key. It returns ErrNotFound if the given
// key does not exist.
func (db *LevelDB) Get(key *database.Key) ([]byte, error) {
	keyBytes := key.Bytes()
	if !db.writeThrough {
		if buffered, ok := db.buffer[string(keyBytes)]; ok {
			if buffered.deleted {
				return nil, errors.Wrapf(database.ErrNotFound,
					"key %s not found", key)
			}
			return buffered.value, nil
		}
	}
	data, err := db.ldb.Get(keyBytes, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(database.ErrNotFound,
				"key %s not found", key)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Has returns true if the database does contain the given key.
func (db *LevelDB) Has(key *database.Key) (bool, error) {
	keyBytes := key.Bytes()
	if !db.writeThrough {
		if buffered, ok := db.buffer[string(keyBytes)]; ok {
			return !buffered.deleted, nil
		}
	}
	exists, err := db.ldb.Has(keyBytes, nil)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return exists, nil
}

// Delete deletes the value for the given key. Will not return an error if
// the key doesn't exist.
func (db *LevelDB) Delete(key *database.Key) error {
	if !db.writeThrough {
		keyBytes := key.Bytes()
		db.batch.Delete(keyBytes)
		db.buffer[string(keyBytes)] = bufferedValue{deleted: true}
		return nil
	}
	err := db.ldb.Delete(key.Bytes(), nil)
	return errors.WithStack(err)
}

// Cursor begins a new cursor over the given bucket. Buffered writes are
// flushed first so that the cursor observes them.
func (db *LevelDB) Cursor(bucket *database.Bucket) (database.Cursor, error) {
	err := db.Flush()
	if err != nil {
		return nil, err
	}
	return db.newCursor(bucket), nil
}
