package state

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

// PendingState is a copy-on-write layer over a parent accessor. Reads fall
// through to the parent for keys the layer has not touched; writes and
// deletes are captured in the layer and become visible to the parent only
// when ApplyChanges replays them.
//
// Overlays nest: the parent may itself be a PendingState, which lets
// transaction evaluation run speculatively over a block-level overlay and
// be dropped without touching it.
//
// A PendingState is not safe for concurrent use.
type PendingState struct {
	parent database.DataAccessor
	writes map[string]*pendingWrite
}

type pendingWrite struct {
	key     *database.Key
	value   []byte
	deleted bool
}

// NewPendingState returns an empty overlay over parent.
func NewPendingState(parent database.DataAccessor) *PendingState {
	return &PendingState{
		parent: parent,
		writes: make(map[string]*pendingWrite),
	}
}

// Parent returns the accessor this overlay reads through to.
func (ps *PendingState) Parent() database.DataAccessor {
	return ps.parent
}

// Put sets the value for the given key in the overlay.
func (ps *PendingState) Put(key *database.Key, value []byte) error {
	ps.writes[string(key.Bytes())] = &pendingWrite{key: key, value: value}
	return nil
}

// Get gets the value for the given key, falling through to the parent when
// the overlay has not touched it. It returns ErrNotFound if the key does
// not exist or was deleted in the overlay.
func (ps *PendingState) Get(key *database.Key) ([]byte, error) {
	if write, ok := ps.writes[string(key.Bytes())]; ok {
		if write.deleted {
			return nil, errors.Wrapf(database.ErrNotFound,
				"key %s was deleted in this overlay", key)
		}
		valueCopy := make([]byte, len(write.value))
		copy(valueCopy, write.value)
		return valueCopy, nil
	}
	return ps.parent.Get(key)
}

// Has returns true if the overlay or its parent contains the given key.
func (ps *PendingState) Has(key *database.Key) (bool, error) {
	if write, ok := ps.writes[string(key.Bytes())]; ok {
		return !write.deleted, nil
	}
	return ps.parent.Has(key)
}

// Delete deletes the value for the given key in the overlay. The delete
// shadows the parent's value even when the overlay never wrote the key.
func (ps *PendingState) Delete(key *database.Key) error {
	ps.writes[string(key.Bytes())] = &pendingWrite{key: key, deleted: true}
	return nil
}

// Cursor begins a cursor over the given bucket merging the parent's entries
// with the overlay's writes. Overlay writes shadow parent values and
// overlay deletes hide them.
func (ps *PendingState) Cursor(bucket *database.Bucket) (database.Cursor, error) {
	parentCursor, err := ps.parent.Cursor(bucket)
	if err != nil {
		return nil, err
	}
	return newOverlayCursor(parentCursor, bucket, ps.bucketWrites(bucket)), nil
}

// bucketWrites returns the overlay writes under the given bucket ordered by
// key, each carrying the suffix relative to the bucket.
func (ps *PendingState) bucketWrites(bucket *database.Bucket) []*overlayEntry {
	prefix := string(bucket.Path())
	entries := make([]*overlayEntry, 0)
	for fullKey, write := range ps.writes {
		if len(fullKey) < len(prefix) || fullKey[:len(prefix)] != prefix {
			continue
		}
		entries = append(entries, &overlayEntry{
			suffix:  []byte(fullKey[len(prefix):]),
			value:   write.value,
			deleted: write.deleted,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].suffix) < string(entries[j].suffix)
	})
	return entries
}

// sortedWrites returns the overlay's writes ordered by full key. Replays
// and undo captures follow this order so they are deterministic.
func (ps *PendingState) sortedWrites() []*pendingWrite {
	fullKeys := make([]string, 0, len(ps.writes))
	for fullKey := range ps.writes {
		fullKeys = append(fullKeys, fullKey)
	}
	sort.Strings(fullKeys)

	writes := make([]*pendingWrite, len(fullKeys))
	for i, fullKey := range fullKeys {
		writes[i] = ps.writes[fullKey]
	}
	return writes
}

// ApplyChanges replays the overlay's writes into target in deterministic
// order.
func (ps *PendingState) ApplyChanges(target database.DataAccessor) error {
	for _, write := range ps.sortedWrites() {
		var err error
		if write.deleted {
			err = target.Delete(write.key)
		} else {
			err = target.Put(write.key, write.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Commit replays the overlay's writes into its own parent.
func (ps *PendingState) Commit() error {
	return ps.ApplyChanges(ps.parent)
}

// CaptureUndo reads the pre-image of every key the overlay touched from the
// parent and returns an undo state that, applied after the overlay's
// changes, restores the parent exactly. It must be called before the
// overlay is applied.
func (ps *PendingState) CaptureUndo() (*UndoState, error) {
	undo := &UndoState{}
	for _, write := range ps.sortedWrites() {
		value, err := ps.parent.Get(write.key)
		if database.IsNotFoundError(err) {
			undo.Entries = append(undo.Entries, UndoEntry{
				KeyBytes: write.key.Bytes(),
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		undo.Entries = append(undo.Entries, UndoEntry{
			KeyBytes: write.key.Bytes(),
			HasValue: true,
			Value:    value,
		})
	}
	return undo, nil
}
