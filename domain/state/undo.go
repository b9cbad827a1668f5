package state

import (
	"io"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

// maxUndoEntries bounds allocations while decoding a serialized undo state.
const maxUndoEntries = 1 << 24

// maxUndoValueSize bounds a single undo value while decoding.
const maxUndoValueSize = 1 << 26

// UndoEntry is the pre-image of one key touched by an overlay. HasValue
// false means the key did not exist before the overlay's changes.
type UndoEntry struct {
	KeyBytes []byte
	HasValue bool
	Value    []byte
}

// UndoState is the reverse delta of an applied overlay. Applying it to the
// post-application state restores the pre-application state on every key
// the overlay touched.
type UndoState struct {
	Entries []UndoEntry
}

// Apply replays the pre-images into target.
func (u *UndoState) Apply(target database.DataAccessor) error {
	for _, entry := range u.Entries {
		key := database.RawKey(entry.KeyBytes)
		var err error
		if entry.HasValue {
			err = target.Put(key, entry.Value)
		} else {
			err = target.Delete(key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Serialize encodes the undo state to w.
func (u *UndoState) Serialize(w io.Writer) error {
	err := record.WriteVarInt(w, uint64(len(u.Entries)))
	if err != nil {
		return err
	}
	for i := range u.Entries {
		entry := &u.Entries[i]
		err = record.WriteVarBytes(w, entry.KeyBytes)
		if err != nil {
			return err
		}
		err = record.WriteElement(w, entry.HasValue)
		if err != nil {
			return err
		}
		if entry.HasValue {
			err = record.WriteVarBytes(w, entry.Value)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Deserialize decodes an undo state from r into the receiver.
func (u *UndoState) Deserialize(r io.Reader) error {
	count, err := record.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxUndoEntries {
		return errors.Errorf("too many undo entries [count %d]", count)
	}
	u.Entries = make([]UndoEntry, count)
	for i := uint64(0); i < count; i++ {
		entry := &u.Entries[i]
		entry.KeyBytes, err = record.ReadVarBytes(r, maxUndoValueSize, "undo key")
		if err != nil {
			return err
		}
		err = record.ReadElement(r, &entry.HasValue)
		if err != nil {
			return err
		}
		if entry.HasValue {
			entry.Value, err = record.ReadVarBytes(r, maxUndoValueSize, "undo value")
			if err != nil {
				return err
			}
		}
	}
	return nil
}
