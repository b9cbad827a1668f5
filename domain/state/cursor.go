package state

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

type overlayEntry struct {
	suffix  []byte
	value   []byte
	deleted bool
}

// overlayCursor merges a parent cursor with an overlay's writes in one
// ordered pass over a bucket. Overlay writes shadow parent values at the
// same key and overlay deletes hide parent entries.
type overlayCursor struct {
	parent  database.Cursor
	bucket  *database.Bucket
	entries []*overlayEntry

	// parentSuffix is the parent cursor's current key, nil once the parent
	// is exhausted or before positioning.
	parentSuffix  []byte
	parentStarted bool
	parentDone    bool

	// entryIndex is the next overlay entry to consider.
	entryIndex int

	// currentSuffix and currentValue hold the merged pair, nil when the
	// cursor is not positioned or exhausted.
	currentSuffix []byte
	currentValue  []byte

	isClosed bool
}

func newOverlayCursor(parent database.Cursor, bucket *database.Bucket,
	entries []*overlayEntry) *overlayCursor {

	return &overlayCursor{
		parent:  parent,
		bucket:  bucket,
		entries: entries,
	}
}

// advanceParent moves the parent cursor one step and refreshes
// parentSuffix.
func (c *overlayCursor) advanceParent() error {
	var hasNext bool
	if !c.parentStarted {
		hasNext = c.parent.First()
		c.parentStarted = true
	} else {
		hasNext = c.parent.Next()
	}
	if !hasNext {
		c.parentDone = true
		c.parentSuffix = nil
		return nil
	}
	key, err := c.parent.Key()
	if err != nil {
		return err
	}
	c.parentSuffix = key.Suffix()
	return nil
}

// step merges one key from the parent and overlay streams into
// currentSuffix/currentValue. It returns false when both streams are
// exhausted.
func (c *overlayCursor) step() (bool, error) {
	for {
		parentAvailable := !c.parentDone
		overlayAvailable := c.entryIndex < len(c.entries)
		if !parentAvailable && !overlayAvailable {
			c.currentSuffix = nil
			c.currentValue = nil
			return false, nil
		}

		var takeParent, takeOverlay bool
		switch {
		case !parentAvailable:
			takeOverlay = true
		case !overlayAvailable:
			takeParent = true
		default:
			comparison := bytes.Compare(c.parentSuffix, c.entries[c.entryIndex].suffix)
			takeParent = comparison <= 0
			takeOverlay = comparison >= 0
		}

		var entry *overlayEntry
		if takeOverlay {
			entry = c.entries[c.entryIndex]
			c.entryIndex++
		}
		var parentValue []byte
		if takeParent {
			var err error
			parentValue, err = c.parent.Value()
			if err != nil {
				return false, err
			}
			suffix := c.parentSuffix
			err = c.advanceParent()
			if err != nil {
				return false, err
			}
			if entry == nil {
				c.currentSuffix = suffix
				c.currentValue = parentValue
				return true, nil
			}
		}

		// The overlay shadows the parent at the same key.
		if entry.deleted {
			continue
		}
		c.currentSuffix = entry.suffix
		valueCopy := make([]byte, len(entry.value))
		copy(valueCopy, entry.value)
		c.currentValue = valueCopy
		return true, nil
	}
}

// First moves the cursor to the first merged key/value pair. It returns
// false if the merged view is empty. Panics if the cursor is closed.
func (c *overlayCursor) First() bool {
	if c.isClosed {
		panic("cannot call first on a closed cursor")
	}
	c.parentStarted = false
	c.parentDone = false
	c.parentSuffix = nil
	c.entryIndex = 0
	err := c.advanceParent()
	if err != nil {
		panic(errors.Wrap(err, "repositioning the parent cursor failed"))
	}
	hasCurrent, err := c.step()
	if err != nil {
		panic(errors.Wrap(err, "merging cursors failed"))
	}
	return hasCurrent
}

// Next moves the cursor to the next merged key/value pair. It returns false
// once the merged view is exhausted. Panics if the cursor is closed.
func (c *overlayCursor) Next() bool {
	if c.isClosed {
		panic("cannot call next on a closed cursor")
	}
	if !c.parentStarted {
		return c.First()
	}
	hasCurrent, err := c.step()
	if err != nil {
		panic(errors.Wrap(err, "merging cursors failed"))
	}
	return hasCurrent
}

// Seek moves the cursor to the given key. It returns ErrNotFound if the
// merged view does not contain exactly that key.
func (c *overlayCursor) Seek(key *database.Key) error {
	if c.isClosed {
		return errors.New("cannot seek a closed cursor")
	}
	target := key.Suffix()
	for hasCurrent := c.First(); hasCurrent; hasCurrent = c.Next() {
		comparison := bytes.Compare(c.currentSuffix, target)
		if comparison == 0 {
			return nil
		}
		if comparison > 0 {
			break
		}
	}
	return errors.Wrapf(database.ErrNotFound, "key %s not found", key)
}

// Key returns the key of the current merged pair, or ErrNotFound if the
// cursor is exhausted.
func (c *overlayCursor) Key() (*database.Key, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the key of a closed cursor")
	}
	if c.currentSuffix == nil {
		return nil, errors.Wrapf(database.ErrNotFound,
			"cannot get the key of an exhausted cursor")
	}
	return c.bucket.Key(c.currentSuffix), nil
}

// Value returns the value of the current merged pair, or ErrNotFound if the
// cursor is exhausted.
func (c *overlayCursor) Value() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the value of a closed cursor")
	}
	if c.currentValue == nil {
		return nil, errors.Wrapf(database.ErrNotFound,
			"cannot get the value of an exhausted cursor")
	}
	return c.currentValue, nil
}

// Close releases the cursor and its parent.
func (c *overlayCursor) Close() error {
	if c.isClosed {
		return errors.New("cannot close an already closed cursor")
	}
	c.isClosed = true
	err := c.parent.Close()
	c.parent = nil
	c.entries = nil
	return err
}
