package record

import (
	"io"
	"time"

	"github.com/xtsnet/xtsd/util/hashes"
)

// SlotRecord notes which delegate a production slot was assigned to and
// which block, if any, it produced. Slots with a zero BlockID were missed.
type SlotRecord struct {
	Timestamp  time.Time
	DelegateID AccountID
	BlockID    hashes.Ripemd160
}

// WasMissed reports whether no block was produced in the slot.
func (s *SlotRecord) WasMissed() bool {
	return s.BlockID.IsZero()
}

// Serialize encodes the slot record to w.
func (s *SlotRecord) Serialize(w io.Writer) error {
	err := WriteTimestamp(w, s.Timestamp)
	if err != nil {
		return err
	}
	return WriteElements(w, s.DelegateID, s.BlockID)
}

// Deserialize decodes a slot record from r into the receiver.
func (s *SlotRecord) Deserialize(r io.Reader) error {
	timestamp, err := ReadTimestamp(r)
	if err != nil {
		return err
	}
	s.Timestamp = timestamp
	return ReadElements(r, &s.DelegateID, &s.BlockID)
}
