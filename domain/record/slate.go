package record

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// maxDelegatesPerSlate bounds allocations while decoding a slate.
const maxDelegatesPerSlate = 1 << 16

// SlateRecord is a reusable list of delegates a balance may vote for.
// Slates are content addressed so identical delegate lists share one
// record.
type SlateRecord struct {
	ID        SlateID
	Delegates []AccountID
}

// ComputeID derives the slate id from the delegate list.
func (s *SlateRecord) ComputeID() SlateID {
	buf := &bytes.Buffer{}
	err := WriteVarInt(buf, uint64(len(s.Delegates)))
	if err == nil {
		for _, delegateID := range s.Delegates {
			err = WriteElement(buf, delegateID)
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		panic(errors.Wrap(err, "serializing a slate into its id digest failed"))
	}
	digest := hashes.HashID(buf.Bytes())
	return SlateID(binary.LittleEndian.Uint64(digest[:8]))
}

// Serialize encodes the slate record to w.
func (s *SlateRecord) Serialize(w io.Writer) error {
	err := WriteElement(w, s.ID)
	if err != nil {
		return err
	}
	err = WriteVarInt(w, uint64(len(s.Delegates)))
	if err != nil {
		return err
	}
	for _, delegateID := range s.Delegates {
		err = WriteElement(w, delegateID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a slate record from r into the receiver.
func (s *SlateRecord) Deserialize(r io.Reader) error {
	err := ReadElement(r, &s.ID)
	if err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxDelegatesPerSlate {
		return errors.Errorf("too many delegates in slate [count %d]", count)
	}
	s.Delegates = make([]AccountID, count)
	for i := uint64(0); i < count; i++ {
		err = ReadElement(r, &s.Delegates[i])
		if err != nil {
			return err
		}
	}
	return nil
}
