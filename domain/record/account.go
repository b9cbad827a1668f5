package record

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// maxKeyHistoryEntries bounds allocations while decoding an account record.
const maxKeyHistoryEntries = 1 << 16

// KeyHistoryEntry is a timestamped active key. The entry with the latest
// time is the account's current active key.
type KeyHistoryEntry struct {
	Time time.Time
	Key  [33]byte
}

// DelegateInfo is the production and pay bookkeeping carried by accounts
// registered as delegates.
type DelegateInfo struct {
	// VotesFor is the net stake voting for this delegate.
	VotesFor int64

	// PayRate is the percentage of the available pay the delegate accepts,
	// in [0, 100].
	PayRate uint8

	BlocksProduced uint32
	BlocksMissed   uint32

	// LastBlockNumProduced is the number of the latest block this delegate
	// signed.
	LastBlockNumProduced uint32

	// NextSecretHash is the commitment revealed by the delegate's next
	// produced block.
	NextSecretHash hashes.Ripemd160

	// PayBalance is earned pay not yet withdrawn, in base asset subunits.
	PayBalance int64

	// TotalPaid is the cumulative pay ever credited.
	TotalPaid int64
}

// Serialize encodes the delegate info to w.
func (d *DelegateInfo) Serialize(w io.Writer) error {
	return WriteElements(w, d.VotesFor, d.PayRate, d.BlocksProduced,
		d.BlocksMissed, d.LastBlockNumProduced, d.NextSecretHash,
		d.PayBalance, d.TotalPaid)
}

// Deserialize decodes delegate info from r into the receiver.
func (d *DelegateInfo) Deserialize(r io.Reader) error {
	return ReadElements(r, &d.VotesFor, &d.PayRate, &d.BlocksProduced,
		&d.BlocksMissed, &d.LastBlockNumProduced, &d.NextSecretHash,
		&d.PayBalance, &d.TotalPaid)
}

// AccountRecord is a registered account. Delegate is nil for accounts that
// never registered as a delegate.
type AccountRecord struct {
	ID       AccountID
	Name     string
	OwnerKey [33]byte

	// ActiveKeyHistory is ordered by time ascending. The last entry is the
	// current active key.
	ActiveKeyHistory []KeyHistoryEntry

	RegistrationDate time.Time
	LastUpdate       time.Time

	Delegate *DelegateInfo

	// Retracted accounts may no longer act; their delegate (if any) is
	// excluded from the active set.
	Retracted bool
}

// IsDelegate reports whether the account ever registered as a delegate.
func (a *AccountRecord) IsDelegate() bool {
	return a.Delegate != nil
}

// NetVotes returns the delegate's net votes, zero for non-delegates.
func (a *AccountRecord) NetVotes() int64 {
	if a.Delegate == nil {
		return 0
	}
	return a.Delegate.VotesFor
}

// ActiveKey returns the current active key, falling back to the owner key
// for accounts with an empty history.
func (a *AccountRecord) ActiveKey() [33]byte {
	if len(a.ActiveKeyHistory) == 0 {
		return a.OwnerKey
	}
	return a.ActiveKeyHistory[len(a.ActiveKeyHistory)-1].Key
}

// Address returns the 160-bit commitment to the account's owner key.
func (a *AccountRecord) Address() hashes.Ripemd160 {
	return hashes.HashID(a.OwnerKey[:])
}

// Serialize encodes the account record to w.
func (a *AccountRecord) Serialize(w io.Writer) error {
	err := WriteElements(w, a.ID)
	if err != nil {
		return err
	}
	err = WriteVarString(w, a.Name)
	if err != nil {
		return err
	}
	err = WriteElement(w, a.OwnerKey)
	if err != nil {
		return err
	}
	err = WriteVarInt(w, uint64(len(a.ActiveKeyHistory)))
	if err != nil {
		return err
	}
	for i := range a.ActiveKeyHistory {
		err = WriteTimestamp(w, a.ActiveKeyHistory[i].Time)
		if err != nil {
			return err
		}
		err = WriteElement(w, a.ActiveKeyHistory[i].Key)
		if err != nil {
			return err
		}
	}
	err = WriteTimestamp(w, a.RegistrationDate)
	if err != nil {
		return err
	}
	err = WriteTimestamp(w, a.LastUpdate)
	if err != nil {
		return err
	}
	err = WriteElement(w, a.Delegate != nil)
	if err != nil {
		return err
	}
	if a.Delegate != nil {
		err = a.Delegate.Serialize(w)
		if err != nil {
			return err
		}
	}
	return WriteElement(w, a.Retracted)
}

// Deserialize decodes an account record from r into the receiver.
func (a *AccountRecord) Deserialize(r io.Reader) error {
	err := ReadElement(r, &a.ID)
	if err != nil {
		return err
	}
	a.Name, err = ReadVarString(r)
	if err != nil {
		return err
	}
	err = ReadElement(r, &a.OwnerKey)
	if err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxKeyHistoryEntries {
		return errors.Errorf("too many active key history entries [count %d]", count)
	}
	a.ActiveKeyHistory = make([]KeyHistoryEntry, count)
	for i := uint64(0); i < count; i++ {
		a.ActiveKeyHistory[i].Time, err = ReadTimestamp(r)
		if err != nil {
			return err
		}
		err = ReadElement(r, &a.ActiveKeyHistory[i].Key)
		if err != nil {
			return err
		}
	}
	a.RegistrationDate, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	a.LastUpdate, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	var isDelegate bool
	err = ReadElement(r, &isDelegate)
	if err != nil {
		return err
	}
	if isDelegate {
		a.Delegate = &DelegateInfo{}
		err = a.Delegate.Deserialize(r)
		if err != nil {
			return err
		}
	} else {
		a.Delegate = nil
	}
	return ReadElement(r, &a.Retracted)
}
