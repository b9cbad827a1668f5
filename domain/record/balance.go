package record

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// WithdrawConditionType tags how a balance may be withdrawn.
type WithdrawConditionType uint8

// Withdraw condition types.
const (
	// WithdrawSignature releases the balance to whoever signs with the
	// owner key.
	WithdrawSignature WithdrawConditionType = 1

	// WithdrawVesting releases the balance linearly between the start time
	// and the end of the vesting duration.
	WithdrawVesting WithdrawConditionType = 2
)

// WithdrawCondition states who may withdraw a balance and when. Balances are
// content addressed: the balance id is the id digest of the packed
// condition, so two deposits under the same condition land on the same
// record.
type WithdrawCondition struct {
	Type    WithdrawConditionType
	AssetID AssetID

	// SlateID is the delegate slate the balance votes with, zero for none.
	SlateID SlateID

	// Owner is the address whose signature releases the balance.
	Owner hashes.Ripemd160

	// VestingStart and VestingDuration are meaningful only for
	// WithdrawVesting conditions.
	VestingStart    time.Time
	VestingDuration time.Duration
}

// Serialize encodes the condition to w.
func (c *WithdrawCondition) Serialize(w io.Writer) error {
	err := WriteElements(w, uint8(c.Type), c.AssetID, c.SlateID, c.Owner)
	if err != nil {
		return err
	}
	if c.Type == WithdrawVesting {
		err = WriteTimestamp(w, c.VestingStart)
		if err != nil {
			return err
		}
		return WriteElement(w, int64(c.VestingDuration/time.Second))
	}
	return nil
}

// Deserialize decodes a condition from r into the receiver.
func (c *WithdrawCondition) Deserialize(r io.Reader) error {
	var conditionType uint8
	err := ReadElements(r, &conditionType, &c.AssetID, &c.SlateID, &c.Owner)
	if err != nil {
		return err
	}
	c.Type = WithdrawConditionType(conditionType)
	if c.Type == WithdrawVesting {
		c.VestingStart, err = ReadTimestamp(r)
		if err != nil {
			return err
		}
		var durationSeconds int64
		err = ReadElement(r, &durationSeconds)
		if err != nil {
			return err
		}
		c.VestingDuration = time.Duration(durationSeconds) * time.Second
	}
	return nil
}

// ID returns the balance id the condition addresses.
func (c *WithdrawCondition) ID() hashes.Ripemd160 {
	writer := hashes.NewIDWriter()
	err := c.Serialize(writer)
	if err != nil {
		panic(errors.Wrap(err, "serializing a withdraw condition into its id digest failed"))
	}
	return writer.Finalize()
}

// SnapshotInfo records where an imported genesis balance came from.
type SnapshotInfo struct {
	OriginalAddress string
	OriginalBalance int64
}

// BalanceRecord is a single balance, addressed by its withdraw condition.
type BalanceRecord struct {
	Condition WithdrawCondition
	Balance   int64

	// LastUpdate is the chain time of the latest deposit or withdrawal.
	LastUpdate time.Time

	// Snapshot is set only on balances imported from a genesis document.
	Snapshot *SnapshotInfo
}

// ID returns the balance id.
func (b *BalanceRecord) ID() hashes.Ripemd160 {
	return b.Condition.ID()
}

// AssetID returns the asset the balance is held in.
func (b *BalanceRecord) AssetID() AssetID {
	return b.Condition.AssetID
}

// VestedBalance returns the withdrawable part of the balance at the given
// time. Non-vesting balances vest in full immediately.
func (b *BalanceRecord) VestedBalance(at time.Time) int64 {
	if b.Condition.Type != WithdrawVesting {
		return b.Balance
	}
	if !at.After(b.Condition.VestingStart) {
		return 0
	}
	elapsed := at.Sub(b.Condition.VestingStart)
	if elapsed >= b.Condition.VestingDuration || b.Condition.VestingDuration == 0 {
		return b.Balance
	}
	return int64(float64(b.Balance) *
		(float64(elapsed) / float64(b.Condition.VestingDuration)))
}

// Serialize encodes the balance record to w.
func (b *BalanceRecord) Serialize(w io.Writer) error {
	err := b.Condition.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteElement(w, b.Balance)
	if err != nil {
		return err
	}
	err = WriteTimestamp(w, b.LastUpdate)
	if err != nil {
		return err
	}
	err = WriteElement(w, b.Snapshot != nil)
	if err != nil {
		return err
	}
	if b.Snapshot != nil {
		err = WriteVarString(w, b.Snapshot.OriginalAddress)
		if err != nil {
			return err
		}
		return WriteElement(w, b.Snapshot.OriginalBalance)
	}
	return nil
}

// Deserialize decodes a balance record from r into the receiver.
func (b *BalanceRecord) Deserialize(r io.Reader) error {
	err := b.Condition.Deserialize(r)
	if err != nil {
		return err
	}
	err = ReadElement(r, &b.Balance)
	if err != nil {
		return err
	}
	b.LastUpdate, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	var hasSnapshot bool
	err = ReadElement(r, &hasSnapshot)
	if err != nil {
		return err
	}
	if hasSnapshot {
		b.Snapshot = &SnapshotInfo{}
		b.Snapshot.OriginalAddress, err = ReadVarString(r)
		if err != nil {
			return err
		}
		return ReadElement(r, &b.Snapshot.OriginalBalance)
	}
	b.Snapshot = nil
	return nil
}
