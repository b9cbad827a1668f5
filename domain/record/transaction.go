package record

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// Decoding guards. These are far above anything the per-network size caps
// admit and only bound allocations while decoding untrusted bytes.
const (
	maxOperationPayload         = 1 << 18
	maxOperationsPerTransaction = 1 << 16
	maxSignaturesPerTransaction = 256
)

// OperationType tags the payload of an Operation. The engine treats
// operation payloads as opaque; evaluation is delegated to the transaction
// evaluator.
type OperationType uint8

// Operation is a single state transition request inside a transaction. The
// payload encoding is owned by the evaluator for the given type.
type Operation struct {
	Type OperationType
	Data []byte
}

// Serialize encodes the operation to w.
func (op *Operation) Serialize(w io.Writer) error {
	err := WriteElement(w, uint8(op.Type))
	if err != nil {
		return err
	}
	return WriteVarBytes(w, op.Data)
}

// Deserialize decodes an operation from r into the receiver.
func (op *Operation) Deserialize(r io.Reader) error {
	var opType uint8
	err := ReadElement(r, &opType)
	if err != nil {
		return err
	}
	op.Type = OperationType(opType)
	op.Data, err = ReadVarBytes(r, maxOperationPayload, "operation payload")
	return err
}

// Transaction is the unsigned body of a user transaction: an expiration
// time, an optional delegate slate to vote with, and an ordered list of
// operations.
type Transaction struct {
	Expiration time.Time
	SlateID    SlateID
	Operations []Operation
}

// Serialize encodes the transaction body to w.
func (tx *Transaction) Serialize(w io.Writer) error {
	err := WriteTimestamp(w, tx.Expiration)
	if err != nil {
		return err
	}
	err = WriteElement(w, tx.SlateID)
	if err != nil {
		return err
	}
	err = WriteVarInt(w, uint64(len(tx.Operations)))
	if err != nil {
		return err
	}
	for i := range tx.Operations {
		err = tx.Operations[i].Serialize(w)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a transaction body from r into the receiver.
func (tx *Transaction) Deserialize(r io.Reader) error {
	expiration, err := ReadTimestamp(r)
	if err != nil {
		return err
	}
	tx.Expiration = expiration
	err = ReadElement(r, &tx.SlateID)
	if err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxOperationsPerTransaction {
		return errors.Errorf("too many operations in transaction [count %d]", count)
	}
	tx.Operations = make([]Operation, count)
	for i := uint64(0); i < count; i++ {
		err = tx.Operations[i].Deserialize(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// ID returns the transaction id, the id digest of the packed transaction
// body. Signatures do not contribute to the id.
func (tx *Transaction) ID() hashes.Ripemd160 {
	writer := hashes.NewIDWriter()
	err := tx.Serialize(writer)
	if err != nil {
		panic(errors.Wrap(err, "serializing a transaction into its id digest failed"))
	}
	return writer.Finalize()
}

// Digest returns the replay protection digest of the transaction body under
// the given chain id. Two identical bodies on different chains digest
// differently.
func (tx *Transaction) Digest(chainID hashes.Sha256) hashes.Sha256 {
	buf := &bytes.Buffer{}
	err := WriteElement(buf, chainID)
	if err == nil {
		err = tx.Serialize(buf)
	}
	if err != nil {
		panic(errors.Wrap(err, "serializing a transaction into its digest failed"))
	}
	return hashes.HashSha256(buf.Bytes())
}

// SignedTransaction is a transaction body together with the compact
// recoverable signatures authorizing it.
type SignedTransaction struct {
	Transaction
	Signatures [][65]byte
}

// Serialize encodes the signed transaction to w.
func (tx *SignedTransaction) Serialize(w io.Writer) error {
	err := tx.Transaction.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteVarInt(w, uint64(len(tx.Signatures)))
	if err != nil {
		return err
	}
	for i := range tx.Signatures {
		err = WriteElement(w, tx.Signatures[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a signed transaction from r into the receiver.
func (tx *SignedTransaction) Deserialize(r io.Reader) error {
	err := tx.Transaction.Deserialize(r)
	if err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxSignaturesPerTransaction {
		return errors.Errorf("too many signatures in transaction [count %d]", count)
	}
	tx.Signatures = make([][65]byte, count)
	for i := uint64(0); i < count; i++ {
		err = ReadElement(r, &tx.Signatures[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializedSize returns the number of bytes the signed transaction occupies
// when serialized.
func (tx *SignedTransaction) SerializedSize() int {
	return serializedSize(tx.Serialize)
}

// TransactionLocation addresses a confirmed transaction by the block that
// included it and its index within that block.
type TransactionLocation struct {
	BlockNum uint32
	Index    uint32
}

// TransactionRecord is the stored form of a confirmed transaction: the
// signed transaction together with its chain location and the fees its
// evaluation collected.
type TransactionRecord struct {
	Location    TransactionLocation
	Transaction SignedTransaction
	FeesPaid    int64
}

// Serialize encodes the transaction record to w.
func (txr *TransactionRecord) Serialize(w io.Writer) error {
	err := WriteElements(w, txr.Location.BlockNum, txr.Location.Index)
	if err != nil {
		return err
	}
	err = txr.Transaction.Serialize(w)
	if err != nil {
		return err
	}
	return WriteElement(w, txr.FeesPaid)
}

// Deserialize decodes a transaction record from r into the receiver.
func (txr *TransactionRecord) Deserialize(r io.Reader) error {
	err := ReadElements(r, &txr.Location.BlockNum, &txr.Location.Index)
	if err != nil {
		return err
	}
	err = txr.Transaction.Deserialize(r)
	if err != nil {
		return err
	}
	return ReadElement(r, &txr.FeesPaid)
}
