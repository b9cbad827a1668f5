package record

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// maxTransactionsPerBlock bounds allocations while decoding untrusted block
// bytes. The per-network block size cap is enforced separately.
const maxTransactionsPerBlock = 1 << 16

// BlockHeader holds the producer-signed portion of a block.
//
// The block id is the id digest of the packed header with an all-zero
// signature, so a block's id is fixed before it is signed and the signature
// can be verified against it.
type BlockHeader struct {
	// Previous is the id of the parent block, all zero for block 1.
	Previous hashes.Ripemd160

	// BlockNum is the position in the chain. The first block after genesis
	// is 1.
	BlockNum uint32

	// Timestamp is the slot this block was produced in. It must be aligned
	// to the block interval.
	Timestamp time.Time

	// TransactionDigest commits to the ordered packed transaction list.
	TransactionDigest hashes.Sha256

	// PreviousSecret reveals the secret the producer committed to when it
	// produced its previous block.
	PreviousSecret hashes.Ripemd160

	// NextSecretHash commits to the secret the producer will reveal the
	// next time it produces.
	NextSecretHash hashes.Ripemd160

	// Signature is the producer's compact recoverable signature over the
	// block id.
	Signature [65]byte
}

// serializeHeader writes the header fields in declaration order. When
// withSignature is false an all-zero signature is written in place of the
// real one, which is the form the block id is computed over.
func (h *BlockHeader) serializeHeader(w io.Writer, withSignature bool) error {
	err := WriteElements(w, h.Previous, h.BlockNum)
	if err != nil {
		return err
	}
	err = WriteTimestamp(w, h.Timestamp)
	if err != nil {
		return err
	}
	signature := h.Signature
	if !withSignature {
		signature = [65]byte{}
	}
	return WriteElements(w, h.TransactionDigest, h.PreviousSecret,
		h.NextSecretHash, signature)
}

// Serialize encodes the header to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return h.serializeHeader(w, true)
}

// Deserialize decodes a header from r into the receiver.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	err := ReadElements(r, &h.Previous, &h.BlockNum)
	if err != nil {
		return err
	}
	h.Timestamp, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	return ReadElements(r, &h.TransactionDigest, &h.PreviousSecret,
		&h.NextSecretHash, &h.Signature)
}

// ID returns the block id for the header.
func (h *BlockHeader) ID() hashes.Ripemd160 {
	writer := hashes.NewIDWriter()
	err := h.serializeHeader(writer, false)
	if err != nil {
		panic(errors.Wrap(err, "serializing a block header into its id digest failed"))
	}
	return writer.Finalize()
}

// Block is a full block: the signed header and the user transactions it
// confirms.
type Block struct {
	Header       BlockHeader
	Transactions []SignedTransaction
}

// Serialize encodes the block to w.
func (b *Block) Serialize(w io.Writer) error {
	err := b.Header.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteVarInt(w, uint64(len(b.Transactions)))
	if err != nil {
		return err
	}
	for i := range b.Transactions {
		err = b.Transactions[i].Serialize(w)
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a block from r into the receiver.
func (b *Block) Deserialize(r io.Reader) error {
	err := b.Header.Deserialize(r)
	if err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTransactionsPerBlock {
		return errors.Errorf("too many transactions in block [count %d]", count)
	}
	b.Transactions = make([]SignedTransaction, count)
	for i := uint64(0); i < count; i++ {
		err = b.Transactions[i].Deserialize(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializedSize returns the number of bytes the block occupies when
// serialized.
func (b *Block) SerializedSize() int {
	return serializedSize(b.Serialize)
}

// ComputeTransactionDigest returns the digest of the ordered packed
// transaction list, the value the header's TransactionDigest must carry.
func (b *Block) ComputeTransactionDigest() hashes.Sha256 {
	buf := &bytes.Buffer{}
	for i := range b.Transactions {
		err := b.Transactions[i].Serialize(buf)
		if err != nil {
			panic(errors.Wrap(err, "serializing transactions into the block digest failed"))
		}
	}
	return hashes.HashSha256(buf.Bytes())
}

// ValidateDigest checks the header's transaction digest against the actual
// transaction list.
func (b *Block) ValidateDigest() error {
	digest := b.ComputeTransactionDigest()
	if !digest.IsEqual(&b.Header.TransactionDigest) {
		return errors.Errorf("block %s transaction digest mismatch: header %s, computed %s",
			b.Header.ID(), b.Header.TransactionDigest, digest)
	}
	return nil
}

// BlockRecord is the stored, indexed form of a block: the header plus
// derived statistics filled in while the block is processed.
type BlockRecord struct {
	Header BlockHeader

	// ID memoizes the header's id digest.
	ID hashes.Ripemd160

	// BlockSize is the serialized size of the full block.
	BlockSize uint32

	// Latency is how long after its slot timestamp the block arrived.
	Latency time.Duration

	// ProcessingTime is how long applying the block took. Zero until the
	// block has been applied.
	ProcessingTime time.Duration

	// RandomSeed is the chain randomness after this block was applied.
	// Zero until the block has been applied.
	RandomSeed hashes.Ripemd160

	// SharesIssued is the new base-asset shares issued to the producing
	// delegate.
	SharesIssued int64

	// FeesCollected is the portion of accumulated fees paid to the
	// producing delegate.
	FeesCollected int64

	// FeesDestroyed is the portion of the producer's pay allowance that
	// was burned instead of paid.
	FeesDestroyed int64
}

// Serialize encodes the block record to w.
func (br *BlockRecord) Serialize(w io.Writer) error {
	err := br.Header.Serialize(w)
	if err != nil {
		return err
	}
	return WriteElements(w, br.ID, br.BlockSize,
		int64(br.Latency/time.Millisecond),
		int64(br.ProcessingTime/time.Millisecond),
		br.RandomSeed, br.SharesIssued, br.FeesCollected, br.FeesDestroyed)
}

// Deserialize decodes a block record from r into the receiver.
func (br *BlockRecord) Deserialize(r io.Reader) error {
	err := br.Header.Deserialize(r)
	if err != nil {
		return err
	}
	var latencyMilliseconds, processingMilliseconds int64
	err = ReadElements(r, &br.ID, &br.BlockSize,
		&latencyMilliseconds, &processingMilliseconds, &br.RandomSeed,
		&br.SharesIssued, &br.FeesCollected, &br.FeesDestroyed)
	if err != nil {
		return err
	}
	br.Latency = time.Duration(latencyMilliseconds) * time.Millisecond
	br.ProcessingTime = time.Duration(processingMilliseconds) * time.Millisecond
	return nil
}

// NewBlockRecord derives a block record from a received block.
func NewBlockRecord(block *Block, now time.Time) *BlockRecord {
	latency := now.Sub(block.Header.Timestamp)
	if latency < 0 {
		latency = 0
	}
	return &BlockRecord{
		Header:    block.Header,
		ID:        block.Header.ID(),
		BlockSize: uint32(block.SerializedSize()),
		Latency:   latency,
	}
}
