package blockchain

import (
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// maxFutureDrift is how far ahead of wall clock a block timestamp may lie,
// in block intervals.
const maxFutureDrift = 2

// checkCheckpoint rejects a block at a checkpointed number whose id is not
// the pinned one. Blocks between checkpoints pass.
func checkCheckpoint(params *chainparams.Params, blockNum uint32, blockID hashes.Ripemd160) error {
	for i := range params.Checkpoints {
		checkpoint := &params.Checkpoints[i]
		if checkpoint.BlockNum != blockNum {
			continue
		}
		if checkpoint.BlockID != blockID {
			return errors.Wrapf(chainerrors.ErrFailedCheckpointVerification,
				"block %s at number %d does not match checkpoint %s",
				blockID, blockNum, checkpoint.BlockID)
		}
		return nil
	}
	return nil
}

// behindLastCheckpoint reports whether blockNum is at or before the last
// checkpoint. Signature recovery and undo recording are elided there.
func behindLastCheckpoint(params *chainparams.Params, blockNum uint32) bool {
	checkpoint := params.LastCheckpoint()
	return checkpoint != nil && blockNum <= checkpoint.BlockNum
}

// recoverSigner recovers the compressed public key that produced the
// header's compact signature over the header digest.
func recoverSigner(header *record.BlockHeader) ([33]byte, error) {
	var signer [33]byte
	digest := header.ID()
	pubKey, compressed, err := btcec.RecoverCompact(btcec.S256(),
		header.Signature[:], digest[:])
	if err != nil {
		return signer, errors.Wrapf(chainerrors.ErrInvalidDelegateSignee,
			"cannot recover the block signer: %s", err)
	}
	if !compressed {
		return signer, errors.Wrap(chainerrors.ErrInvalidDelegateSignee,
			"block signature does not commit to a compressed key")
	}
	copy(signer[:], pubKey.SerializeCompressed())
	return signer, nil
}

// verifyHeader checks a block header against the current head. It returns
// the producing delegate's account record, loaded through dbContext.
func (chain *Blockchain) verifyHeader(dbContext database.DataAccessor,
	block *record.Block) (*record.AccountRecord, error) {

	header := &block.Header
	blockID := header.ID()

	if header.BlockNum != chain.headNum+1 {
		return nil, errors.Wrapf(chainerrors.ErrBlockNumbersNotSequential,
			"block %s has number %d, head is %d",
			blockID, header.BlockNum, chain.headNum)
	}
	if header.Previous != chain.headID {
		return nil, errors.Wrapf(chainerrors.ErrInvalidPreviousBlockID,
			"block %s extends %s, head is %s",
			blockID, header.Previous, chain.headID)
	}
	if header.Timestamp.Unix()%chain.params.BlockIntervalSeconds() != 0 {
		return nil, errors.Wrapf(chainerrors.ErrInvalidBlockTime,
			"block timestamp %s is not aligned to the %s interval",
			header.Timestamp, chain.params.BlockInterval)
	}
	if !header.Timestamp.After(chain.headTimestamp) {
		return nil, errors.Wrapf(chainerrors.ErrTimeInPast,
			"block timestamp %s is not after the head's %s",
			header.Timestamp, chain.headTimestamp)
	}
	now := chain.now()
	if header.Timestamp.After(now.Add(maxFutureDrift * chain.params.BlockInterval)) {
		return nil, errors.Wrapf(chainerrors.ErrTimeInFuture,
			"block timestamp %s is too far past the clock's %s",
			header.Timestamp, now)
	}

	err := block.ValidateDigest()
	if err != nil {
		return nil, err
	}
	seen := make(map[hashes.Ripemd160]struct{}, len(block.Transactions))
	for i := range block.Transactions {
		transactionID := block.Transactions[i].ID()
		if _, ok := seen[transactionID]; ok {
			return nil, errors.Wrapf(chainerrors.ErrDuplicateTransactionInBlock,
				"transaction %s appears twice in block %s", transactionID, blockID)
		}
		seen[transactionID] = struct{}{}
	}

	expectedDelegateID, err := chain.delegateForSlot(dbContext, header.Timestamp)
	if err != nil {
		return nil, err
	}
	expectedDelegate, err := fetchAccountRecord(dbContext, expectedDelegateID)
	if err != nil {
		return nil, err
	}

	// At and below the last checkpoint the schedule alone decides the signer.
	if !behindLastCheckpoint(chain.params, header.BlockNum) {
		signer, err := recoverSigner(header)
		if err != nil {
			return nil, err
		}
		if signer != expectedDelegate.ActiveKey() {
			return nil, errors.Wrapf(chainerrors.ErrInvalidDelegateSignee,
				"block %s is not signed by delegate %s scheduled for slot %s",
				blockID, expectedDelegate.Name, header.Timestamp)
		}
	}
	return expectedDelegate, nil
}

// verifyProducerSecret checks the revealed secret against the producer's
// prior commitment. A zero commitment means the delegate has not produced
// since registering and any secret passes.
func verifyProducerSecret(delegate *record.AccountRecord, previousSecret hashes.Ripemd160) error {
	commitment := delegate.Delegate.NextSecretHash
	if commitment.IsZero() {
		return nil
	}
	revealed := hashes.HashRipemd160(previousSecret[:])
	if revealed != commitment {
		return errors.Wrapf(chainerrors.ErrInvalidProducerSecret,
			"revealed secret hashes to %s, delegate %s committed to %s",
			revealed, delegate.Name, commitment)
	}
	return nil
}

// slotTimestamp floors t to the slot grid.
func slotTimestamp(params *chainparams.Params, t time.Time) time.Time {
	interval := params.BlockIntervalSeconds()
	return time.Unix(t.Unix()-t.Unix()%interval, 0)
}
