package blockchain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/domain/state"
	"github.com/xtsnet/xtsd/util/hashes"
)

// GenerateBlock assembles an unsigned candidate block for the slot at
// timestamp. Transactions come from the mempool in fee order; each is
// evaluated against a throwaway overlay stack and dropped when it fails or
// would push the block past its size limit. The caller signs the returned
// header before pushing.
//
// previousSecret must be the preimage of the delegate's stored commitment;
// nextSecretHash is the commitment for the following block.
func (chain *Blockchain) GenerateBlock(timestamp time.Time,
	delegateID record.AccountID, previousSecret,
	nextSecretHash hashes.Ripemd160) (*record.Block, error) {

	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()

	if timestamp.Unix()%chain.params.BlockIntervalSeconds() != 0 {
		return nil, errors.Wrapf(chainerrors.ErrInvalidBlockTime,
			"slot timestamp %s is not aligned to the %s interval",
			timestamp, chain.params.BlockInterval)
	}
	if !timestamp.After(chain.headTimestamp) {
		return nil, errors.Wrapf(chainerrors.ErrTimeInPast,
			"slot timestamp %s is not after the head's %s",
			timestamp, chain.headTimestamp)
	}
	scheduledID, err := chain.delegateForSlot(chain.db, timestamp)
	if err != nil {
		return nil, err
	}
	if scheduledID != delegateID {
		return nil, errors.Wrapf(chainerrors.ErrInvalidDelegateSignee,
			"slot %s belongs to delegate %d, not %d",
			timestamp, scheduledID, delegateID)
	}

	header := record.BlockHeader{
		Previous:       chain.headID,
		BlockNum:       chain.headNum + 1,
		Timestamp:      timestamp,
		PreviousSecret: previousSecret,
		NextSecretHash: nextSecretHash,
	}
	block := &record.Block{Header: header}

	blockOverlay := state.NewPendingState(chain.db)
	blockSize := block.SerializedSize()

	var pending []*record.SignedTransaction
	if chain.pool != nil {
		pending = chain.pool.TransactionsByFee()
	}
	for i, transaction := range pending {
		transactionSize := transaction.SerializedSize()
		if transactionSize > chain.params.MaxTransactionSize {
			continue
		}
		if blockSize+transactionSize > chain.params.MaxBlockSize {
			continue
		}

		trxOverlay := state.NewPendingState(blockOverlay)
		location := record.TransactionLocation{
			BlockNum: header.BlockNum,
			Index:    uint32(len(block.Transactions)),
		}
		_, err := chain.evaluator.Evaluate(trxOverlay, transaction, timestamp, location)
		if err != nil {
			log.Debugf("Skipping pending transaction %d: %s", i, err)
			continue
		}
		err = trxOverlay.Commit()
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, *transaction)
		blockSize += transactionSize
	}

	block.Header.TransactionDigest = block.ComputeTransactionDigest()
	return block, nil
}
