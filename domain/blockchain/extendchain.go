package blockchain

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/domain/state"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// extendChain applies a block on top of the current head. All state writes
// happen in an overlay that is only committed after every step succeeded,
// so a failure at any point leaves the committed state untouched.
//
// On a rule violation the block's fork node is marked invalid and the
// violation propagated to its descendants, except for a timestamp in the
// future, which is retried once its slot arrives. Must be called with the
// state writer lock held.
func (chain *Blockchain) extendChain(block *record.Block) error {
	blockID := block.Header.ID()
	started := time.Now()

	err := chain.applyBlock(block, blockID, started)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, chainerrors.ErrTimeInFuture) {
		return err
	}
	markErr := markForkInvalid(chain.db, blockID, chainerrors.Reason(err))
	if markErr != nil {
		log.Errorf("Cannot mark block %s invalid: %s", blockID, markErr)
	}
	return err
}

func (chain *Blockchain) applyBlock(block *record.Block, blockID hashes.Ripemd160,
	started time.Time) error {

	err := checkCheckpoint(chain.params, block.Header.BlockNum, blockID)
	if err != nil {
		return err
	}
	producer, err := chain.verifyHeader(chain.db, block)
	if err != nil {
		return err
	}
	err = verifyProducerSecret(producer, block.Header.PreviousSecret)
	if err != nil {
		return err
	}

	overlay := state.NewPendingState(chain.db)

	err = chain.recordProduction(overlay, producer, &block.Header)
	if err != nil {
		return err
	}
	sharesIssued, feesCollected, feesDestroyed, err := chain.payDelegate(
		overlay, producer, block.Header.Timestamp)
	if err != nil {
		return err
	}

	if block.Header.BlockNum < chain.params.ForkBlocks.TransactionsAfterMarkets {
		err = chain.applyTransactions(overlay, block)
		if err != nil {
			return err
		}
		err = chain.executeMarkets(overlay, block.Header.Timestamp)
	} else {
		err = chain.executeMarkets(overlay, block.Header.Timestamp)
		if err != nil {
			return err
		}
		err = chain.applyTransactions(overlay, block)
	}
	if err != nil {
		return err
	}

	seed, err := fetchRandomSeed(overlay)
	if err != nil {
		return err
	}
	err = chain.updateActiveDelegates(overlay, block.Header.BlockNum, seed)
	if err != nil {
		return err
	}
	newSeed, err := updateRandomSeed(overlay, block.Header.PreviousSecret)
	if err != nil {
		return err
	}

	err = expireUniqueTransactions(overlay, block.Header.Timestamp)
	if err != nil {
		return err
	}
	err = chain.runForkRecomputations(overlay, block.Header.BlockNum,
		block.Header.Timestamp)
	if err != nil {
		return err
	}

	// The overlay is final. Capture the undo before anything is written
	// through, then commit and flip the chain metadata.
	if !behindLastCheckpoint(chain.params, block.Header.BlockNum) {
		undo, err := overlay.CaptureUndo()
		if err != nil {
			return err
		}
		err = storeUndoState(chain.db, blockID, undo)
		if err != nil {
			return err
		}
		err = chain.pruneUndoHistory(block.Header.BlockNum)
		if err != nil {
			return err
		}
	}
	err = overlay.Commit()
	if err != nil {
		return err
	}

	err = markForkIncluded(chain.db, blockID, true)
	if err != nil {
		return err
	}
	err = markForkValid(chain.db, blockID)
	if err != nil {
		return err
	}
	err = storeMainChainIndexEntry(chain.db, block.Header.BlockNum, blockID)
	if err != nil {
		return err
	}
	err = chain.setHead(blockID, block.Header.BlockNum, block.Header.Timestamp)
	if err != nil {
		return err
	}
	err = removeFutureBlockEntry(chain.db, blockID)
	if err != nil {
		return err
	}

	blockRecord, err := fetchBlockRecord(chain.db, blockID)
	if err != nil {
		return err
	}
	blockRecord.ProcessingTime = time.Since(started)
	blockRecord.RandomSeed = newSeed
	blockRecord.SharesIssued = sharesIssued
	blockRecord.FeesCollected = feesCollected
	blockRecord.FeesDestroyed = feesDestroyed
	err = storeBlockRecord(chain.db, blockRecord)
	if err != nil {
		return err
	}

	chain.clearPending(block)

	if chain.isRecent(block.Header.Timestamp) {
		chain.enqueueNotification(notification{
			summary: &BlockSummary{Block: block, BlockRecord: blockRecord},
		})
	}

	log.Debugf("Applied block %d (%s) with %d transactions",
		block.Header.BlockNum, blockID, len(block.Transactions))
	return nil
}

// applyTransactions evaluates the block's transactions in order, assigning
// each its location, and records them as confirmed.
func (chain *Blockchain) applyTransactions(overlay *state.PendingState,
	block *record.Block) error {

	if chain.evaluator == nil && len(block.Transactions) > 0 {
		return errors.Errorf("block %d carries transactions but no evaluator is configured",
			block.Header.BlockNum)
	}
	for i := range block.Transactions {
		transaction := &block.Transactions[i]
		location := record.TransactionLocation{
			BlockNum: block.Header.BlockNum,
			Index:    uint32(i),
		}
		evaluation, err := chain.evaluator.Evaluate(overlay, transaction,
			block.Header.Timestamp, location)
		if err != nil {
			return errors.Wrapf(err, "transaction %d of block %d failed",
				i, block.Header.BlockNum)
		}

		digest := transaction.Digest(chain.chainID)
		alreadySeen, err := hasUniqueTransaction(overlay, digest)
		if err != nil {
			return err
		}
		if alreadySeen {
			return errors.Wrapf(chainerrors.ErrDuplicateTransaction,
				"transaction %d of block %d was included before",
				i, block.Header.BlockNum)
		}
		err = storeUniqueTransaction(overlay, digest, transaction.Expiration)
		if err != nil {
			return err
		}
		err = storeTransactionRecord(overlay, transaction.ID(), &record.TransactionRecord{
			Location:    location,
			Transaction: *transaction,
			FeesPaid:    evaluation.TotalFees(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (chain *Blockchain) executeMarkets(overlay *state.PendingState,
	timestamp time.Time) error {

	if chain.markets == nil {
		return nil
	}
	return chain.markets.Execute(overlay, timestamp)
}

// expireUniqueTransactions drops uniqueness fingerprints whose expiration
// has passed chain time. Without this the unique set would grow without
// bound.
func expireUniqueTransactions(dbContext database.DataAccessor, chainTime time.Time) error {
	expired, err := collectExpiredUniqueTransactions(dbContext, chainTime)
	if err != nil {
		return err
	}
	for _, digest := range expired {
		err = removeUniqueTransaction(dbContext, digest)
		if err != nil {
			return err
		}
	}
	return nil
}

// pruneUndoHistory removes the undo entry that just fell out of the
// reorganization window.
func (chain *Blockchain) pruneUndoHistory(newHeadNum uint32) error {
	if newHeadNum <= chain.params.MaxUndoHistory {
		return nil
	}
	prunedNum := newHeadNum - chain.params.MaxUndoHistory
	prunedID, err := fetchMainChainBlockID(chain.db, prunedNum)
	if database.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	has, err := hasUndoState(chain.db, prunedID)
	if err != nil || !has {
		return err
	}
	return removeUndoState(chain.db, prunedID)
}

// clearPending removes the block's transactions from the mempool and
// schedules revalidation of the rest. Revalidation is pointless during
// historical replay, so it is skipped behind the last checkpoint.
func (chain *Blockchain) clearPending(block *record.Block) {
	if chain.pool == nil {
		return
	}
	confirmed := make([]hashes.Ripemd160, 0, len(block.Transactions))
	for i := range block.Transactions {
		confirmed = append(confirmed, block.Transactions[i].ID())
	}
	chain.pool.RemoveConfirmed(confirmed)
	if !behindLastCheckpoint(chain.params, block.Header.BlockNum) {
		chain.pool.ScheduleRevalidation()
	}
}

// isRecent reports whether a block timestamp is within one interval of the
// wall clock. Only recent blocks fan out to observers; replay does not.
func (chain *Blockchain) isRecent(timestamp time.Time) bool {
	now := chain.now()
	return timestamp.After(now.Add(-chain.params.BlockInterval))
}
