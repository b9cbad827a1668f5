package blockchain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// PushBlock ingests a candidate block: stores and indexes it in the fork
// tree, and if a longer valid fork became reachable, reorganizes onto it.
// At most one push executes at a time.
//
// The returned error describes what happened to the pushed block itself.
// A block that merely extends a shorter fork returns nil with the head
// unchanged.
func (chain *Blockchain) PushBlock(block *record.Block) error {
	chain.pushLock.Lock()
	defer chain.pushLock.Unlock()
	chain.stateLock.Lock()
	defer chain.stateLock.Unlock()

	blockID := block.Header.ID()

	if chain.headNum > chain.params.MaxUndoHistory &&
		block.Header.BlockNum <= chain.headNum-chain.params.MaxUndoHistory {
		return errors.Wrapf(chainerrors.ErrBlockOlderThanUndoHistory,
			"block %s has number %d, reorganization reaches back to %d",
			blockID, block.Header.BlockNum,
			chain.headNum-chain.params.MaxUndoHistory+1)
	}

	alreadyStored, err := hasRawBlock(chain.db, blockID)
	if err != nil {
		return err
	}
	if alreadyStored {
		return errors.Wrapf(chainerrors.ErrDuplicateBlock,
			"block %s was pushed before", blockID)
	}

	deepestID, err := chain.storeAndIndex(blockID, block)
	if err != nil {
		return err
	}

	deepest, err := fetchForkData(chain.db, deepestID)
	if err != nil {
		return err
	}
	if deepest.BlockNum > chain.headNum {
		chain.trySwitchToDeepest(deepest.BlockNum)
	}
	return chain.pushOutcome(blockID)
}

// storeAndIndex persists the raw block and its derived record, indexes the
// id under its number and inserts the block into the fork tree. It returns
// the deepest linked descendant reachable through the new block.
func (chain *Blockchain) storeAndIndex(blockID hashes.Ripemd160,
	block *record.Block) (hashes.Ripemd160, error) {

	err := storeRawBlock(chain.db, blockID, block)
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	err = storeBlockRecord(chain.db, record.NewBlockRecord(block, chain.now()))
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	err = addBlockNumIndexEntry(chain.db, block.Header.BlockNum, blockID)
	if err != nil {
		return hashes.Ripemd160{}, err
	}

	parentIncluded := false
	if block.Header.BlockNum > 0 {
		includedID, err := fetchMainChainBlockID(chain.db, block.Header.BlockNum-1)
		if err == nil && includedID == block.Header.Previous {
			parentIncluded = true
		} else if err != nil && !database.IsNotFoundError(err) {
			return hashes.Ripemd160{}, err
		}
	}
	if block.Header.BlockNum == 1 && block.Header.Previous.IsZero() {
		parentIncluded = true
	}
	return indexNewBlock(chain.db, block, parentIncluded)
}

// trySwitchToDeepest walks candidate levels downward from the deepest known
// linked block, trying every candidate at each level until a switch
// succeeds. Failures only affect the candidate tried; the loop goes on.
func (chain *Blockchain) trySwitchToDeepest(deepestNum uint32) {
	for level := deepestNum; level > chain.headNum; level-- {
		candidateIDs, err := fetchBlockNumIDs(chain.db, level)
		if err != nil {
			log.Errorf("Cannot list blocks at number %d: %s", level, err)
			return
		}
		for _, candidateID := range candidateIDs {
			node, err := fetchForkData(chain.db, candidateID)
			if err != nil {
				log.Errorf("Cannot load fork node %s: %s", candidateID, err)
				continue
			}
			if !node.IsKnown || !node.IsLinked || node.isInvalid() || node.IsIncluded {
				continue
			}
			err = chain.switchToFork(candidateID)
			if err == nil {
				return
			}
			if errors.Is(err, chainerrors.ErrTimeInFuture) {
				log.Debugf("Block %s is in the future, noting it for retry", candidateID)
			} else {
				log.Warnf("Cannot switch to fork %s: %s", candidateID, err)
			}
		}
	}
}

// switchToFork reorganizes the chain onto the fork ending at targetID:
// pops the head down to the common ancestor, then extends with each block
// of the fork in order. A failed extension stops the switch with the chain
// at the last block that applied.
func (chain *Blockchain) switchToFork(targetID hashes.Ripemd160) error {
	if targetID == chain.headID {
		return nil
	}
	ancestorID, path, err := forkWalkToIncluded(chain.db, targetID)
	if err != nil {
		return err
	}

	if ancestorID != chain.headID {
		log.Infof("Reorganizing to fork %s", targetID)
	}
	for chain.headID != ancestorID {
		err = chain.popBlock()
		if err != nil {
			return err
		}
	}
	for _, blockID := range path {
		block, err := fetchRawBlock(chain.db, blockID)
		if err != nil {
			return err
		}
		err = chain.extendChain(block)
		if errors.Is(err, chainerrors.ErrTimeInFuture) {
			noteErr := storeFutureBlockEntry(chain.db, blockID, block.Header.Timestamp)
			if noteErr != nil {
				return noteErr
			}
			return err
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// pushOutcome reports the pushed block's fate after the switch attempts:
// an invalid reason if it was rejected, a future notice if it waits for
// its slot, nil otherwise.
func (chain *Blockchain) pushOutcome(blockID hashes.Ripemd160) error {
	node, err := fetchForkData(chain.db, blockID)
	if err != nil {
		return err
	}
	if node.isInvalid() {
		return errors.Wrap(chainerrors.RuleErrorFromReason(node.InvalidReason),
			"block was rejected")
	}
	isFuture, err := chain.db.Has(futureBlocksBucket.Key(blockID[:]))
	if err != nil {
		return err
	}
	if isFuture {
		return errors.Wrapf(chainerrors.ErrTimeInFuture,
			"block %s waits for its slot", blockID)
	}
	return nil
}

// RevalidateFutureBlocks retries blocks whose slot has arrived. Call it
// periodically, at block-interval granularity.
func (chain *Blockchain) RevalidateFutureBlocks() error {
	chain.pushLock.Lock()
	defer chain.pushLock.Unlock()
	chain.stateLock.Lock()
	defer chain.stateLock.Unlock()

	now := chain.now()
	dueBlockIDs, err := collectFutureBlocks(chain.db,
		now.Add(maxFutureDrift*chain.params.BlockInterval))
	if err != nil {
		return err
	}
	for _, blockID := range dueBlockIDs {
		err = removeFutureBlockEntry(chain.db, blockID)
		if err != nil {
			return err
		}
		node, err := fetchForkData(chain.db, blockID)
		if err != nil {
			return err
		}
		if node.IsIncluded || node.isInvalid() || !node.IsLinked {
			continue
		}
		if node.BlockNum <= chain.headNum {
			continue
		}
		err = chain.switchToFork(blockID)
		if errors.Is(err, chainerrors.ErrTimeInFuture) {
			continue
		}
		if err != nil {
			log.Warnf("Future block %s failed revalidation: %s", blockID, err)
		}
	}
	return nil
}

// timeUntilNextSlot returns how long until the next slot boundary.
func (chain *Blockchain) timeUntilNextSlot() time.Duration {
	now := chain.now()
	interval := chain.params.BlockIntervalSeconds()
	next := now.Unix()/interval*interval + interval
	return time.Unix(next, 0).Sub(now)
}
