package blockchain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/util/hashes"
)

// popBlock unwinds the head block: the undo entry restores the committed
// state, the fork node loses its inclusion and the head moves to the
// parent. Must be called with the state writer lock held.
func (chain *Blockchain) popBlock() error {
	if chain.headNum == 0 {
		return errors.New("cannot pop the genesis state")
	}
	poppedID := chain.headID
	poppedNum := chain.headNum

	undo, err := fetchUndoState(chain.db, poppedID)
	if err != nil {
		return errors.Wrapf(err, "no undo entry for head block %s", poppedID)
	}
	block, err := fetchRawBlock(chain.db, poppedID)
	if err != nil {
		return err
	}

	err = markForkIncluded(chain.db, poppedID, false)
	if err != nil {
		return err
	}
	err = removeMainChainIndexEntry(chain.db, poppedNum)
	if err != nil {
		return err
	}
	err = undo.Apply(chain.db)
	if err != nil {
		return err
	}
	err = removeUndoState(chain.db, poppedID)
	if err != nil {
		return err
	}

	previousTimestamp, err := chain.timestampOf(block.Header.Previous, poppedNum-1)
	if err != nil {
		return err
	}
	err = chain.setHead(block.Header.Previous, poppedNum-1, previousTimestamp)
	if err != nil {
		return err
	}

	chain.enqueueNotification(notification{undo: undo})
	log.Debugf("Popped block %d (%s)", poppedNum, poppedID)
	return nil
}

// timestampOf resolves a block id to its timestamp. Block number zero is
// the genesis state, whose timestamp lives in the property store.
func (chain *Blockchain) timestampOf(blockID hashes.Ripemd160, blockNum uint32) (time.Time, error) {
	if blockNum == 0 {
		genesisTime, err := fetchPropertyUint64(chain.db, record.PropertyGenesisTimestamp)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(genesisTime), 0), nil
	}
	blockRecord, err := fetchBlockRecord(chain.db, blockID)
	if err != nil {
		return time.Time{}, errors.Wrapf(chainerrors.ErrUnknownBlock,
			"no record for block %s: %s", blockID, err)
	}
	return blockRecord.Header.Timestamp, nil
}
