package blockchain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/infrastructure/logger"
	"github.com/xtsnet/xtsd/util/hashes"
)

// Open brings up a Blockchain over the given database, whatever state it
// is in. A database with no chain is initialized from document. A database
// whose index was written by an older version of the software is reindexed
// from its raw block store. A database written by a newer version is
// refused with ErrNewDatabaseVersion.
func Open(config *Config, document *GenesisDocument) (*Blockchain, error) {
	version, err := fetchPropertyUint64(config.Database, record.PropertyDatabaseVersion)
	if database.IsNotFoundError(err) {
		if document == nil {
			return nil, errors.New("database holds no chain and no genesis document was given")
		}
		log.Infof("Database holds no chain, initializing genesis state")
		err = initializeGenesisState(config.Database, config.Params, document)
		if err != nil {
			return nil, err
		}
		return New(config)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case uint32(version) > config.Params.DatabaseVersion:
		return nil, errors.Wrapf(chainerrors.ErrNewDatabaseVersion,
			"database version %d is newer than this software's %d",
			version, config.Params.DatabaseVersion)
	case uint32(version) < config.Params.DatabaseVersion:
		err = reindexChain(config, document)
		if err != nil {
			return nil, err
		}
	}
	return New(config)
}

// Reindex drops and rebuilds the chain index from the raw block store
// regardless of the stored version. The caller opens the chain afterwards.
func Reindex(config *Config, document *GenesisDocument) error {
	return reindexChain(config, document)
}

// reindexFlushInterval is how many replayed blocks share one batched write.
const reindexFlushInterval = 1000

// reindexChain rebuilds every index bucket from the raw block store. The
// previous main chain's block ids are collected first, the stale indexes
// dropped, genesis state rewritten, and the blocks replayed in number
// order. Writes are batched and flushed every reindexFlushInterval blocks.
// The version property is held at zero until the replay has finished, so a
// crash mid-reindex leaves an older version behind and the next open starts
// over.
func reindexChain(config *Config, document *GenesisDocument) error {
	defer logger.LogAndMeasureExecutionTime(log, "reindexChain")()
	db := config.Database

	blockIDs, err := collectMainChainIDs(db)
	if err != nil {
		return err
	}
	log.Infof("Rebuilding the chain index for %d blocks", len(blockIDs))

	err = clearIndexBuckets(db)
	if err != nil {
		return err
	}
	err = initializeGenesisState(db, config.Params, document)
	if err != nil {
		return err
	}
	err = storePropertyUint64(db, record.PropertyDatabaseVersion, 0)
	if err != nil {
		return err
	}

	err = db.SetWriteThrough(false)
	if err != nil {
		return err
	}

	chain := &Blockchain{
		db:            db,
		params:        config.Params,
		evaluator:     config.Evaluator,
		markets:       config.Markets,
		trackStats:    config.TrackStats,
		now:           config.TimeSource,
		notifications: make(chan notification, notificationQueueSize),
		notifierDone:  make(chan struct{}),
	}
	if chain.now == nil {
		chain.now = time.Now
	}
	err = chain.loadHead()
	if err != nil {
		return err
	}

	for i, blockID := range blockIDs {
		err = chain.replayBlock(blockID)
		if err != nil {
			return errors.Wrapf(err, "replaying block %s at number %d",
				blockID, i+1)
		}
		if (i+1)%reindexFlushInterval == 0 {
			err = db.Flush()
			if err != nil {
				return err
			}
			log.Infof("Rebuilt the index of %d out of %d blocks",
				i+1, len(blockIDs))
		}
	}

	err = db.SetWriteThrough(true)
	if err != nil {
		return err
	}
	err = storePropertyUint64(db, record.PropertyDatabaseVersion,
		uint64(config.Params.DatabaseVersion))
	if err != nil {
		return err
	}
	log.Infof("Finished rebuilding the chain index at number %d", chain.headNum)
	return nil
}

// replayBlock re-derives one block's index entries and applies it on top
// of the head. The raw body is already stored, so only the derived record,
// the number index and the fork node are written before the block is
// applied.
func (chain *Blockchain) replayBlock(blockID hashes.Ripemd160) error {
	block, err := fetchRawBlock(chain.db, blockID)
	if err != nil {
		return err
	}
	err = storeBlockRecord(chain.db, record.NewBlockRecord(block, chain.now()))
	if err != nil {
		return err
	}
	err = addBlockNumIndexEntry(chain.db, block.Header.BlockNum, blockID)
	if err != nil {
		return err
	}
	_, err = indexNewBlock(chain.db, block, true)
	if err != nil {
		return err
	}
	return chain.extendChain(block)
}

// collectMainChainIDs returns the ids of the included chain in number
// order, genesis's successor first.
func collectMainChainIDs(dbContext database.DataAccessor) ([]hashes.Ripemd160, error) {
	cursor, err := dbContext.Cursor(mainChainIndexBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var blockIDs []hashes.Ripemd160
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		blockID, err := hashes.NewRipemd160(serialized)
		if err != nil {
			return nil, err
		}
		blockIDs = append(blockIDs, *blockID)
	}
	return blockIDs, nil
}

// indexBuckets lists every bucket a reindex rebuilds. The raw block store
// and the old main chain index stay; the latter is overwritten entry by
// entry as the replay re-includes each block.
var indexBuckets = []*database.Bucket{
	blockRecordsBucket, blockNumIndexBucket, forkNodesBucket, undoBucket,
	accountsBucket, accountNameBucket, accountAddressBucket,
	assetsBucket, assetSymbolBucket, balancesBucket, emptyBalancesBucket,
	ordersBucket, collateralBucket, expirationBucket, feedsBucket,
	slatesBucket, slotsBucket, voteIndexBucket, propertiesBucket,
	transactionsBucket, uniqueTrxBucket, pendingTrxBucket,
	futureBlocksBucket,
}

func clearIndexBuckets(dbContext database.DataAccessor) error {
	for _, bucket := range indexBuckets {
		err := clearBucket(dbContext, bucket)
		if err != nil {
			return err
		}
	}
	return nil
}

func clearBucket(dbContext database.DataAccessor, bucket *database.Bucket) error {
	cursor, err := dbContext.Cursor(bucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	var keys []*database.Key
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	for _, key := range keys {
		err = dbContext.Delete(key)
		if err != nil {
			return err
		}
	}
	return nil
}
