package blockchain

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/domain/state"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// TransactionEvaluation is what an evaluator reports about a transaction it
// accepted.
type TransactionEvaluation struct {
	// Fees is the net fee paid in the base asset.
	Fees int64

	// AltFeesPaid is the base-asset value of fees paid in other assets.
	AltFeesPaid int64
}

// TotalFees returns the transaction's fee in base-asset terms.
func (te *TransactionEvaluation) TotalFees() int64 {
	return te.Fees + te.AltFeesPaid
}

// TransactionEvaluator applies the per-operation rules of a transaction
// against a chain state. All writes go through dbContext so the caller can
// roll the attempt back.
type TransactionEvaluator interface {
	Evaluate(dbContext database.DataAccessor, transaction *record.SignedTransaction,
		chainTime time.Time, location record.TransactionLocation) (*TransactionEvaluation, error)
}

// MarketEngine matches the order books at a block timestamp. All writes go
// through dbContext.
type MarketEngine interface {
	Execute(dbContext database.DataAccessor, timestamp time.Time) error
}

// PendingPool is the mempool surface the chain drives after each committed
// or popped block.
type PendingPool interface {
	// RemoveConfirmed drops the given ids from the pool.
	RemoveConfirmed(transactionIDs []hashes.Ripemd160)

	// ScheduleRevalidation asks the pool to re-evaluate its contents
	// against the new committed state, asynchronously.
	ScheduleRevalidation()

	// TransactionsByFee returns the pool's contents ordered by fee,
	// highest first.
	TransactionsByFee() []*record.SignedTransaction
}

// BlockSummary is what observers receive for each committed block.
type BlockSummary struct {
	Block       *record.Block
	BlockRecord *record.BlockRecord
}

// Observer receives chain notifications. Callbacks run on a dedicated
// notification goroutine, in enqueue order, outside the chain's locks.
type Observer interface {
	// BlockApplied fires after a recent block is committed.
	BlockApplied(summary *BlockSummary)

	// StateChanged fires after a block is popped, with the undo state
	// that was applied.
	StateChanged(undo *state.UndoState)
}

type notification struct {
	summary *BlockSummary
	undo    *state.UndoState
}

// Blockchain is the chain engine. It owns the database, selects and commits
// the longest valid chain, and keeps the fork tree, the undo log and the
// world-state indexes consistent.
//
// PushBlock is serialized by an internal mutex. Readers go through the
// read methods and always observe the last committed state.
type Blockchain struct {
	db        database.Database
	params    *chainparams.Params
	evaluator TransactionEvaluator
	markets   MarketEngine
	pool      PendingPool

	// now is the wall clock, replaceable by tests.
	now func() time.Time

	// trackStats enables per-slot production records.
	trackStats bool

	chainID hashes.Sha256

	pushLock  sync.Mutex
	stateLock sync.RWMutex

	// Head of the included chain, mirrored from the property store.
	headID        hashes.Ripemd160
	headNum       uint32
	headTimestamp time.Time

	observerLock  sync.Mutex
	observers     []Observer
	notifications chan notification
	notifierDone  chan struct{}
	closeOnce     sync.Once
}

// Config carries the collaborators a Blockchain is assembled from.
type Config struct {
	Database   database.Database
	Params     *chainparams.Params
	Evaluator  TransactionEvaluator
	Markets    MarketEngine
	TrackStats bool

	// TimeSource overrides the wall clock. Nil means time.Now.
	TimeSource func() time.Time
}

const notificationQueueSize = 256

// New assembles a Blockchain over an open database. The database must have
// been initialized by Genesis or hold a previously initialized chain; New
// verifies the on-disk version, loads the head, resets the validity of
// blocks noted as future so they are retried, and starts the notification
// dispatcher.
func New(config *Config) (*Blockchain, error) {
	chain := &Blockchain{
		db:            config.Database,
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

	err := chain.checkDatabaseVersion()
	if err != nil {
		return nil, err
	}
	err = chain.loadHead()
	if err != nil {
		return nil, err
	}
	err = chain.resetFutureBlockValidity()
	if err != nil {
		return nil, err
	}

	go chain.notificationDispatcher()
	return chain, nil
}

func (chain *Blockchain) checkDatabaseVersion() error {
	version, err := fetchPropertyUint64(chain.db, record.PropertyDatabaseVersion)
	if database.IsNotFoundError(err) {
		return errors.Wrap(chainerrors.ErrUnknownBlock, "database holds no chain")
	}
	if err != nil {
		return err
	}
	if uint32(version) > chain.params.DatabaseVersion {
		return errors.Wrapf(chainerrors.ErrNewDatabaseVersion,
			"database version %d is newer than this software's %d",
			version, chain.params.DatabaseVersion)
	}

	serialized, err := fetchProperty(chain.db, record.PropertyChainID)
	if err != nil {
		return err
	}
	chain.chainID, err = record.UnpackPropertySha256(serialized)
	return err
}

func (chain *Blockchain) loadHead() error {
	serialized, err := fetchProperty(chain.db, record.PropertyHeadBlockID)
	if err != nil {
		return err
	}
	chain.headID, err = record.UnpackPropertyRipemd160(serialized)
	if err != nil {
		return err
	}
	headNum, err := fetchPropertyUint64(chain.db, record.PropertyHeadBlockNum)
	if err != nil {
		return err
	}
	chain.headNum = uint32(headNum)

	if chain.headNum == 0 {
		genesisTime, err := fetchPropertyUint64(chain.db, record.PropertyGenesisTimestamp)
		if err != nil {
			return err
		}
		chain.headTimestamp = time.Unix(int64(genesisTime), 0)
		return nil
	}
	headRecord, err := fetchBlockRecord(chain.db, chain.headID)
	if err != nil {
		return err
	}
	chain.headTimestamp = headRecord.Header.Timestamp
	return nil
}

// resetFutureBlockValidity marks every block in the revalidation table
// unchecked so the sibling loop gives it a fresh try. A block that was
// already applied successfully keeps its validity.
func (chain *Blockchain) resetFutureBlockValidity() error {
	dueBlockIDs, err := collectFutureBlocks(chain.db, maxTimestamp)
	if err != nil {
		return err
	}
	for _, blockID := range dueBlockIDs {
		node, err := fetchForkData(chain.db, blockID)
		if database.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return err
		}
		if node.Validity == validityValid {
			continue
		}
		node.Validity = validityUnknown
		node.InvalidReason = ""
		err = storeForkData(chain.db, node)
		if err != nil {
			return err
		}
	}
	return nil
}

var maxTimestamp = time.Unix(1<<62, 0)

// SetPendingPool wires the mempool the chain clears and revalidates after
// each block.
func (chain *Blockchain) SetPendingPool(pool PendingPool) {
	chain.pool = pool
}

// Subscribe registers an observer for chain notifications.
func (chain *Blockchain) Subscribe(observer Observer) {
	chain.observerLock.Lock()
	defer chain.observerLock.Unlock()
	chain.observers = append(chain.observers, observer)
}

func (chain *Blockchain) notificationDispatcher() {
	for n := range chain.notifications {
		chain.observerLock.Lock()
		observers := make([]Observer, len(chain.observers))
		copy(observers, chain.observers)
		chain.observerLock.Unlock()

		for _, observer := range observers {
			if n.summary != nil {
				observer.BlockApplied(n.summary)
			} else {
				observer.StateChanged(n.undo)
			}
		}
	}
	close(chain.notifierDone)
}

func (chain *Blockchain) enqueueNotification(n notification) {
	select {
	case chain.notifications <- n:
	default:
		log.Warnf("Notification queue is full, dropping a notification")
	}
}

// Close stops the notification dispatcher. The database stays open; its
// lifetime belongs to the caller. Close is safe to call more than once.
func (chain *Blockchain) Close() {
	chain.closeOnce.Do(func() {
		close(chain.notifications)
		<-chain.notifierDone
	})
}

// ChainID returns the chain's identity digest.
func (chain *Blockchain) ChainID() hashes.Sha256 {
	return chain.chainID
}

// Head returns the id, number and timestamp of the current chain head.
func (chain *Blockchain) Head() (hashes.Ripemd160, uint32, time.Time) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return chain.headID, chain.headNum, chain.headTimestamp
}

func (chain *Blockchain) setHead(blockID hashes.Ripemd160, blockNum uint32,
	timestamp time.Time) error {

	err := chain.db.Put(propertiesBucket.Key(propertyKey(record.PropertyHeadBlockID)),
		record.PackPropertyRipemd160(blockID))
	if err != nil {
		return err
	}
	err = storePropertyUint64(chain.db, record.PropertyHeadBlockNum, uint64(blockNum))
	if err != nil {
		return err
	}
	chain.headID = blockID
	chain.headNum = blockNum
	chain.headTimestamp = timestamp
	return nil
}

// GetBlock returns the block body stored under blockID.
func (chain *Blockchain) GetBlock(blockID hashes.Ripemd160) (*record.Block, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	block, err := fetchRawBlock(chain.db, blockID)
	if database.IsNotFoundError(err) {
		return nil, errors.Wrapf(chainerrors.ErrUnknownBlock, "no block %s", blockID)
	}
	return block, err
}

// GetBlockByNumber returns the included block at blockNum.
func (chain *Blockchain) GetBlockByNumber(blockNum uint32) (*record.Block, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	blockID, err := fetchMainChainBlockID(chain.db, blockNum)
	if database.IsNotFoundError(err) {
		return nil, errors.Wrapf(chainerrors.ErrUnknownBlock,
			"no included block at number %d", blockNum)
	}
	if err != nil {
		return nil, err
	}
	return fetchRawBlock(chain.db, blockID)
}

// GetBlockRecord returns the indexed record for blockID.
func (chain *Blockchain) GetBlockRecord(blockID hashes.Ripemd160) (*record.BlockRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	blockRecord, err := fetchBlockRecord(chain.db, blockID)
	if database.IsNotFoundError(err) {
		return nil, errors.Wrapf(chainerrors.ErrUnknownBlock, "no block %s", blockID)
	}
	return blockRecord, err
}

// GetTransaction returns a confirmed transaction by id.
func (chain *Blockchain) GetTransaction(transactionID hashes.Ripemd160) (*record.TransactionRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	transactionRecord, err := fetchTransactionRecord(chain.db, transactionID)
	if database.IsNotFoundError(err) {
		return nil, errors.Wrapf(chainerrors.ErrUnknownTransaction,
			"no transaction %s", transactionID)
	}
	return transactionRecord, err
}

// GetAccount returns an account record by id.
func (chain *Blockchain) GetAccount(accountID record.AccountID) (*record.AccountRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return fetchAccountRecord(chain.db, accountID)
}

// GetAccountByName returns an account record by its registered name.
func (chain *Blockchain) GetAccountByName(name string) (*record.AccountRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	accountID, err := fetchAccountIDByName(chain.db, name)
	if err != nil {
		return nil, err
	}
	return fetchAccountRecord(chain.db, accountID)
}

// GetAsset returns an asset record by id.
func (chain *Blockchain) GetAsset(assetID record.AssetID) (*record.AssetRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return fetchAssetRecord(chain.db, assetID)
}

// GetBalance returns a balance record by its condition address.
func (chain *Blockchain) GetBalance(balanceID hashes.Ripemd160) (*record.BalanceRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return fetchBalanceRecord(chain.db, balanceID)
}

// GetSlotRecord returns the production record of the slot at timestamp.
func (chain *Blockchain) GetSlotRecord(timestamp time.Time) (*record.SlotRecord, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return fetchSlotRecord(chain.db, timestamp)
}

// GetForksList returns every block number that carries more than one known
// block, with the competing ids.
func (chain *Blockchain) GetForksList() ([]ForkBranch, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return forksList(chain.db)
}

// IsKnownBlock reports whether the chain has the block's body.
func (chain *Blockchain) IsKnownBlock(blockID hashes.Ripemd160) (bool, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return hasRawBlock(chain.db, blockID)
}

// IsIncludedBlock reports whether the block lies on the current main chain.
func (chain *Blockchain) IsIncludedBlock(blockID hashes.Ripemd160) (bool, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	node, err := fetchForkData(chain.db, blockID)
	if database.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return node.IsIncluded, nil
}

// Database exposes the committed store for read-only collaborators such as
// the mempool's evaluation overlays.
func (chain *Blockchain) Database() database.Database {
	return chain.db
}
