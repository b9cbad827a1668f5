package mempool

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/blockchain"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/domain/state"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// pendingTrxBucket mirrors the chain's index layout so a reindex clears
// the persisted pool along with the other derived tables.
var pendingTrxBucket = database.MakeBucket([]byte("pending-transactions"))

// Config carries the collaborators a Pool is assembled from.
type Config struct {
	Chain     *blockchain.Blockchain
	Evaluator blockchain.TransactionEvaluator
	Params    *chainparams.Params

	// RelayFee is the base relay fee in base-asset subunits.
	RelayFee int64

	// TimeSource overrides the wall clock. Nil means time.Now.
	TimeSource func() time.Time
}

// poolEntry pairs a pending transaction with the evaluation that admitted
// it. Fees is the base-asset total used for fee ordering.
type poolEntry struct {
	id          hashes.Ripemd160
	transaction *record.SignedTransaction
	evaluation  *blockchain.TransactionEvaluation
	fees        int64
}

// Pool is the fee-ordered set of transactions waiting for a block. Each
// admitted transaction is evaluated against a running overlay over the
// committed state, so the pool's contents are mutually consistent. The
// pool is persisted in the chain database and reloaded on startup.
type Pool struct {
	chain     *blockchain.Blockchain
	evaluator blockchain.TransactionEvaluator
	params    *chainparams.Params
	relayFee  int64
	now       func() time.Time

	mtx     sync.RWMutex
	entries map[hashes.Ripemd160]*poolEntry
	byFee   []*poolEntry

	// overlay accumulates the effects of every admitted transaction on
	// top of the committed state. Replaced wholesale on revalidation.
	overlay *state.PendingState

	revalidations chan struct{}
	quit          chan struct{}
	done          chan struct{}
	shutdownOnce  sync.Once
}

// New assembles a Pool and reloads the persisted pending transactions,
// discarding any that no longer evaluate against the current committed
// state. The caller wires the pool to the chain with SetPendingPool.
func New(config *Config) (*Pool, error) {
	pool := &Pool{
		chain:         config.Chain,
		evaluator:     config.Evaluator,
		params:        config.Params,
		relayFee:      config.RelayFee,
		now:           config.TimeSource,
		entries:       make(map[hashes.Ripemd160]*poolEntry),
		revalidations: make(chan struct{}, 1),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if pool.now == nil {
		pool.now = time.Now
	}
	if pool.relayFee == 0 {
		pool.relayFee = config.Params.DefaultRelayFee
	}

	pool.mtx.Lock()
	err := pool.rebuildFeeIndex()
	pool.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	go pool.revalidationLoop()
	return pool, nil
}

// Shutdown stops the revalidation worker. Persisted transactions stay on
// disk for the next start. Shutdown is safe to call more than once.
func (pool *Pool) Shutdown() {
	pool.shutdownOnce.Do(func() {
		close(pool.quit)
		<-pool.done
	})
}

func (pool *Pool) revalidationLoop() {
	defer close(pool.done)
	for {
		select {
		case <-pool.revalidations:
			pool.mtx.Lock()
			err := pool.rebuildFeeIndex()
			pool.mtx.Unlock()
			if err != nil {
				log.Errorf("Pending pool revalidation failed: %s", err)
			}
		case <-pool.quit:
			return
		}
	}
}

// chainTime is the timestamp pending transactions are evaluated at: the
// slot following the current head.
func (pool *Pool) chainTime() time.Time {
	_, _, headTimestamp := pool.chain.Head()
	return headTimestamp.Add(pool.params.BlockInterval)
}

// requiredRelayFee returns the fee a non-override insert must pay given
// the pool's current size. Past the queue limit the requirement grows
// with the square of the overage.
func (pool *Pool) requiredRelayFee() int64 {
	overage := len(pool.byFee) - pool.params.MaxPendingQueueSize
	if overage <= 0 {
		return pool.relayFee
	}
	return pool.relayFee * int64(overage) * int64(overage)
}

// StorePendingTransaction admits a transaction to the pool. A duplicate
// id is silently ignored and returns a nil evaluation. overrideLimits
// exempts locally produced transactions from the size-pressure relay fee.
// The returned evaluation describes the fees the transaction pays.
func (pool *Pool) StorePendingTransaction(transaction *record.SignedTransaction,
	overrideLimits bool) (*blockchain.TransactionEvaluation, error) {

	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	transactionID := transaction.Transaction.ID()
	if _, ok := pool.entries[transactionID]; ok {
		return nil, nil
	}
	if overrideLimits {
		log.Infof("Storing local transaction %s", transactionID)
	}

	requiredFee := pool.relayFee
	if !overrideLimits {
		requiredFee = pool.requiredRelayFee()
	}

	entry, err := pool.admit(transactionID, transaction, requiredFee)
	if err != nil {
		return nil, err
	}

	err = storePendingTransaction(pool.chain.Database(), transactionID, transaction)
	if err != nil {
		return nil, err
	}
	return entry.evaluation, nil
}

// admit evaluates the transaction on a throwaway layer over the running
// overlay and, when it passes the rules and the fee floor, folds its
// effects in and indexes it.
func (pool *Pool) admit(transactionID hashes.Ripemd160,
	transaction *record.SignedTransaction, requiredFee int64) (*poolEntry, error) {

	digest := transaction.Transaction.Digest(pool.chain.ChainID())
	alreadySeen, err := hasUniqueTransaction(pool.chain.Database(), digest)
	if err != nil {
		return nil, err
	}
	if alreadySeen {
		return nil, errors.Wrapf(chainerrors.ErrDuplicateTransaction,
			"transaction %s was confirmed before", transactionID)
	}

	if pool.overlay == nil {
		pool.overlay = state.NewPendingState(pool.chain.Database())
	}
	trxOverlay := state.NewPendingState(pool.overlay)
	evaluation, err := pool.evaluator.Evaluate(trxOverlay, transaction,
		pool.chainTime(), record.TransactionLocation{})
	if err != nil {
		return nil, err
	}
	fees := evaluation.TotalFees()
	if fees < requiredFee {
		return nil, errors.Wrapf(chainerrors.ErrInsufficientRelayFee,
			"transaction %s pays %d, the effective relay fee is %d",
			transactionID, fees, requiredFee)
	}
	err = trxOverlay.Commit()
	if err != nil {
		return nil, err
	}

	entry := &poolEntry{
		id:          transactionID,
		transaction: transaction,
		evaluation:  evaluation,
		fees:        fees,
	}
	pool.entries[transactionID] = entry
	pool.insertByFee(entry)
	return entry, nil
}

// insertByFee places the entry at its position in the fee index: fee
// descending, id ascending as the tie breaker.
func (pool *Pool) insertByFee(entry *poolEntry) {
	at := sort.Search(len(pool.byFee), func(i int) bool {
		other := pool.byFee[i]
		if other.fees != entry.fees {
			return other.fees < entry.fees
		}
		return bytes.Compare(other.id[:], entry.id[:]) > 0
	})
	pool.byFee = append(pool.byFee, nil)
	copy(pool.byFee[at+1:], pool.byFee[at:])
	pool.byFee[at] = entry
}

// rebuildFeeIndex re-evaluates every persisted pending transaction
// against a fresh overlay over the committed state. Transactions that no
// longer pass are removed from disk. Callers hold the write lock.
func (pool *Pool) rebuildFeeIndex() error {
	dbContext := pool.chain.Database()

	pool.entries = make(map[hashes.Ripemd160]*poolEntry)
	pool.byFee = nil
	pool.overlay = state.NewPendingState(dbContext)

	var discard []hashes.Ripemd160
	err := forEachPendingTransaction(dbContext,
		func(transactionID hashes.Ripemd160, transaction *record.SignedTransaction) error {
			_, err := pool.admit(transactionID, transaction, pool.relayFee)
			if err != nil {
				log.Debugf("Discarding pending transaction %s: %s", transactionID, err)
				discard = append(discard, transactionID)
			}
			return nil
		})
	if err != nil {
		return err
	}

	for _, transactionID := range discard {
		err = removePendingTransaction(dbContext, transactionID)
		if err != nil {
			return err
		}
	}
	if len(pool.byFee) > 0 || len(discard) > 0 {
		log.Debugf("Revalidated the pending pool: %d kept, %d discarded",
			len(pool.byFee), len(discard))
	}
	return nil
}

// RemoveConfirmed drops the given ids from the pool and its persisted
// copy. Ids the pool does not hold are ignored.
func (pool *Pool) RemoveConfirmed(transactionIDs []hashes.Ripemd160) {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	removed := false
	for _, transactionID := range transactionIDs {
		if _, ok := pool.entries[transactionID]; !ok {
			continue
		}
		delete(pool.entries, transactionID)
		removed = true
		err := removePendingTransaction(pool.chain.Database(), transactionID)
		if err != nil {
			log.Errorf("Cannot remove pending transaction %s: %s",
				transactionID, err)
		}
	}
	if !removed {
		return
	}
	kept := pool.byFee[:0]
	for _, entry := range pool.byFee {
		if _, ok := pool.entries[entry.id]; ok {
			kept = append(kept, entry)
		}
	}
	pool.byFee = kept
}

// ScheduleRevalidation queues an asynchronous rebuild of the fee index
// against the current committed state. Multiple requests coalesce.
func (pool *Pool) ScheduleRevalidation() {
	select {
	case pool.revalidations <- struct{}{}:
	default:
	}
}

// TransactionsByFee returns the pool's transactions ordered by fee,
// highest first.
func (pool *Pool) TransactionsByFee() []*record.SignedTransaction {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()

	transactions := make([]*record.SignedTransaction, len(pool.byFee))
	for i, entry := range pool.byFee {
		transactions[i] = entry.transaction
	}
	return transactions
}

// GetTransaction returns a pending transaction by id.
func (pool *Pool) GetTransaction(transactionID hashes.Ripemd160) (*record.SignedTransaction, error) {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()

	entry, ok := pool.entries[transactionID]
	if !ok {
		return nil, errors.Wrapf(chainerrors.ErrUnknownTransaction,
			"no pending transaction %s", transactionID)
	}
	return entry.transaction, nil
}

// Count returns how many transactions the pool holds.
func (pool *Pool) Count() int {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()
	return len(pool.entries)
}
