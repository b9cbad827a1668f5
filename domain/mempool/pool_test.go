package mempool

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/blockchain"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/infrastructure/db/database/ldb"
	"github.com/xtsnet/xtsd/util/address"
	"github.com/xtsnet/xtsd/util/hashes"
)

const testGenesisTime = 1000000000

// scriptedEvaluation is the outcome one transaction is scripted to have.
// Unscripted transactions pass with a default fee of 1000.
type scriptedEvaluation struct {
	fees int64
	err  error
}

type scriptedEvaluator struct {
	mtx     sync.Mutex
	scripts map[hashes.Ripemd160]scriptedEvaluation
}

func newScriptedEvaluator() *scriptedEvaluator {
	return &scriptedEvaluator{scripts: make(map[hashes.Ripemd160]scriptedEvaluation)}
}

func (e *scriptedEvaluator) script(transactionID hashes.Ripemd160,
	evaluation scriptedEvaluation) {

	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.scripts[transactionID] = evaluation
}

func (e *scriptedEvaluator) Evaluate(dbContext database.DataAccessor,
	transaction *record.SignedTransaction, chainTime time.Time,
	location record.TransactionLocation) (*blockchain.TransactionEvaluation, error) {

	e.mtx.Lock()
	defer e.mtx.Unlock()
	evaluation, ok := e.scripts[transaction.ID()]
	if !ok {
		return &blockchain.TransactionEvaluation{Fees: 1000}, nil
	}
	if evaluation.err != nil {
		return nil, evaluation.err
	}
	return &blockchain.TransactionEvaluation{Fees: evaluation.fees}, nil
}

type poolHarness struct {
	t         *testing.T
	chain     *blockchain.Blockchain
	pool      *Pool
	params    *chainparams.Params
	evaluator *scriptedEvaluator
}

func newPoolHarness(t *testing.T) *poolHarness {
	params := chainparams.SimNetParams
	evaluator := newScriptedEvaluator()
	now := func() time.Time { return time.Unix(testGenesisTime, 0) }

	db, err := ldb.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelDB: %s", err)
	}
	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Errorf("closing the database: %s", err)
		}
	})

	document := &blockchain.GenesisDocument{
		Timestamp:  testGenesisTime,
		BaseSymbol: "XTS",
		BaseName:   "test shares",
	}
	var holder *btcec.PublicKey
	for i := 0; i < int(params.NumDelegates); i++ {
		seed := make([]byte, 32)
		seed[31] = byte(i + 1)
		privKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), seed)
		if holder == nil {
			holder = privKey.PubKey()
		}
		document.Delegates = append(document.Delegates, blockchain.GenesisDelegate{
			Name:     "delegate-" + string(rune('a'+i)),
			OwnerKey: hex.EncodeToString(privKey.PubKey().SerializeCompressed()),
		})
	}
	holderAddress := address.FromPublicKey(holder.SerializeCompressed(),
		params.AddressPrefix)
	document.Balances = append(document.Balances, blockchain.GenesisBalance{
		RawAddress: holderAddress.Encode(),
		Balance:    1000000,
	})

	chain, err := blockchain.Open(&blockchain.Config{
		Database:   db,
		Params:     &params,
		Evaluator:  evaluator,
		TimeSource: now,
	}, document)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(chain.Close)

	pool, err := New(&Config{
		Chain:      chain,
		Evaluator:  evaluator,
		Params:     &params,
		TimeSource: now,
	})
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	t.Cleanup(pool.Shutdown)
	chain.SetPendingPool(pool)

	return &poolHarness{
		t:         t,
		chain:     chain,
		pool:      pool,
		params:    &params,
		evaluator: evaluator,
	}
}

func makePendingTransaction(tag uint16) *record.SignedTransaction {
	return &record.SignedTransaction{
		Transaction: record.Transaction{
			Expiration: time.Unix(testGenesisTime, 0).Add(time.Hour),
			Operations: []record.Operation{{
				Type: 1,
				Data: []byte{byte(tag), byte(tag >> 8)},
			}},
		},
	}
}

func TestStorePendingTransactionIsIdempotent(t *testing.T) {
	harness := newPoolHarness(t)

	transaction := makePendingTransaction(1)
	evaluation, err := harness.pool.StorePendingTransaction(transaction, false)
	if err != nil {
		t.Fatalf("StorePendingTransaction: %s", err)
	}
	if evaluation == nil || evaluation.Fees != 1000 {
		t.Fatalf("first insert's evaluation is %+v, want fees 1000", evaluation)
	}

	evaluation, err = harness.pool.StorePendingTransaction(transaction, false)
	if err != nil {
		t.Fatalf("StorePendingTransaction(duplicate): %s", err)
	}
	if evaluation != nil {
		t.Fatalf("a duplicate insert returned %+v, want nil", evaluation)
	}
	if harness.pool.Count() != 1 {
		t.Fatalf("the pool holds %d transactions, want 1", harness.pool.Count())
	}
}

func TestTransactionsByFeeOrdersHighestFirst(t *testing.T) {
	harness := newPoolHarness(t)

	low := makePendingTransaction(1)
	high := makePendingTransaction(2)
	middle := makePendingTransaction(3)
	harness.evaluator.script(low.ID(), scriptedEvaluation{fees: 200})
	harness.evaluator.script(high.ID(), scriptedEvaluation{fees: 5000})
	harness.evaluator.script(middle.ID(), scriptedEvaluation{fees: 900})

	for _, transaction := range []*record.SignedTransaction{low, high, middle} {
		_, err := harness.pool.StorePendingTransaction(transaction, false)
		if err != nil {
			t.Fatalf("StorePendingTransaction: %s", err)
		}
	}

	ordered := harness.pool.TransactionsByFee()
	if len(ordered) != 3 {
		t.Fatalf("the fee index holds %d transactions, want 3", len(ordered))
	}
	want := []hashes.Ripemd160{high.ID(), middle.ID(), low.ID()}
	for i, transaction := range ordered {
		if transaction.ID() != want[i] {
			t.Fatalf("position %d holds %s, want %s", i, transaction.ID(), want[i])
		}
	}
}

func TestRelayFeeEscalatesPastQueueLimit(t *testing.T) {
	harness := newPoolHarness(t)

	// Two entries past the limit the effective fee is four times the base.
	fill := harness.params.MaxPendingQueueSize + 2
	for i := 0; i < fill; i++ {
		transaction := makePendingTransaction(uint16(i + 100))
		harness.evaluator.script(transaction.ID(),
			scriptedEvaluation{fees: harness.params.DefaultRelayFee})
		_, err := harness.pool.StorePendingTransaction(transaction, false)
		if err != nil {
			t.Fatalf("StorePendingTransaction(%d): %s", i, err)
		}
	}

	cheap := makePendingTransaction(1)
	harness.evaluator.script(cheap.ID(),
		scriptedEvaluation{fees: harness.params.DefaultRelayFee})
	_, err := harness.pool.StorePendingTransaction(cheap, false)
	if !errors.Is(err, chainerrors.ErrInsufficientRelayFee) {
		t.Fatalf("a base fee transaction got %v, want ErrInsufficientRelayFee", err)
	}

	rich := makePendingTransaction(2)
	harness.evaluator.script(rich.ID(),
		scriptedEvaluation{fees: 4 * harness.params.DefaultRelayFee})
	_, err = harness.pool.StorePendingTransaction(rich, false)
	if err != nil {
		t.Fatalf("a quadrupled fee transaction got %v, want acceptance", err)
	}

	// Local transactions bypass the escalation.
	local := makePendingTransaction(3)
	harness.evaluator.script(local.ID(),
		scriptedEvaluation{fees: harness.params.DefaultRelayFee})
	_, err = harness.pool.StorePendingTransaction(local, true)
	if err != nil {
		t.Fatalf("a local transaction got %v, want acceptance", err)
	}
}

func TestRevalidationDropsFailingTransactions(t *testing.T) {
	harness := newPoolHarness(t)

	keeper := makePendingTransaction(1)
	goner := makePendingTransaction(2)
	for _, transaction := range []*record.SignedTransaction{keeper, goner} {
		_, err := harness.pool.StorePendingTransaction(transaction, false)
		if err != nil {
			t.Fatalf("StorePendingTransaction: %s", err)
		}
	}

	// The state moved under the pool and one transaction no longer passes.
	harness.evaluator.script(goner.ID(), scriptedEvaluation{
		err: errors.New("no longer valid"),
	})
	harness.pool.mtx.Lock()
	err := harness.pool.rebuildFeeIndex()
	harness.pool.mtx.Unlock()
	if err != nil {
		t.Fatalf("rebuildFeeIndex: %s", err)
	}

	if harness.pool.Count() != 1 {
		t.Fatalf("the pool holds %d transactions after revalidation, want 1",
			harness.pool.Count())
	}
	_, err = harness.pool.GetTransaction(goner.ID())
	if !errors.Is(err, chainerrors.ErrUnknownTransaction) {
		t.Fatalf("the dropped transaction got %v, want ErrUnknownTransaction", err)
	}
	_, err = harness.pool.GetTransaction(keeper.ID())
	if err != nil {
		t.Fatalf("GetTransaction(keeper): %s", err)
	}

	// The discard is durable: a fresh pool does not resurrect it.
	harness.pool.Shutdown()
	reopened, err := New(&Config{
		Chain:     harness.chain,
		Evaluator: harness.evaluator,
		Params:    harness.params,
	})
	if err != nil {
		t.Fatalf("New after restart: %s", err)
	}
	defer reopened.Shutdown()
	if reopened.Count() != 1 {
		t.Fatalf("the reopened pool holds %d transactions, want 1", reopened.Count())
	}
}

func TestPoolSurvivesRestart(t *testing.T) {
	harness := newPoolHarness(t)

	first := makePendingTransaction(1)
	second := makePendingTransaction(2)
	harness.evaluator.script(first.ID(), scriptedEvaluation{fees: 2000})
	for _, transaction := range []*record.SignedTransaction{first, second} {
		_, err := harness.pool.StorePendingTransaction(transaction, false)
		if err != nil {
			t.Fatalf("StorePendingTransaction: %s", err)
		}
	}
	harness.pool.Shutdown()

	reopened, err := New(&Config{
		Chain:     harness.chain,
		Evaluator: harness.evaluator,
		Params:    harness.params,
	})
	if err != nil {
		t.Fatalf("New after restart: %s", err)
	}
	defer reopened.Shutdown()

	if reopened.Count() != 2 {
		t.Fatalf("the reopened pool holds %d transactions, want 2", reopened.Count())
	}
	ordered := reopened.TransactionsByFee()
	if ordered[0].ID() != first.ID() {
		t.Fatalf("the reopened fee index leads with %s, want %s",
			ordered[0].ID(), first.ID())
	}
}
