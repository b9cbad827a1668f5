package blockchain

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/infrastructure/db/database/ldb"
	"github.com/xtsnet/xtsd/util/address"
	"github.com/xtsnet/xtsd/util/hashes"
)

// testGenesisTime is aligned to the simnet block interval.
const testGenesisTime = 1000000000

// testClock is a settable wall clock.
type testClock struct {
	mtx sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = now
}

// testEvaluation scripts the outcome of one transaction.
type testEvaluation struct {
	fees        int64
	altFeesPaid int64
	err         error
}

// testEvaluator resolves transactions by id against a scripted table.
// Unscripted transactions pass with a default fee.
type testEvaluator struct {
	mtx     sync.Mutex
	scripts map[hashes.Ripemd160]testEvaluation
}

func newTestEvaluator() *testEvaluator {
	return &testEvaluator{scripts: make(map[hashes.Ripemd160]testEvaluation)}
}

func (e *testEvaluator) script(transactionID hashes.Ripemd160, evaluation testEvaluation) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.scripts[transactionID] = evaluation
}

func (e *testEvaluator) Evaluate(dbContext database.DataAccessor,
	transaction *record.SignedTransaction, chainTime time.Time,
	location record.TransactionLocation) (*TransactionEvaluation, error) {

	e.mtx.Lock()
	defer e.mtx.Unlock()
	evaluation, ok := e.scripts[transaction.ID()]
	if !ok {
		return &TransactionEvaluation{Fees: 1000}, nil
	}
	if evaluation.err != nil {
		return nil, evaluation.err
	}
	return &TransactionEvaluation{
		Fees:        evaluation.fees,
		AltFeesPaid: evaluation.altFeesPaid,
	}, nil
}

// testHarness wires a chain over a throwaway database with five delegates
// whose signing keys the test controls.
type testHarness struct {
	t         *testing.T
	chain     *Blockchain
	db        database.Database
	params    *chainparams.Params
	clock     *testClock
	evaluator *testEvaluator

	// keys[i] belongs to the delegate with account id i+1.
	keys []*btcec.PrivateKey

	// secrets holds the preimage each delegate committed to in its last
	// produced block.
	secrets map[record.AccountID]hashes.Ripemd160

	secretCounter uint64
}

func delegateKey(index int) *btcec.PrivateKey {
	seed := make([]byte, 32)
	seed[31] = byte(index + 1)
	privKey, _ := btcec.PrivKeyFromBytes(btcec.S256(), seed)
	return privKey
}

func testGenesisDocument(params *chainparams.Params, keys []*btcec.PrivateKey) *GenesisDocument {
	document := &GenesisDocument{
		Timestamp:  testGenesisTime,
		BaseSymbol: "XTS",
		BaseName:   "test shares",
	}
	for i, key := range keys {
		document.Delegates = append(document.Delegates, GenesisDelegate{
			Name:     "delegate-" + string(rune('a'+i)),
			OwnerKey: hex.EncodeToString(key.PubKey().SerializeCompressed()),
		})
	}
	// Fund the first delegate so the base asset has a nonzero supply.
	holder := address.FromPublicKey(keys[0].PubKey().SerializeCompressed(),
		params.AddressPrefix)
	document.Balances = append(document.Balances, GenesisBalance{
		RawAddress: holder.Encode(),
		Balance:    1000000,
	})
	return document
}

func newTestHarness(t *testing.T) *testHarness {
	params := chainparams.SimNetParams
	clock := &testClock{now: time.Unix(testGenesisTime, 0)}
	evaluator := newTestEvaluator()

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

	keys := make([]*btcec.PrivateKey, params.NumDelegates)
	for i := range keys {
		keys[i] = delegateKey(i)
	}

	chain, err := Open(&Config{
		Database:   db,
		Params:     &params,
		Evaluator:  evaluator,
		TrackStats: true,
		TimeSource: clock.Now,
	}, testGenesisDocument(&params, keys))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(chain.Close)

	return &testHarness{
		t:         t,
		chain:     chain,
		db:        db,
		params:    &params,
		clock:     clock,
		evaluator: evaluator,
		keys:      keys,
		secrets:   make(map[record.AccountID]hashes.Ripemd160),
	}
}

func (h *testHarness) newSecret() hashes.Ripemd160 {
	h.secretCounter++
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h.secretCounter)
	return hashes.HashRipemd160(buf[:])
}

func (h *testHarness) keyFor(delegateID record.AccountID) *btcec.PrivateKey {
	if int(delegateID) < 1 || int(delegateID) > len(h.keys) {
		h.t.Fatalf("account %d is not a test delegate", delegateID)
	}
	return h.keys[delegateID-1]
}

func signBlock(t *testing.T, block *record.Block, privKey *btcec.PrivateKey) {
	blockID := block.Header.ID()
	signature, err := btcec.SignCompact(btcec.S256(), privKey, blockID[:], true)
	if err != nil {
		t.Fatalf("SignCompact: %s", err)
	}
	copy(block.Header.Signature[:], signature)
}

// produceBlockAt assembles and signs a block for the given slot using the
// scheduled delegate's key. The clock is moved to the slot first.
func (h *testHarness) produceBlockAt(timestamp time.Time) *record.Block {
	h.clock.Set(timestamp)

	delegateID, err := h.chain.delegateForSlot(h.chain.db, timestamp)
	if err != nil {
		h.t.Fatalf("delegateForSlot: %s", err)
	}
	nextSecret := h.newSecret()
	block, err := h.chain.GenerateBlock(timestamp, delegateID,
		h.secrets[delegateID], hashes.HashRipemd160(nextSecret[:]))
	if err != nil {
		h.t.Fatalf("GenerateBlock: %s", err)
	}
	signBlock(h.t, block, h.keyFor(delegateID))

	h.secrets[delegateID] = nextSecret
	return block
}

// nextSlot returns the slot right after the current head.
func (h *testHarness) nextSlot() time.Time {
	_, _, headTimestamp := h.chain.Head()
	return headTimestamp.Add(h.params.BlockInterval)
}

// produceAndPush extends the chain by count blocks, one per slot, and
// fails the test on any rejection.
func (h *testHarness) produceAndPush(count int) []*record.Block {
	blocks := make([]*record.Block, 0, count)
	for i := 0; i < count; i++ {
		block := h.produceBlockAt(h.nextSlot())
		err := h.chain.PushBlock(block)
		if err != nil {
			h.t.Fatalf("PushBlock(%d): %s", block.Header.BlockNum, err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// headID is a shorthand for the current head's id.
func (h *testHarness) headID() hashes.Ripemd160 {
	headID, _, _ := h.chain.Head()
	return headID
}

// headNum is a shorthand for the current head's number.
func (h *testHarness) headNum() uint32 {
	_, headNum, _ := h.chain.Head()
	return headNum
}
