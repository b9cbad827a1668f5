package blockchain

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/util/hashes"
)

// stubPool hands GenerateBlock a fixed transaction list and records what
// the chain tells it about confirmed blocks.
type stubPool struct {
	mtx           sync.Mutex
	transactions  []*record.SignedTransaction
	removed       []hashes.Ripemd160
	revalidations int
}

func (p *stubPool) TransactionsByFee() []*record.SignedTransaction {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.transactions
}

func (p *stubPool) RemoveConfirmed(transactionIDs []hashes.Ripemd160) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.removed = append(p.removed, transactionIDs...)
}

func (p *stubPool) ScheduleRevalidation() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.revalidations++
}

func makeTestTransaction(tag byte) *record.SignedTransaction {
	return &record.SignedTransaction{
		Transaction: record.Transaction{
			Expiration: time.Unix(testGenesisTime, 0).Add(time.Hour),
			Operations: []record.Operation{{Type: 1, Data: []byte{tag}}},
		},
	}
}

func TestGenerateBlockIncludesPendingByFee(t *testing.T) {
	harness := newTestHarness(t)

	highFee := makeTestTransaction(1)
	failing := makeTestTransaction(2)
	lowFee := makeTestTransaction(3)
	harness.evaluator.script(highFee.ID(), testEvaluation{fees: 3000})
	harness.evaluator.script(failing.ID(), testEvaluation{
		err: errors.New("rejected by the evaluator"),
	})

	pool := &stubPool{
		transactions: []*record.SignedTransaction{highFee, failing, lowFee},
	}
	harness.chain.SetPendingPool(pool)

	block := harness.produceBlockAt(harness.nextSlot())
	if len(block.Transactions) != 2 {
		t.Fatalf("the block carries %d transactions, want 2", len(block.Transactions))
	}
	if block.Transactions[0].ID() != highFee.ID() {
		t.Errorf("transaction 0 is %s, want the high fee one %s",
			block.Transactions[0].ID(), highFee.ID())
	}
	if block.Transactions[1].ID() != lowFee.ID() {
		t.Errorf("transaction 1 is %s, want the low fee one %s",
			block.Transactions[1].ID(), lowFee.ID())
	}
	if block.Header.TransactionDigest != block.ComputeTransactionDigest() {
		t.Errorf("the header's transaction digest does not cover the included set")
	}

	err := harness.chain.PushBlock(block)
	if err != nil {
		t.Fatalf("PushBlock: %s", err)
	}

	confirmed, err := harness.chain.GetTransaction(highFee.ID())
	if err != nil {
		t.Fatalf("GetTransaction: %s", err)
	}
	if confirmed.Location.BlockNum != 1 || confirmed.Location.Index != 0 {
		t.Errorf("confirmed location is %+v, want block 1 index 0", confirmed.Location)
	}
	if confirmed.FeesPaid != 3000 {
		t.Errorf("confirmed fees are %d, want 3000", confirmed.FeesPaid)
	}

	pool.mtx.Lock()
	defer pool.mtx.Unlock()
	if len(pool.removed) != 2 {
		t.Fatalf("the pool was told to remove %d transactions, want 2", len(pool.removed))
	}
	if pool.revalidations != 1 {
		t.Errorf("the pool saw %d revalidation requests, want 1", pool.revalidations)
	}
}

func TestGenerateBlockRejectsBadSlot(t *testing.T) {
	harness := newTestHarness(t)

	slot := harness.nextSlot()
	scheduledID, err := harness.chain.delegateForSlot(harness.chain.db, slot)
	if err != nil {
		t.Fatalf("delegateForSlot: %s", err)
	}

	misaligned := slot.Add(time.Second)
	_, err = harness.chain.GenerateBlock(misaligned, scheduledID,
		hashes.Ripemd160{}, harness.newSecret())
	if !errors.Is(err, chainerrors.ErrInvalidBlockTime) {
		t.Fatalf("a misaligned slot returned %v, want ErrInvalidBlockTime", err)
	}

	wrongID := record.AccountID(int(scheduledID)%len(harness.keys) + 1)
	_, err = harness.chain.GenerateBlock(slot, wrongID,
		hashes.Ripemd160{}, harness.newSecret())
	if !errors.Is(err, chainerrors.ErrInvalidDelegateSignee) {
		t.Fatalf("the wrong delegate returned %v, want ErrInvalidDelegateSignee", err)
	}

	_, err = harness.chain.GenerateBlock(slot.Add(-harness.params.BlockInterval),
		scheduledID, hashes.Ripemd160{}, harness.newSecret())
	if !errors.Is(err, chainerrors.ErrTimeInPast) {
		t.Fatalf("a past slot returned %v, want ErrTimeInPast", err)
	}
}
