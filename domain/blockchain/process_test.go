package blockchain

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/util/hashes"
)

func TestOpenInitializesGenesisState(t *testing.T) {
	harness := newTestHarness(t)

	headID, headNum, headTimestamp := harness.chain.Head()
	if !headID.IsZero() {
		t.Errorf("fresh chain head id is %s, want zero", headID)
	}
	if headNum != 0 {
		t.Errorf("fresh chain head number is %d, want 0", headNum)
	}
	if headTimestamp.Unix() != testGenesisTime {
		t.Errorf("fresh chain head timestamp is %d, want %d",
			headTimestamp.Unix(), testGenesisTime)
	}

	baseAsset, err := harness.chain.GetAsset(record.BaseAssetID)
	if err != nil {
		t.Fatalf("GetAsset: %s", err)
	}
	if baseAsset.CurrentSupply != 1000000 {
		t.Errorf("base asset supply is %d, want 1000000", baseAsset.CurrentSupply)
	}

	account, err := harness.chain.GetAccountByName("delegate-a")
	if err != nil {
		t.Fatalf("GetAccountByName: %s", err)
	}
	if !account.IsDelegate() {
		t.Errorf("delegate-a is not registered as a delegate")
	}
}

func TestPushBlockExtendsHead(t *testing.T) {
	harness := newTestHarness(t)

	blocks := harness.produceAndPush(3)

	if harness.headNum() != 3 {
		t.Fatalf("head number is %d, want 3", harness.headNum())
	}
	lastID := blocks[2].Header.ID()
	if harness.headID() != lastID {
		t.Fatalf("head id is %s, want %s", harness.headID(), lastID)
	}

	for i, block := range blocks {
		stored, err := harness.chain.GetBlockByNumber(uint32(i + 1))
		if err != nil {
			t.Fatalf("GetBlockByNumber(%d): %s", i+1, err)
		}
		if stored.Header.ID() != block.Header.ID() {
			t.Errorf("block at number %d is %s, want %s",
				i+1, stored.Header.ID(), block.Header.ID())
		}
		included, err := harness.chain.IsIncludedBlock(block.Header.ID())
		if err != nil {
			t.Fatalf("IsIncludedBlock: %s", err)
		}
		if !included {
			t.Errorf("block %d is not marked included", i+1)
		}
	}
}

func TestPushBlockRejectsDuplicate(t *testing.T) {
	harness := newTestHarness(t)

	blocks := harness.produceAndPush(1)
	err := harness.chain.PushBlock(blocks[0])
	if !errors.Is(err, chainerrors.ErrDuplicateBlock) {
		t.Fatalf("pushing a duplicate returned %v, want ErrDuplicateBlock", err)
	}
}

func TestPushBlockRejectsWrongSigner(t *testing.T) {
	harness := newTestHarness(t)

	timestamp := harness.nextSlot()
	harness.clock.Set(timestamp)
	delegateID, err := harness.chain.delegateForSlot(harness.chain.db, timestamp)
	if err != nil {
		t.Fatalf("delegateForSlot: %s", err)
	}
	block, err := harness.chain.GenerateBlock(timestamp, delegateID,
		hashes.Ripemd160{}, harness.newSecret())
	if err != nil {
		t.Fatalf("GenerateBlock: %s", err)
	}
	// Sign with a key that is not the scheduled delegate's.
	wrongID := record.AccountID(int(delegateID)%len(harness.keys) + 1)
	signBlock(t, block, harness.keyFor(wrongID))

	err = harness.chain.PushBlock(block)
	if !errors.Is(err, chainerrors.ErrInvalidDelegateSignee) {
		t.Fatalf("pushing a missigned block returned %v, want ErrInvalidDelegateSignee", err)
	}
	if harness.headNum() != 0 {
		t.Fatalf("head number is %d after a rejected block, want 0", harness.headNum())
	}

	node, err := fetchForkData(harness.chain.db, block.Header.ID())
	if err != nil {
		t.Fatalf("fetchForkData: %s", err)
	}
	if !node.isInvalid() {
		t.Errorf("rejected block's fork node is not marked invalid")
	}
}

func TestPushBlockFutureTimestamp(t *testing.T) {
	harness := newTestHarness(t)

	// Produce for a slot three intervals ahead without moving the clock.
	timestamp := harness.nextSlot().Add(2 * harness.params.BlockInterval)
	delegateID, err := harness.chain.delegateForSlot(harness.chain.db, timestamp)
	if err != nil {
		t.Fatalf("delegateForSlot: %s", err)
	}
	header := record.BlockHeader{
		Previous:       harness.headID(),
		BlockNum:       1,
		Timestamp:      timestamp,
		PreviousSecret: hashes.Ripemd160{},
		NextSecretHash: harness.newSecret(),
	}
	block := &record.Block{Header: header}
	block.Header.TransactionDigest = block.ComputeTransactionDigest()
	signBlock(t, block, harness.keyFor(delegateID))

	err = harness.chain.PushBlock(block)
	if !errors.Is(err, chainerrors.ErrTimeInFuture) {
		t.Fatalf("pushing a future block returned %v, want ErrTimeInFuture", err)
	}
	if harness.headNum() != 0 {
		t.Fatalf("head number is %d, want 0", harness.headNum())
	}

	// Once the slot arrives the stored block is picked up.
	harness.clock.Set(timestamp)
	err = harness.chain.RevalidateFutureBlocks()
	if err != nil {
		t.Fatalf("RevalidateFutureBlocks: %s", err)
	}
	if harness.headNum() != 1 {
		t.Fatalf("head number is %d after revalidation, want 1", harness.headNum())
	}
	if harness.headID() != block.Header.ID() {
		t.Fatalf("head id is %s, want %s", harness.headID(), block.Header.ID())
	}
}

// buildForkBlock assembles and signs an empty block extending an arbitrary
// parent, bypassing GenerateBlock's head checks.
func (h *testHarness) buildForkBlock(previous hashes.Ripemd160, blockNum uint32,
	timestamp time.Time) *record.Block {

	delegateID, err := h.chain.delegateForSlot(h.chain.db, timestamp)
	if err != nil {
		h.t.Fatalf("delegateForSlot: %s", err)
	}
	header := record.BlockHeader{
		Previous:       previous,
		BlockNum:       blockNum,
		Timestamp:      timestamp,
		PreviousSecret: h.secrets[delegateID],
		NextSecretHash: h.newSecret(),
	}
	block := &record.Block{Header: header}
	block.Header.TransactionDigest = block.ComputeTransactionDigest()
	signBlock(h.t, block, h.keyFor(delegateID))
	return block
}

func TestReorganizeToLongerFork(t *testing.T) {
	harness := newTestHarness(t)

	common := harness.produceAndPush(1)[0]
	commonID := common.Header.ID()
	commonTime := common.Header.Timestamp

	// Short branch: one block at the next slot.
	short := harness.produceAndPush(1)[0]
	if harness.headID() != short.Header.ID() {
		t.Fatalf("head is not the short branch tip")
	}

	// Long branch: two blocks at the two following slots, extending the
	// common block. Later slots belong to delegates that have not produced
	// yet, so their secret commitments are still open.
	interval := harness.params.BlockInterval
	forkBlock2 := harness.buildForkBlock(commonID, 2, commonTime.Add(2*interval))
	forkBlock3 := harness.buildForkBlock(forkBlock2.Header.ID(), 3,
		commonTime.Add(3*interval))
	harness.clock.Set(forkBlock3.Header.Timestamp)

	err := harness.chain.PushBlock(forkBlock2)
	if err != nil {
		t.Fatalf("PushBlock(fork 2): %s", err)
	}
	// Equal depth does not reorganize.
	if harness.headID() != short.Header.ID() {
		t.Fatalf("head moved on an equal-depth fork")
	}

	err = harness.chain.PushBlock(forkBlock3)
	if err != nil {
		t.Fatalf("PushBlock(fork 3): %s", err)
	}
	if harness.headNum() != 3 {
		t.Fatalf("head number is %d after the reorg, want 3", harness.headNum())
	}
	if harness.headID() != forkBlock3.Header.ID() {
		t.Fatalf("head id is %s, want the fork tip %s",
			harness.headID(), forkBlock3.Header.ID())
	}

	// The short branch is no longer included, the fork is.
	included, err := harness.chain.IsIncludedBlock(short.Header.ID())
	if err != nil {
		t.Fatalf("IsIncludedBlock: %s", err)
	}
	if included {
		t.Errorf("the abandoned branch is still marked included")
	}
	atTwo, err := harness.chain.GetBlockByNumber(2)
	if err != nil {
		t.Fatalf("GetBlockByNumber(2): %s", err)
	}
	if atTwo.Header.ID() != forkBlock2.Header.ID() {
		t.Errorf("block at number 2 is %s, want %s",
			atTwo.Header.ID(), forkBlock2.Header.ID())
	}

	forks, err := harness.chain.GetForksList()
	if err != nil {
		t.Fatalf("GetForksList: %s", err)
	}
	if len(forks) != 1 || forks[0].BlockNum != 2 {
		t.Fatalf("forks list is %v, want one entry at number 2", forks)
	}
}

func TestPushBlockOlderThanUndoHistory(t *testing.T) {
	harness := newTestHarness(t)

	count := int(harness.params.MaxUndoHistory) + 2
	harness.produceAndPush(count)

	stale := harness.buildForkBlock(hashes.Ripemd160{}, 1,
		time.Unix(testGenesisTime, 0).Add(harness.params.BlockInterval))
	err := harness.chain.PushBlock(stale)
	if !errors.Is(err, chainerrors.ErrBlockOlderThanUndoHistory) {
		t.Fatalf("pushing a stale block returned %v, want ErrBlockOlderThanUndoHistory", err)
	}
}

func TestPopBlockRestoresPreviousHead(t *testing.T) {
	harness := newTestHarness(t)

	blocks := harness.produceAndPush(2)

	harness.chain.stateLock.Lock()
	err := harness.chain.popBlock()
	harness.chain.stateLock.Unlock()
	if err != nil {
		t.Fatalf("popBlock: %s", err)
	}

	if harness.headNum() != 1 {
		t.Fatalf("head number is %d after the pop, want 1", harness.headNum())
	}
	if harness.headID() != blocks[0].Header.ID() {
		t.Fatalf("head id is %s, want %s", harness.headID(), blocks[0].Header.ID())
	}
	included, err := harness.chain.IsIncludedBlock(blocks[1].Header.ID())
	if err != nil {
		t.Fatalf("IsIncludedBlock: %s", err)
	}
	if included {
		t.Errorf("the popped block is still marked included")
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	harness := newTestHarness(t)

	blocks := harness.produceAndPush(2)
	harness.chain.Close()

	reopened, err := New(&Config{
		Database:   harness.db,
		Params:     harness.params,
		Evaluator:  harness.evaluator,
		TimeSource: harness.clock.Now,
	})
	if err != nil {
		t.Fatalf("New after reopen: %s", err)
	}
	defer reopened.Close()

	headID, headNum, _ := reopened.Head()
	if headNum != 2 {
		t.Fatalf("reopened head number is %d, want 2", headNum)
	}
	if headID != blocks[1].Header.ID() {
		t.Fatalf("reopened head id is %s, want %s", headID, blocks[1].Header.ID())
	}
}
