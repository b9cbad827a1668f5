package record

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/xtsnet/xtsd/util/hashes"
)

func testBlock() *Block {
	transactions := []SignedTransaction{
		{
			Transaction: Transaction{
				Expiration: time.Unix(1416700000, 0),
				SlateID:    7,
				Operations: []Operation{
					{Type: 1, Data: []byte{0x01, 0x02, 0x03}},
					{Type: 4, Data: []byte{0xff}},
				},
			},
			Signatures: [][65]byte{{0x20, 0x01}},
		},
	}
	block := &Block{
		Header: BlockHeader{
			Previous:       hashes.HashID([]byte("parent")),
			BlockNum:       42,
			Timestamp:      time.Unix(1416700010, 0),
			PreviousSecret: hashes.HashRipemd160([]byte("secret")),
			NextSecretHash: hashes.HashRipemd160([]byte("next")),
			Signature:      [65]byte{0x1b, 0x01, 0x02},
		},
		Transactions: transactions,
	}
	block.Header.TransactionDigest = block.ComputeTransactionDigest()
	return block
}

func TestBlockHeaderIDIgnoresSignature(t *testing.T) {
	block := testBlock()
	unsignedID := block.Header.ID()

	signed := block.Header
	signed.Signature = [65]byte{0x1c, 0xaa, 0xbb, 0xcc}
	if signedID := signed.ID(); signedID != unsignedID {
		t.Errorf("block id changed with the signature: %s != %s",
			signedID, unsignedID)
	}

	resigned := block.Header
	resigned.BlockNum++
	if resignedID := resigned.ID(); resignedID == unsignedID {
		t.Errorf("block id did not change with the header contents: %s",
			resignedID)
	}
}

func TestBlockSerializeRoundTrip(t *testing.T) {
	block := testBlock()

	buf := &bytes.Buffer{}
	err := block.Serialize(buf)
	if err != nil {
		t.Fatalf("Serialize: %s", err)
	}
	if buf.Len() != block.SerializedSize() {
		t.Errorf("SerializedSize mismatch: got %d, serialized %d",
			block.SerializedSize(), buf.Len())
	}

	decoded := &Block{}
	err = decoded.Deserialize(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Deserialize: %s", err)
	}
	if !reflect.DeepEqual(decoded, block) {
		t.Fatalf("block changed over a serialization round trip:\ngot: %s\nwant: %s",
			spew.Sdump(decoded), spew.Sdump(block))
	}
	if err := decoded.ValidateDigest(); err != nil {
		t.Errorf("ValidateDigest on an intact block: %s", err)
	}

	decoded.Transactions[0].SlateID++
	if err := decoded.ValidateDigest(); err == nil {
		t.Errorf("ValidateDigest accepted a tampered transaction list")
	}
}

func TestTransactionIDIgnoresSignatures(t *testing.T) {
	trx := testBlock().Transactions[0]
	id := trx.Transaction.ID()

	resigned := trx
	resigned.Signatures = [][65]byte{{0x20, 0x99}}
	if resignedID := resigned.Transaction.ID(); resignedID != id {
		t.Errorf("transaction id changed with the signatures: %s != %s",
			resignedID, id)
	}

	chainA := hashes.HashSha256([]byte("chain-a"))
	chainB := hashes.HashSha256([]byte("chain-b"))
	if trx.Digest(chainA) == trx.Digest(chainB) {
		t.Errorf("transaction digest is not bound to the chain id")
	}
}

func TestWithdrawConditionAddressing(t *testing.T) {
	condition := WithdrawCondition{
		Type:    WithdrawSignature,
		AssetID: BaseAssetID,
		SlateID: 3,
		Owner:   hashes.HashID([]byte("owner")),
	}
	sameCondition := condition
	if condition.ID() != sameCondition.ID() {
		t.Errorf("identical conditions produced different balance ids")
	}

	otherSlate := condition
	otherSlate.SlateID = 4
	if condition.ID() == otherSlate.ID() {
		t.Errorf("conditions with different slates share a balance id")
	}
}

func TestVestedBalance(t *testing.T) {
	start := time.Unix(1416700000, 0)
	balance := &BalanceRecord{
		Condition: WithdrawCondition{
			Type:            WithdrawVesting,
			AssetID:         BaseAssetID,
			Owner:           hashes.HashID([]byte("owner")),
			VestingStart:    start,
			VestingDuration: 100 * time.Second,
		},
		Balance: 1000,
	}

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"before start", start.Add(-time.Second), 0},
		{"at start", start, 0},
		{"halfway", start.Add(50 * time.Second), 500},
		{"complete", start.Add(100 * time.Second), 1000},
		{"after completion", start.Add(200 * time.Second), 1000},
	}
	for _, test := range tests {
		if got := balance.VestedBalance(test.at); got != test.want {
			t.Errorf("VestedBalance %s: got %d, want %d", test.name, got, test.want)
		}
	}
}

func TestAccountRecordRoundTrip(t *testing.T) {
	accounts := []*AccountRecord{
		{
			ID:               5,
			Name:             "init1",
			OwnerKey:         [33]byte{0x02, 0x01},
			RegistrationDate: time.Unix(1416700000, 0),
			LastUpdate:       time.Unix(1416700010, 0),
			ActiveKeyHistory: []KeyHistoryEntry{
				{Time: time.Unix(1416700000, 0), Key: [33]byte{0x03, 0x09}},
			},
			Delegate: &DelegateInfo{
				VotesFor:             123456,
				PayRate:              100,
				BlocksProduced:       10,
				BlocksMissed:         2,
				LastBlockNumProduced: 41,
				NextSecretHash:       hashes.HashRipemd160([]byte("commit")),
				PayBalance:           5000,
				TotalPaid:            90000,
			},
		},
		{
			ID:               9,
			Name:             "plain",
			OwnerKey:         [33]byte{0x03, 0x07},
			RegistrationDate: time.Unix(1416700020, 0),
			LastUpdate:       time.Unix(1416700020, 0),
			ActiveKeyHistory: []KeyHistoryEntry{},
			Retracted:        true,
		},
	}

	for _, account := range accounts {
		buf := &bytes.Buffer{}
		err := account.Serialize(buf)
		if err != nil {
			t.Fatalf("Serialize %q: %s", account.Name, err)
		}
		decoded := &AccountRecord{}
		err = decoded.Deserialize(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("Deserialize %q: %s", account.Name, err)
		}
		if !reflect.DeepEqual(decoded, account) {
			t.Errorf("account %q changed over a serialization round trip:\ngot: %s\nwant: %s",
				account.Name, spew.Sdump(decoded), spew.Sdump(account))
		}
	}
}

func TestSlateIDIsContentAddressed(t *testing.T) {
	slate := &SlateRecord{Delegates: []AccountID{1, 2, 3}}
	if slate.ComputeID() != (&SlateRecord{Delegates: []AccountID{1, 2, 3}}).ComputeID() {
		t.Errorf("identical slates produced different ids")
	}
	reordered := &SlateRecord{Delegates: []AccountID{3, 2, 1}}
	if slate.ComputeID() == reordered.ComputeID() {
		t.Errorf("reordered slates share an id")
	}
}
