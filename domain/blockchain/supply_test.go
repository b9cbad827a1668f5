package blockchain

import (
	"testing"

	"github.com/xtsnet/xtsd/domain/record"
)

func TestCalculateSupplyMatchesBookkeeping(t *testing.T) {
	harness := newTestHarness(t)

	asset, err := harness.chain.GetAsset(record.BaseAssetID)
	if err != nil {
		t.Fatalf("GetAsset: %s", err)
	}
	supply, err := harness.chain.CalculateSupply(record.BaseAssetID)
	if err != nil {
		t.Fatalf("CalculateSupply: %s", err)
	}
	if supply != asset.CurrentSupply {
		t.Fatalf("scanned supply is %d, bookkept supply is %d",
			supply, asset.CurrentSupply)
	}

	harness.produceAndPush(3)

	asset, err = harness.chain.GetAsset(record.BaseAssetID)
	if err != nil {
		t.Fatalf("GetAsset: %s", err)
	}
	supply, err = harness.chain.CalculateSupply(record.BaseAssetID)
	if err != nil {
		t.Fatalf("CalculateSupply: %s", err)
	}
	if supply != asset.CurrentSupply {
		t.Fatalf("scanned supply after blocks is %d, bookkept supply is %d",
			supply, asset.CurrentSupply)
	}
}

func TestCalculateSupplyCountsDelegatePay(t *testing.T) {
	harness := newTestHarness(t)

	before, err := harness.chain.CalculateSupply(record.BaseAssetID)
	if err != nil {
		t.Fatalf("CalculateSupply: %s", err)
	}

	account, err := harness.chain.GetAccountByName("delegate-b")
	if err != nil {
		t.Fatalf("GetAccountByName: %s", err)
	}
	account.Delegate.PayBalance += 500
	err = storeAccountRecord(harness.chain.db, account)
	if err != nil {
		t.Fatalf("storeAccountRecord: %s", err)
	}

	after, err := harness.chain.CalculateSupply(record.BaseAssetID)
	if err != nil {
		t.Fatalf("CalculateSupply: %s", err)
	}
	if after != before+500 {
		t.Fatalf("supply after crediting pay is %d, want %d", after, before+500)
	}
}
