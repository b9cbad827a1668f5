package blockchain

import (
	"bytes"
	"time"

	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

// calculateSupply recomputes an asset's circulating supply from first
// principles: the asset's collected fees, every balance, every order balance
// denominated in the asset, every collateral balance (base asset only) and,
// for the base asset, the delegate pay balances.
func calculateSupply(dbContext database.DataAccessor, assetID record.AssetID) (int64, error) {
	asset, err := fetchAssetRecord(dbContext, assetID)
	if err != nil {
		return 0, err
	}
	supply := asset.CollectedFees

	err = forEachBalance(dbContext, func(balance *record.BalanceRecord) error {
		if balance.Condition.AssetID == assetID {
			supply += balance.Balance
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	supply, err = addOrderBalances(dbContext, assetID, supply)
	if err != nil {
		return 0, err
	}

	if assetID == record.BaseAssetID {
		err = forEachAllCollateral(dbContext, func(collateral *record.CollateralRecord) error {
			supply += collateral.CollateralBalance
			return nil
		})
		if err != nil {
			return 0, err
		}
		err = forEachDelegate(dbContext, func(account *record.AccountRecord) error {
			supply += account.Delegate.PayBalance
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return supply, nil
}

// addOrderBalances folds in order balances denominated in assetID. Bid
// style orders escrow the quote asset; ask and short style orders escrow
// the base asset.
func addOrderBalances(dbContext database.DataAccessor, assetID record.AssetID,
	supply int64) (int64, error) {

	orderTypes := []record.OrderType{
		record.BidOrder, record.AskOrder, record.RelativeBidOrder,
		record.RelativeAskOrder, record.ShortOrder,
	}
	for _, orderType := range orderTypes {
		escrowsQuote := orderType == record.BidOrder ||
			orderType == record.RelativeBidOrder
		err := forEachOrderOfType(dbContext, orderType, func(order *record.OrderRecord) error {
			escrowed := order.Index.Price.BaseAssetID
			if escrowsQuote {
				escrowed = order.Index.Price.QuoteAssetID
			}
			if escrowed == assetID {
				supply += order.Balance
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return supply, nil
}

// calculateDebt totals the payoff owed by every margin position of a
// market issued asset.
func calculateDebt(dbContext database.DataAccessor, assetID record.AssetID) (int64, error) {
	debt := int64(0)
	err := forEachAllCollateral(dbContext, func(collateral *record.CollateralRecord) error {
		if collateral.Index.Price.QuoteAssetID == assetID {
			debt += collateral.PayoffBalance
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return debt, nil
}

// CalculateSupply audits an asset's supply against the committed state.
func (chain *Blockchain) CalculateSupply(assetID record.AssetID) (int64, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return calculateSupply(chain.db, assetID)
}

// CalculateDebt audits a market issued asset's outstanding debt.
func (chain *Blockchain) CalculateDebt(assetID record.AssetID) (int64, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return calculateDebt(chain.db, assetID)
}

// runForkRecomputations applies the one-shot corrections pinned to
// specific block numbers. Replay of the historical chain depends on these
// running at exactly the numbers they originally ran at.
func (chain *Blockchain) runForkRecomputations(dbContext database.DataAccessor,
	blockNum uint32, timestamp time.Time) error {

	forks := &chain.params.ForkBlocks

	if blockNum == forks.BaseSupplyRecount && blockNum != 0 {
		err := recountAssetSupply(dbContext, record.BaseAssetID, timestamp)
		if err != nil {
			return err
		}
	}
	for _, recountNum := range forks.SupplyRecounts {
		if blockNum != recountNum {
			continue
		}
		err := forEachAsset(dbContext, func(asset *record.AssetRecord) error {
			return recountAssetSupply(dbContext, asset.ID, timestamp)
		})
		if err != nil {
			return err
		}
	}
	if blockNum == forks.DelegatePayRateReset && blockNum != 0 {
		err := forEachDelegate(dbContext, func(account *record.AccountRecord) error {
			account.Delegate.PayRate = chainparams.DelegatePayRateResetValue
			account.LastUpdate = timestamp
			return storeAccountRecord(dbContext, account)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recountAssetSupply replaces an asset's bookkept supply with the scanned
// one. For market issued assets the spread between supply and debt is
// folded into collected fees, absorbing any accumulated drift.
func recountAssetSupply(dbContext database.DataAccessor, assetID record.AssetID,
	timestamp time.Time) error {

	asset, err := fetchAssetRecord(dbContext, assetID)
	if err != nil {
		return err
	}
	supply, err := calculateSupply(dbContext, assetID)
	if err != nil {
		return err
	}
	if asset.IsMarketIssued() {
		debt, err := calculateDebt(dbContext, assetID)
		if err != nil {
			return err
		}
		asset.CollectedFees += supply - debt
		asset.CurrentSupply = supply
	} else {
		asset.CurrentSupply = supply
	}
	asset.LastUpdate = timestamp
	return storeAssetRecord(dbContext, asset)
}

// forEachDelegate visits every registered delegate account, including
// inactive ones.
func forEachDelegate(dbContext database.DataAccessor,
	visit func(*record.AccountRecord) error) error {

	cursor, err := dbContext.Cursor(accountsBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		account := &record.AccountRecord{}
		err = account.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		if !account.IsDelegate() {
			continue
		}
		err = visit(account)
		if err != nil {
			return err
		}
	}
	return nil
}
