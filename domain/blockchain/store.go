package blockchain

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/domain/state"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// The accessors in this file are the typed layer over the key-value store.
// Every accessor takes a database.DataAccessor so it serves the committed
// database and pending overlays alike; secondary indices (names, symbols,
// votes, expirations) are maintained here so no caller can let them drift.

func serializeToBytes(serialize func(io.Writer) error) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := serialize(buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Raw blocks

func storeRawBlock(dbContext database.DataAccessor, blockID hashes.Ripemd160,
	block *record.Block) error {

	serialized, err := serializeToBytes(block.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(rawBlocksBucket.Key(blockID[:]), serialized)
}

func hasRawBlock(dbContext database.DataAccessor, blockID hashes.Ripemd160) (bool, error) {
	return dbContext.Has(rawBlocksBucket.Key(blockID[:]))
}

func fetchRawBlock(dbContext database.DataAccessor, blockID hashes.Ripemd160) (*record.Block, error) {
	serialized, err := dbContext.Get(rawBlocksBucket.Key(blockID[:]))
	if err != nil {
		return nil, err
	}
	block := &record.Block{}
	err = block.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return block, nil
}

// Block records

func storeBlockRecord(dbContext database.DataAccessor, blockRecord *record.BlockRecord) error {
	serialized, err := serializeToBytes(blockRecord.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(blockRecordsBucket.Key(blockRecord.ID[:]), serialized)
}

func fetchBlockRecord(dbContext database.DataAccessor, blockID hashes.Ripemd160) (*record.BlockRecord, error) {
	serialized, err := dbContext.Get(blockRecordsBucket.Key(blockID[:]))
	if err != nil {
		return nil, err
	}
	blockRecord := &record.BlockRecord{}
	err = blockRecord.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return blockRecord, nil
}

// Block number index. Every known block id is listed under its number,
// main chain or not.

func serializeIDList(ids []hashes.Ripemd160) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := record.WriteVarInt(buf, uint64(len(ids)))
	if err != nil {
		return nil, err
	}
	for i := range ids {
		err = record.WriteElement(buf, ids[i])
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func deserializeIDList(serialized []byte) ([]hashes.Ripemd160, error) {
	reader := bytes.NewReader(serialized)
	count, err := record.ReadVarInt(reader)
	if err != nil {
		return nil, err
	}
	ids := make([]hashes.Ripemd160, count)
	for i := uint64(0); i < count; i++ {
		err = record.ReadElement(reader, &ids[i])
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func fetchBlockNumIDs(dbContext database.DataAccessor, blockNum uint32) ([]hashes.Ripemd160, error) {
	serialized, err := dbContext.Get(blockNumIndexBucket.Key(blockNumKey(blockNum)))
	if database.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeIDList(serialized)
}

func addBlockNumIndexEntry(dbContext database.DataAccessor, blockNum uint32,
	blockID hashes.Ripemd160) error {

	ids, err := fetchBlockNumIDs(dbContext, blockNum)
	if err != nil {
		return err
	}
	for _, existingID := range ids {
		if existingID == blockID {
			return nil
		}
	}
	serialized, err := serializeIDList(append(ids, blockID))
	if err != nil {
		return err
	}
	return dbContext.Put(blockNumIndexBucket.Key(blockNumKey(blockNum)), serialized)
}

// Main chain index

func storeMainChainIndexEntry(dbContext database.DataAccessor, blockNum uint32,
	blockID hashes.Ripemd160) error {

	return dbContext.Put(mainChainIndexBucket.Key(blockNumKey(blockNum)), blockID[:])
}

func fetchMainChainBlockID(dbContext database.DataAccessor, blockNum uint32) (hashes.Ripemd160, error) {
	serialized, err := dbContext.Get(mainChainIndexBucket.Key(blockNumKey(blockNum)))
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	var blockID hashes.Ripemd160
	err = blockID.SetBytes(serialized)
	return blockID, err
}

func removeMainChainIndexEntry(dbContext database.DataAccessor, blockNum uint32) error {
	return dbContext.Delete(mainChainIndexBucket.Key(blockNumKey(blockNum)))
}

// Undo states

func storeUndoState(dbContext database.DataAccessor, blockID hashes.Ripemd160,
	undo *state.UndoState) error {

	serialized, err := serializeToBytes(undo.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(undoBucket.Key(blockID[:]), serialized)
}

func fetchUndoState(dbContext database.DataAccessor, blockID hashes.Ripemd160) (*state.UndoState, error) {
	serialized, err := dbContext.Get(undoBucket.Key(blockID[:]))
	if err != nil {
		return nil, err
	}
	undo := &state.UndoState{}
	err = undo.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return undo, nil
}

func hasUndoState(dbContext database.DataAccessor, blockID hashes.Ripemd160) (bool, error) {
	return dbContext.Has(undoBucket.Key(blockID[:]))
}

func removeUndoState(dbContext database.DataAccessor, blockID hashes.Ripemd160) error {
	return dbContext.Delete(undoBucket.Key(blockID[:]))
}

// Accounts. storeAccountRecord keeps the name, address and vote indices
// consistent with the primary table.

func fetchAccountRecord(dbContext database.DataAccessor, accountID record.AccountID) (*record.AccountRecord, error) {
	serialized, err := dbContext.Get(accountsBucket.Key(accountIDKey(accountID)))
	if err != nil {
		return nil, err
	}
	account := &record.AccountRecord{}
	err = account.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return account, nil
}

func fetchAccountIDByName(dbContext database.DataAccessor, name string) (record.AccountID, error) {
	serialized, err := dbContext.Get(accountNameBucket.Key([]byte(name)))
	if err != nil {
		return record.NullAccountID, err
	}
	reader := bytes.NewReader(serialized)
	var accountID record.AccountID
	err = record.ReadElement(reader, &accountID)
	return accountID, err
}

func fetchAccountIDByAddress(dbContext database.DataAccessor, address hashes.Ripemd160) (record.AccountID, error) {
	serialized, err := dbContext.Get(accountAddressBucket.Key(address[:]))
	if err != nil {
		return record.NullAccountID, err
	}
	reader := bytes.NewReader(serialized)
	var accountID record.AccountID
	err = record.ReadElement(reader, &accountID)
	return accountID, err
}

func serializeAccountID(accountID record.AccountID) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := record.WriteElement(buf, accountID)
	return buf.Bytes(), err
}

// delegateVoteIndexEntry reports whether the account belongs in the vote
// index and under which key.
func delegateVoteIndexEntry(account *record.AccountRecord) ([]byte, bool) {
	if !account.IsDelegate() || account.Retracted {
		return nil, false
	}
	return voteIndexKey(account.NetVotes(), account.ID), true
}

func storeAccountRecord(dbContext database.DataAccessor, account *record.AccountRecord) error {
	previous, err := fetchAccountRecord(dbContext, account.ID)
	if err != nil && !database.IsNotFoundError(err) {
		return err
	}

	serialized, err := serializeToBytes(account.Serialize)
	if err != nil {
		return err
	}
	err = dbContext.Put(accountsBucket.Key(accountIDKey(account.ID)), serialized)
	if err != nil {
		return err
	}

	serializedID, err := serializeAccountID(account.ID)
	if err != nil {
		return err
	}
	err = dbContext.Put(accountNameBucket.Key([]byte(account.Name)), serializedID)
	if err != nil {
		return err
	}
	address := account.Address()
	err = dbContext.Put(accountAddressBucket.Key(address[:]), serializedID)
	if err != nil {
		return err
	}

	// Reindex the delegate under its new vote tally.
	if previous != nil {
		if previousKey, ok := delegateVoteIndexEntry(previous); ok {
			err = dbContext.Delete(voteIndexBucket.Key(previousKey))
			if err != nil {
				return err
			}
		}
	}
	if newKey, ok := delegateVoteIndexEntry(account); ok {
		err = dbContext.Put(voteIndexBucket.Key(newKey), serializedID)
		if err != nil {
			return err
		}
	}
	return nil
}

// delegatesByVote returns up to limit delegate account ids ordered by net
// votes descending, account id ascending.
func delegatesByVote(dbContext database.DataAccessor, limit int) ([]record.AccountID, error) {
	cursor, err := dbContext.Cursor(voteIndexBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	delegateIDs := make([]record.AccountID, 0, limit)
	for hasNext := cursor.First(); hasNext && len(delegateIDs) < limit; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		var accountID record.AccountID
		err = record.ReadElement(bytes.NewReader(serialized), &accountID)
		if err != nil {
			return nil, err
		}
		delegateIDs = append(delegateIDs, accountID)
	}
	return delegateIDs, nil
}

// Assets

func fetchAssetRecord(dbContext database.DataAccessor, assetID record.AssetID) (*record.AssetRecord, error) {
	serialized, err := dbContext.Get(assetsBucket.Key(assetIDKey(assetID)))
	if err != nil {
		return nil, err
	}
	asset := &record.AssetRecord{}
	err = asset.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func fetchAssetIDBySymbol(dbContext database.DataAccessor, symbol string) (record.AssetID, error) {
	serialized, err := dbContext.Get(assetSymbolBucket.Key([]byte(symbol)))
	if err != nil {
		return 0, err
	}
	reader := bytes.NewReader(serialized)
	var assetID record.AssetID
	err = record.ReadElement(reader, &assetID)
	return assetID, err
}

func storeAssetRecord(dbContext database.DataAccessor, asset *record.AssetRecord) error {
	serialized, err := serializeToBytes(asset.Serialize)
	if err != nil {
		return err
	}
	err = dbContext.Put(assetsBucket.Key(assetIDKey(asset.ID)), serialized)
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	err = record.WriteElement(buf, asset.ID)
	if err != nil {
		return err
	}
	return dbContext.Put(assetSymbolBucket.Key([]byte(asset.Symbol)), buf.Bytes())
}

// forEachAsset scans every asset record in id order.
func forEachAsset(dbContext database.DataAccessor, visit func(*record.AssetRecord) error) error {
	cursor, err := dbContext.Cursor(assetsBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		asset := &record.AssetRecord{}
		err = asset.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(asset)
		if err != nil {
			return err
		}
	}
	return nil
}

// Balances. Zero balances move to a separate table so live-balance scans
// stay tight while history queries can still resolve the record.

func fetchBalanceRecord(dbContext database.DataAccessor, balanceID hashes.Ripemd160) (*record.BalanceRecord, error) {
	serialized, err := dbContext.Get(balancesBucket.Key(balanceID[:]))
	if database.IsNotFoundError(err) {
		serialized, err = dbContext.Get(emptyBalancesBucket.Key(balanceID[:]))
	}
	if err != nil {
		return nil, err
	}
	balance := &record.BalanceRecord{}
	err = balance.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func storeBalanceRecord(dbContext database.DataAccessor, balance *record.BalanceRecord) error {
	serialized, err := serializeToBytes(balance.Serialize)
	if err != nil {
		return err
	}
	balanceID := balance.ID()
	if balance.Balance == 0 {
		err = dbContext.Delete(balancesBucket.Key(balanceID[:]))
		if err != nil {
			return err
		}
		return dbContext.Put(emptyBalancesBucket.Key(balanceID[:]), serialized)
	}
	err = dbContext.Delete(emptyBalancesBucket.Key(balanceID[:]))
	if err != nil {
		return err
	}
	return dbContext.Put(balancesBucket.Key(balanceID[:]), serialized)
}

// forEachBalance scans every non-empty balance record.
func forEachBalance(dbContext database.DataAccessor, visit func(*record.BalanceRecord) error) error {
	cursor, err := dbContext.Cursor(balancesBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		balance := &record.BalanceRecord{}
		err = balance.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(balance)
		if err != nil {
			return err
		}
	}
	return nil
}

// Orders

func fetchOrderRecord(dbContext database.DataAccessor, orderType record.OrderType,
	index *record.MarketIndex) (*record.OrderRecord, error) {

	serialized, err := dbContext.Get(ordersBucket.Key(marketKey(orderType, index)))
	if err != nil {
		return nil, err
	}
	order := &record.OrderRecord{}
	err = order.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return order, nil
}

func storeOrderRecord(dbContext database.DataAccessor, order *record.OrderRecord) error {
	serialized, err := serializeToBytes(order.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(ordersBucket.Key(marketKey(order.Type, &order.Index)), serialized)
}

func removeOrderRecord(dbContext database.DataAccessor, orderType record.OrderType,
	index *record.MarketIndex) error {

	return dbContext.Delete(ordersBucket.Key(marketKey(orderType, index)))
}

// forEachOrder scans one side of one market's book best offer first.
func forEachOrder(dbContext database.DataAccessor, orderType record.OrderType,
	quoteAssetID, baseAssetID record.AssetID, visit func(*record.OrderRecord) (bool, error)) error {

	bucket := ordersBucket
	prefix := marketPrefix(orderType, quoteAssetID, baseAssetID)
	cursor, err := dbContext.Cursor(bucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(key.Suffix(), prefix) {
			continue
		}
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		order := &record.OrderRecord{}
		err = order.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		keepGoing, err := visit(order)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// forEachOrderOfType scans every order of one type across all markets.
func forEachOrderOfType(dbContext database.DataAccessor, orderType record.OrderType,
	visit func(*record.OrderRecord) error) error {

	cursor, err := dbContext.Cursor(ordersBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		suffix := key.Suffix()
		if len(suffix) == 0 || suffix[0] != byte(orderType) {
			continue
		}
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		order := &record.OrderRecord{}
		err = order.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(order)
		if err != nil {
			return err
		}
	}
	return nil
}

// forEachAllCollateral scans every margin position across all markets.
func forEachAllCollateral(dbContext database.DataAccessor,
	visit func(*record.CollateralRecord) error) error {

	cursor, err := dbContext.Cursor(collateralBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		collateral := &record.CollateralRecord{}
		err = collateral.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(collateral)
		if err != nil {
			return err
		}
	}
	return nil
}

// Collateral. storeCollateralRecord keeps the expiration index consistent
// with the primary table.

func fetchCollateralRecord(dbContext database.DataAccessor, index *record.MarketIndex) (*record.CollateralRecord, error) {
	serialized, err := dbContext.Get(collateralBucket.Key(collateralKey(index)))
	if err != nil {
		return nil, err
	}
	collateral := &record.CollateralRecord{}
	err = collateral.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return collateral, nil
}

func storeCollateralRecord(dbContext database.DataAccessor, collateral *record.CollateralRecord) error {
	previous, err := fetchCollateralRecord(dbContext, &collateral.Index)
	if err != nil && !database.IsNotFoundError(err) {
		return err
	}
	if previous != nil && !previous.Expiration.Equal(collateral.Expiration) {
		err = dbContext.Delete(expirationBucket.Key(expirationKey(
			previous.Index.Price.QuoteAssetID, previous.Expiration, &previous.Index)))
		if err != nil {
			return err
		}
	}

	serialized, err := serializeToBytes(collateral.Serialize)
	if err != nil {
		return err
	}
	err = dbContext.Put(collateralBucket.Key(collateralKey(&collateral.Index)), serialized)
	if err != nil {
		return err
	}
	return dbContext.Put(expirationBucket.Key(expirationKey(
		collateral.Index.Price.QuoteAssetID, collateral.Expiration, &collateral.Index)), nil)
}

func removeCollateralRecord(dbContext database.DataAccessor, index *record.MarketIndex) error {
	previous, err := fetchCollateralRecord(dbContext, index)
	if database.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	err = dbContext.Delete(expirationBucket.Key(expirationKey(
		previous.Index.Price.QuoteAssetID, previous.Expiration, &previous.Index)))
	if err != nil {
		return err
	}
	return dbContext.Delete(collateralBucket.Key(collateralKey(index)))
}

// forEachCollateral scans a market's margin positions ordered by call
// price, the first position called first.
func forEachCollateral(dbContext database.DataAccessor, quoteAssetID, baseAssetID record.AssetID,
	visit func(*record.CollateralRecord) (bool, error)) error {

	prefix := make([]byte, 0, 8)
	prefix = append(prefix, beUint32(uint32(quoteAssetID))...)
	prefix = append(prefix, beUint32(uint32(baseAssetID))...)

	cursor, err := dbContext.Cursor(collateralBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(key.Suffix(), prefix) {
			continue
		}
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		collateral := &record.CollateralRecord{}
		err = collateral.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		keepGoing, err := visit(collateral)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// forEachExpiringCollateral visits the margin positions of a quote asset
// whose expiration is at or before the deadline, soonest first.
func forEachExpiringCollateral(dbContext database.DataAccessor, quoteAssetID record.AssetID,
	deadline time.Time, visit func(*record.CollateralRecord) (bool, error)) error {

	prefix := beUint32(uint32(quoteAssetID))
	cursor, err := dbContext.Cursor(expirationBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		suffix := key.Suffix()
		if !bytes.HasPrefix(suffix, prefix) {
			continue
		}
		if len(suffix) < 12 {
			return errors.Errorf("malformed expiration index key %x", suffix)
		}
		expiration := time.Unix(int64(beUint64Value(suffix[4:12])), 0)
		if expiration.After(deadline) {
			return nil
		}
		collateralSuffix := suffix[12:]
		serialized, err := dbContext.Get(collateralBucket.Key(collateralSuffix))
		if err != nil {
			return err
		}
		collateral := &record.CollateralRecord{}
		err = collateral.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		keepGoing, err := visit(collateral)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

func beUint64Value(buf []byte) uint64 {
	var value uint64
	for _, b := range buf {
		value = value<<8 | uint64(b)
	}
	return value
}

// Feeds

func fetchFeedRecord(dbContext database.DataAccessor, index *record.FeedIndex) (*record.FeedRecord, error) {
	serialized, err := dbContext.Get(feedsBucket.Key(feedKey(index)))
	if err != nil {
		return nil, err
	}
	feed := &record.FeedRecord{}
	err = feed.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return feed, nil
}

func storeFeedRecord(dbContext database.DataAccessor, feed *record.FeedRecord) error {
	serialized, err := serializeToBytes(feed.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(feedsBucket.Key(feedKey(&feed.Index)), serialized)
}

// forEachFeedForAsset visits every published feed pricing the given asset.
func forEachFeedForAsset(dbContext database.DataAccessor, quoteAssetID record.AssetID,
	visit func(*record.FeedRecord) error) error {

	prefix := beUint32(uint32(quoteAssetID))
	cursor, err := dbContext.Cursor(feedsBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(key.Suffix(), prefix) {
			continue
		}
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		feed := &record.FeedRecord{}
		err = feed.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(feed)
		if err != nil {
			return err
		}
	}
	return nil
}

// Slates

func fetchSlateRecord(dbContext database.DataAccessor, slateID record.SlateID) (*record.SlateRecord, error) {
	serialized, err := dbContext.Get(slatesBucket.Key(beUint64(uint64(slateID))))
	if err != nil {
		return nil, err
	}
	slate := &record.SlateRecord{}
	err = slate.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return slate, nil
}

func storeSlateRecord(dbContext database.DataAccessor, slate *record.SlateRecord) error {
	serialized, err := serializeToBytes(slate.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(slatesBucket.Key(beUint64(uint64(slate.ID))), serialized)
}

// Slot records

func storeSlotRecord(dbContext database.DataAccessor, slot *record.SlotRecord) error {
	serialized, err := serializeToBytes(slot.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(slotsBucket.Key(beTimestamp(slot.Timestamp)), serialized)
}

func fetchSlotRecord(dbContext database.DataAccessor, timestamp time.Time) (*record.SlotRecord, error) {
	serialized, err := dbContext.Get(slotsBucket.Key(beTimestamp(timestamp)))
	if err != nil {
		return nil, err
	}
	slot := &record.SlotRecord{}
	err = slot.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// Properties

func storeProperty(dbContext database.DataAccessor, propertyID record.PropertyID, value []byte) error {
	return dbContext.Put(propertiesBucket.Key(propertyKey(propertyID)), value)
}

func fetchProperty(dbContext database.DataAccessor, propertyID record.PropertyID) ([]byte, error) {
	return dbContext.Get(propertiesBucket.Key(propertyKey(propertyID)))
}

func fetchPropertyUint64(dbContext database.DataAccessor, propertyID record.PropertyID) (uint64, error) {
	serialized, err := fetchProperty(dbContext, propertyID)
	if err != nil {
		return 0, err
	}
	return record.UnpackPropertyUint64(serialized)
}

func storePropertyUint64(dbContext database.DataAccessor, propertyID record.PropertyID, value uint64) error {
	return storeProperty(dbContext, propertyID, record.PackPropertyUint64(value))
}

// Confirmed transactions

func storeTransactionRecord(dbContext database.DataAccessor, transactionID hashes.Ripemd160,
	transactionRecord *record.TransactionRecord) error {

	serialized, err := serializeToBytes(transactionRecord.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(transactionsBucket.Key(transactionID[:]), serialized)
}

func fetchTransactionRecord(dbContext database.DataAccessor, transactionID hashes.Ripemd160) (*record.TransactionRecord, error) {
	serialized, err := dbContext.Get(transactionsBucket.Key(transactionID[:]))
	if err != nil {
		return nil, err
	}
	transactionRecord := &record.TransactionRecord{}
	err = transactionRecord.Deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return transactionRecord, nil
}

func removeTransactionRecord(dbContext database.DataAccessor, transactionID hashes.Ripemd160) error {
	return dbContext.Delete(transactionsBucket.Key(transactionID[:]))
}

// Unique transaction fingerprints

func storeUniqueTransaction(dbContext database.DataAccessor, digest hashes.Sha256,
	expiration time.Time) error {

	return dbContext.Put(uniqueTrxBucket.Key(digest[:]), beTimestamp(expiration))
}

func hasUniqueTransaction(dbContext database.DataAccessor, digest hashes.Sha256) (bool, error) {
	return dbContext.Has(uniqueTrxBucket.Key(digest[:]))
}

func removeUniqueTransaction(dbContext database.DataAccessor, digest hashes.Sha256) error {
	return dbContext.Delete(uniqueTrxBucket.Key(digest[:]))
}

// collectExpiredUniqueTransactions returns the fingerprints whose
// expiration is at or before now.
func collectExpiredUniqueTransactions(dbContext database.DataAccessor, now time.Time) ([]hashes.Sha256, error) {
	cursor, err := dbContext.Cursor(uniqueTrxBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var expired []hashes.Sha256
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		if len(serialized) != 8 {
			return nil, errors.Errorf("malformed unique transaction expiration %x", serialized)
		}
		expiration := time.Unix(int64(beUint64Value(serialized)), 0)
		if expiration.After(now) {
			continue
		}
		key, err := cursor.Key()
		if err != nil {
			return nil, err
		}
		var digest hashes.Sha256
		err = digest.SetBytes(key.Suffix())
		if err != nil {
			return nil, err
		}
		expired = append(expired, digest)
	}
	return expired, nil
}

// Future blocks noted for revalidation once their slot arrives.

func storeFutureBlockEntry(dbContext database.DataAccessor, blockID hashes.Ripemd160,
	timestamp time.Time) error {

	return dbContext.Put(futureBlocksBucket.Key(blockID[:]), beTimestamp(timestamp))
}

func removeFutureBlockEntry(dbContext database.DataAccessor, blockID hashes.Ripemd160) error {
	return dbContext.Delete(futureBlocksBucket.Key(blockID[:]))
}

func collectFutureBlocks(dbContext database.DataAccessor, upTo time.Time) ([]hashes.Ripemd160, error) {
	cursor, err := dbContext.Cursor(futureBlocksBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var dueBlockIDs []hashes.Ripemd160
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		if len(serialized) != 8 {
			return nil, errors.Errorf("malformed future block timestamp %x", serialized)
		}
		timestamp := time.Unix(int64(beUint64Value(serialized)), 0)
		if timestamp.After(upTo) {
			continue
		}
		key, err := cursor.Key()
		if err != nil {
			return nil, err
		}
		var blockID hashes.Ripemd160
		err = blockID.SetBytes(key.Suffix())
		if err != nil {
			return nil, err
		}
		dueBlockIDs = append(dueBlockIDs, blockID)
	}
	return dueBlockIDs, nil
}
