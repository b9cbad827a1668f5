package blockchain

import (
	"encoding/binary"
	"time"

	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

// Index buckets. Everything here is reconstructible from the raw chain.
var (
	blockRecordsBucket   = database.MakeBucket([]byte("block-records"))
	blockNumIndexBucket  = database.MakeBucket([]byte("block-num-index"))
	forkNodesBucket      = database.MakeBucket([]byte("fork-nodes"))
	undoBucket           = database.MakeBucket([]byte("undo"))
	accountsBucket       = database.MakeBucket([]byte("accounts"))
	accountNameBucket    = database.MakeBucket([]byte("account-name-index"))
	accountAddressBucket = database.MakeBucket([]byte("account-address-index"))
	assetsBucket         = database.MakeBucket([]byte("assets"))
	assetSymbolBucket    = database.MakeBucket([]byte("asset-symbol-index"))
	balancesBucket       = database.MakeBucket([]byte("balances"))
	emptyBalancesBucket  = database.MakeBucket([]byte("empty-balances"))
	ordersBucket         = database.MakeBucket([]byte("orders"))
	collateralBucket     = database.MakeBucket([]byte("collateral"))
	expirationBucket     = database.MakeBucket([]byte("collateral-expiration-index"))
	feedsBucket          = database.MakeBucket([]byte("feeds"))
	slatesBucket         = database.MakeBucket([]byte("slates"))
	slotsBucket          = database.MakeBucket([]byte("slot-records"))
	voteIndexBucket      = database.MakeBucket([]byte("vote-index"))
	propertiesBucket     = database.MakeBucket([]byte("properties"))
	transactionsBucket   = database.MakeBucket([]byte("transactions"))
	uniqueTrxBucket      = database.MakeBucket([]byte("unique-transactions"))
	pendingTrxBucket     = database.MakeBucket([]byte("pending-transactions"))
	futureBlocksBucket   = database.MakeBucket([]byte("future-blocks"))
)

// Raw chain buckets. The raw store is the canonical record a reindex
// rebuilds every index bucket from.
var (
	rawBlocksBucket      = database.MakeBucket([]byte("raw-blocks"))
	mainChainIndexBucket = database.MakeBucket([]byte("main-chain-index"))
)

// Ordered key encodings. LevelDB sorts keys lexicographically, so ordered
// tables encode their sort fields big endian.

func beUint32(value uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return buf[:]
}

func beUint64(value uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return buf[:]
}

// beInt64Ascending maps an int64 to 8 bytes whose lexicographic order
// matches numeric order.
func beInt64Ascending(value int64) []byte {
	return beUint64(uint64(value) + (1 << 63))
}

// beInt64Descending maps an int64 to 8 bytes whose lexicographic order
// reverses numeric order.
func beInt64Descending(value int64) []byte {
	return beUint64(^(uint64(value) + (1 << 63)))
}

func beTimestamp(t time.Time) []byte {
	return beUint64(uint64(t.Unix()))
}

func blockNumKey(blockNum uint32) []byte {
	return beUint32(blockNum)
}

func accountIDKey(accountID record.AccountID) []byte {
	return beUint32(uint32(accountID))
}

func assetIDKey(assetID record.AssetID) []byte {
	return beUint32(uint32(assetID))
}

// marketKey orders one side of one market's book. Bid style books invert
// the price so a forward scan starts at the best offer; ask style books
// scan from the cheapest offer naturally.
func marketKey(orderType record.OrderType, index *record.MarketIndex) []byte {
	key := make([]byte, 0, 1+4+4+8+len(index.Owner))
	key = append(key, byte(orderType))
	key = append(key, beUint32(uint32(index.Price.QuoteAssetID))...)
	key = append(key, beUint32(uint32(index.Price.BaseAssetID))...)
	if orderTypeScansBestFirst(orderType) {
		key = append(key, beInt64Descending(index.Price.Ratio)...)
	} else {
		key = append(key, beInt64Ascending(index.Price.Ratio)...)
	}
	key = append(key, index.Owner[:]...)
	return key
}

// marketPrefix addresses all entries of one side of one market.
func marketPrefix(orderType record.OrderType, quoteAssetID, baseAssetID record.AssetID) []byte {
	prefix := make([]byte, 0, 1+4+4)
	prefix = append(prefix, byte(orderType))
	prefix = append(prefix, beUint32(uint32(quoteAssetID))...)
	prefix = append(prefix, beUint32(uint32(baseAssetID))...)
	return prefix
}

// orderTypeScansBestFirst reports whether the book's best offer carries the
// highest price.
func orderTypeScansBestFirst(orderType record.OrderType) bool {
	switch orderType {
	case record.BidOrder, record.RelativeBidOrder, record.ShortOrder:
		return true
	default:
		return false
	}
}

// collateralKey orders margin positions by their call price ascending, so
// the position called first is at the front of a scan.
func collateralKey(index *record.MarketIndex) []byte {
	key := make([]byte, 0, 4+4+8+len(index.Owner))
	key = append(key, beUint32(uint32(index.Price.QuoteAssetID))...)
	key = append(key, beUint32(uint32(index.Price.BaseAssetID))...)
	key = append(key, beInt64Ascending(index.Price.Ratio)...)
	key = append(key, index.Owner[:]...)
	return key
}

// expirationKey orders margin positions by expiration within a quote asset
// so "positions expiring by T" is a prefix limited forward scan.
func expirationKey(quoteAssetID record.AssetID, expiration time.Time,
	index *record.MarketIndex) []byte {

	key := make([]byte, 0, 4+8+4+4+8+len(index.Owner))
	key = append(key, beUint32(uint32(quoteAssetID))...)
	key = append(key, beTimestamp(expiration)...)
	key = append(key, collateralKey(index)...)
	return key
}

// voteIndexKey orders delegates by net votes descending with the account id
// as tie breaker, so the active set is the first N entries of a scan.
func voteIndexKey(netVotes int64, accountID record.AccountID) []byte {
	key := make([]byte, 0, 8+4)
	key = append(key, beInt64Descending(netVotes)...)
	key = append(key, beUint32(uint32(accountID))...)
	return key
}

func feedKey(index *record.FeedIndex) []byte {
	key := make([]byte, 0, 4+4)
	key = append(key, beUint32(uint32(index.QuoteAssetID))...)
	key = append(key, beUint32(uint32(index.DelegateID))...)
	return key
}

func propertyKey(propertyID record.PropertyID) []byte {
	return beUint32(uint32(propertyID))
}
