package chainparams

import (
	"time"

	"github.com/xtsnet/xtsd/util/hashes"
)

// Checkpoint pins a block id at a block number. Blocks at a checkpointed
// number must match the pinned id, and signature validation is skipped at
// and below the last checkpoint.
type Checkpoint struct {
	BlockNum uint32
	BlockID  hashes.Ripemd160
}

// ForkBlocks lists the block numbers at which consensus behavior changed.
// Historical replay correctness depends on branching on these exactly.
type ForkBlocks struct {
	// TransactionsAfterMarkets is the block number starting at which user
	// transactions are applied after market execution instead of before it.
	TransactionsAfterMarkets uint32

	// BaseSupplyRecount is the block number at which the base asset's share
	// supply is recomputed from a full balance scan.
	BaseSupplyRecount uint32

	// SupplyRecounts are block numbers at which every asset's supply and
	// collected fees are recomputed, folding any supply-vs-debt drift of
	// market-issued assets into collected fees.
	SupplyRecounts []uint32

	// DelegatePayRateReset is the block number at which every delegate's pay
	// rate is reset to DelegatePayRateResetValue.
	DelegatePayRateReset uint32
}

// DelegatePayRateResetValue is the pay rate assigned to every delegate at the
// DelegatePayRateReset fork.
const DelegatePayRateResetValue = 3

// Params defines an xtsd network by its parameters. These parameters may be
// used by xtsd applications to differentiate networks as well as addresses
// and keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// AddressPrefix is prepended to base58 address payloads.
	AddressPrefix string

	// BlockInterval is the spacing of delegate slots. Block timestamps must
	// be aligned to it.
	BlockInterval time.Duration

	// NumDelegates is the number of active delegates per round.
	NumDelegates uint32

	// BlocksPerDay is the number of slots in a day.
	BlocksPerDay uint32

	// MaxShares caps the share supply of any asset.
	MaxShares int64

	// Precision is the number of base-asset subunits per whole unit.
	Precision int64

	// MaxDelegatePayPerBlock is the most new base-asset shares a block's
	// producer can be issued, before its pay rate is applied.
	MaxDelegatePayPerBlock int64

	// MaxUndoHistory is the number of blocks for which undo state is kept.
	// Blocks older than head minus this cannot be reorganized onto.
	MaxUndoHistory uint32

	// MinFeeds is the minimum number of active-delegate price feeds needed
	// to publish a median price.
	MinFeeds int

	// MaxShortPeriod is the lifetime of a short position before its
	// collateral may be called.
	MaxShortPeriod time.Duration

	// MaxPendingQueueSize is the pending-pool size beyond which the
	// effective relay fee escalates.
	MaxPendingQueueSize int

	// DefaultRelayFee is the minimum fee for admitting a transaction to the
	// pending pool, in base-asset subunits.
	DefaultRelayFee int64

	// MaxBlockSize caps the serialized size of a produced block.
	MaxBlockSize int

	// MaxTransactionSize caps the serialized size of a single transaction.
	MaxTransactionSize int

	// DatabaseVersion is the layout version of the on-disk index. An older
	// version triggers a reindex on open; a newer one refuses to open.
	DatabaseVersion uint32

	// ExpectedChainID and DesiredChainID define the single legacy chain-id
	// substitution: a genesis document hashing to ExpectedChainID is
	// assigned DesiredChainID instead. Zero values disable the substitution.
	ExpectedChainID hashes.Sha256
	DesiredChainID  hashes.Sha256

	// Checkpoints are ordered by block number.
	Checkpoints []Checkpoint

	// ForkBlocks gates historical behavior changes.
	ForkBlocks ForkBlocks
}

// LastCheckpoint returns the highest checkpoint, or nil when the network has
// none.
func (p *Params) LastCheckpoint() *Checkpoint {
	if len(p.Checkpoints) == 0 {
		return nil
	}
	return &p.Checkpoints[len(p.Checkpoints)-1]
}

// BlockIntervalSeconds returns the slot spacing in seconds.
func (p *Params) BlockIntervalSeconds() int64 {
	return int64(p.BlockInterval / time.Second)
}

// MainNetParams defines the network parameters for the main xtsd network.
var MainNetParams = Params{
	Name:          "mainnet",
	AddressPrefix: "XTS",

	BlockInterval:  10 * time.Second,
	NumDelegates:   101,
	BlocksPerDay:   8640,
	MaxShares:      1000000000000000,
	Precision:      100000,
	MaxUndoHistory: 8640,
	MinFeeds:       51,
	MaxShortPeriod: 30 * 24 * time.Hour,

	// MaxShares / (BlocksPerDay * 365 * 100000), rounded down.
	MaxDelegatePayPerBlock: 3170,

	MaxPendingQueueSize: 101,
	DefaultRelayFee:     10000,
	MaxBlockSize:        1024 * 1024,
	MaxTransactionSize:  100 * 1024,

	DatabaseVersion: 120,

	ExpectedChainID: mustChainID("3437fcd9a5a95ca58de2d4e10edbbeb4dba8e5e1fdc8b0f4f1e0b80ae1cf2a1f"),
	DesiredChainID:  mustChainID("75c11a81b7670bbaa721cc603eadb2313756f94a3bcbb9928e9101432701ac5f"),

	Checkpoints: []Checkpoint{
		{BlockNum: 1, BlockID: mustBlockID("8abcfb93c52f999e3ef5288c4f837f4f15af5521")},
		{BlockNum: 100000, BlockID: mustBlockID("96f98d49722dc7ba75a71bf9520c1a5ac5ce5615")},
		{BlockNum: 500000, BlockID: mustBlockID("a4218b1feb2c053661f35acd33ea5bd5f8a19cb4")},
	},

	ForkBlocks: ForkBlocks{
		TransactionsAfterMarkets: 274000,
		BaseSupplyRecount:        316001,
		SupplyRecounts:           []uint32{340700, 357000, 408750},
		DelegatePayRateReset:     408750,
	},
}

// SimNetParams defines the network parameters for the simulation test
// network. The constants are deliberately small so that tests can exercise
// full delegate rounds, undo expiry and fork activations quickly.
var SimNetParams = Params{
	Name:          "simnet",
	AddressPrefix: "XTS",

	BlockInterval:  10 * time.Second,
	NumDelegates:   5,
	BlocksPerDay:   8640,
	MaxShares:      1000000000000000,
	Precision:      100000,
	MaxUndoHistory: 10,
	MinFeeds:       3,
	MaxShortPeriod: 24 * time.Hour,

	MaxDelegatePayPerBlock: 1000,

	MaxPendingQueueSize: 10,
	DefaultRelayFee:     100,
	MaxBlockSize:        1024 * 1024,
	MaxTransactionSize:  100 * 1024,

	DatabaseVersion: 120,

	ForkBlocks: ForkBlocks{
		TransactionsAfterMarkets: 0,
		BaseSupplyRecount:        0,
		SupplyRecounts:           nil,
		DelegatePayRateReset:     0,
	},
}

func mustChainID(hexStr string) hashes.Sha256 {
	id, err := hashes.NewSha256FromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return *id
}

func mustBlockID(hexStr string) hashes.Ripemd160 {
	id, err := hashes.NewRipemd160FromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return *id
}
