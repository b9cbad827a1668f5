package blockchain

import (
	"encoding/hex"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainparams"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/address"
	"github.com/xtsnet/xtsd/util/hashes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GenesisDelegate is one initial delegate entry of a genesis document.
type GenesisDelegate struct {
	Name     string `json:"name"`
	OwnerKey string `json:"owner"`
}

// GenesisBalance grants an initial balance to a legacy address.
type GenesisBalance struct {
	RawAddress string `json:"raw_address"`
	Balance    int64  `json:"balance"`
}

// GenesisVestingBalance grants a balance that vests linearly.
type GenesisVestingBalance struct {
	RawAddress      string `json:"raw_address"`
	Balance         int64  `json:"balance"`
	VestingStart    int64  `json:"vesting_start"`
	VestingDuration int64  `json:"vesting_duration_seconds"`
}

// GenesisAsset declares a market issued asset at genesis.
type GenesisAsset struct {
	Symbol    string `json:"symbol"`
	AssetName string `json:"name"`
	Precision int64  `json:"precision"`
}

// GenesisDocument is the bootstrap state of a chain. Its packed digest is
// the chain id.
type GenesisDocument struct {
	Timestamp       int64                   `json:"timestamp"`
	BaseSymbol      string                  `json:"base_symbol"`
	BaseName        string                  `json:"base_name"`
	Delegates       []GenesisDelegate       `json:"delegates"`
	Balances        []GenesisBalance        `json:"balances"`
	VestingBalances []GenesisVestingBalance `json:"vesting_balances"`
	MarketAssets    []GenesisAsset          `json:"market_assets"`
}

// DecodeGenesisDocument parses the JSON form of a genesis document.
func DecodeGenesisDocument(serialized []byte) (*GenesisDocument, error) {
	document := &GenesisDocument{}
	err := json.Unmarshal(serialized, document)
	if err != nil {
		return nil, errors.Wrap(err, "malformed genesis document")
	}
	return document, nil
}

// serialize writes the canonical packed form the chain id is derived from.
func (g *GenesisDocument) serialize(w io.Writer) error {
	err := record.WriteElement(w, g.Timestamp)
	if err != nil {
		return err
	}
	err = record.WriteVarString(w, g.BaseSymbol)
	if err != nil {
		return err
	}
	err = record.WriteVarString(w, g.BaseName)
	if err != nil {
		return err
	}
	err = record.WriteVarInt(w, uint64(len(g.Delegates)))
	if err != nil {
		return err
	}
	for i := range g.Delegates {
		err = record.WriteVarString(w, g.Delegates[i].Name)
		if err != nil {
			return err
		}
		err = record.WriteVarString(w, g.Delegates[i].OwnerKey)
		if err != nil {
			return err
		}
	}
	err = record.WriteVarInt(w, uint64(len(g.Balances)))
	if err != nil {
		return err
	}
	for i := range g.Balances {
		err = record.WriteVarString(w, g.Balances[i].RawAddress)
		if err != nil {
			return err
		}
		err = record.WriteElement(w, g.Balances[i].Balance)
		if err != nil {
			return err
		}
	}
	err = record.WriteVarInt(w, uint64(len(g.VestingBalances)))
	if err != nil {
		return err
	}
	for i := range g.VestingBalances {
		vesting := &g.VestingBalances[i]
		err = record.WriteVarString(w, vesting.RawAddress)
		if err != nil {
			return err
		}
		err = record.WriteElements(w, vesting.Balance, vesting.VestingStart,
			vesting.VestingDuration)
		if err != nil {
			return err
		}
	}
	err = record.WriteVarInt(w, uint64(len(g.MarketAssets)))
	if err != nil {
		return err
	}
	for i := range g.MarketAssets {
		err = record.WriteVarString(w, g.MarketAssets[i].Symbol)
		if err != nil {
			return err
		}
		err = record.WriteVarString(w, g.MarketAssets[i].AssetName)
		if err != nil {
			return err
		}
		err = record.WriteElement(w, g.MarketAssets[i].Precision)
		if err != nil {
			return err
		}
	}
	return nil
}

// ChainID computes the chain's identity: the digest of the packed genesis
// document, with the single legacy substitution applied.
func (g *GenesisDocument) ChainID(params *chainparams.Params) (hashes.Sha256, error) {
	serialized, err := serializeToBytes(g.serialize)
	if err != nil {
		return hashes.Sha256{}, err
	}
	chainID := hashes.HashSha256(serialized)
	if !params.ExpectedChainID.IsZero() && chainID == params.ExpectedChainID {
		chainID = params.DesiredChainID
	}
	return chainID, nil
}

func (g *GenesisDelegate) ownerKeyBytes() ([33]byte, error) {
	var key [33]byte
	decoded, err := hex.DecodeString(g.OwnerKey)
	if err != nil {
		return key, errors.Wrapf(err, "malformed owner key for delegate %q", g.Name)
	}
	if len(decoded) != 33 {
		return key, errors.Errorf("owner key for delegate %q has %d bytes, want 33",
			g.Name, len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

// genesisReservedAccountName is the name of account zero, which exists only
// so that no real account holds the zero id.
const genesisReservedAccountName = "GOD"

// initializeGenesisState writes the bootstrap state of a fresh chain.
func initializeGenesisState(dbContext database.DataAccessor,
	params *chainparams.Params, document *GenesisDocument) error {

	genesisTime := time.Unix(document.Timestamp, 0)

	chainID, err := document.ChainID(params)
	if err != nil {
		return err
	}
	err = storeProperty(dbContext, record.PropertyChainID,
		record.PackPropertySha256(chainID))
	if err != nil {
		return err
	}
	err = storePropertyUint64(dbContext, record.PropertyDatabaseVersion,
		uint64(params.DatabaseVersion))
	if err != nil {
		return err
	}
	err = storePropertyUint64(dbContext, record.PropertyGenesisTimestamp,
		uint64(document.Timestamp))
	if err != nil {
		return err
	}

	err = storeAccountRecord(dbContext, &record.AccountRecord{
		ID:               record.GenesisAccountID,
		Name:             genesisReservedAccountName,
		RegistrationDate: genesisTime,
		LastUpdate:       genesisTime,
	})
	if err != nil {
		return err
	}

	delegateIDs := make([]record.AccountID, 0, len(document.Delegates))
	for i := range document.Delegates {
		ownerKey, err := (&document.Delegates[i]).ownerKeyBytes()
		if err != nil {
			return err
		}
		accountID := record.AccountID(i + 1)
		err = storeAccountRecord(dbContext, &record.AccountRecord{
			ID:       accountID,
			Name:     document.Delegates[i].Name,
			OwnerKey: ownerKey,
			ActiveKeyHistory: []record.KeyHistoryEntry{
				{Time: genesisTime, Key: ownerKey},
			},
			RegistrationDate: genesisTime,
			LastUpdate:       genesisTime,
			Delegate:         &record.DelegateInfo{PayRate: 100},
		})
		if err != nil {
			return err
		}
		delegateIDs = append(delegateIDs, accountID)
	}
	err = storePropertyUint64(dbContext, record.PropertyLastAccountID,
		uint64(len(document.Delegates)))
	if err != nil {
		return err
	}

	active := delegateIDs
	if uint32(len(active)) > params.NumDelegates {
		active = active[:params.NumDelegates]
	}
	err = storeActiveDelegates(dbContext, active)
	if err != nil {
		return err
	}

	totalSupply, err := storeGenesisBalances(dbContext, params, document, genesisTime)
	if err != nil {
		return err
	}

	err = storeAssetRecord(dbContext, &record.AssetRecord{
		ID:               record.BaseAssetID,
		Symbol:           document.BaseSymbol,
		AssetName:        document.BaseName,
		IssuerID:         record.GenesisAccountID,
		Precision:        params.Precision,
		CurrentSupply:    totalSupply,
		MaximumSupply:    params.MaxShares,
		RegistrationDate: genesisTime,
		LastUpdate:       genesisTime,
	})
	if err != nil {
		return err
	}
	lastAssetID := uint64(0)
	for i := range document.MarketAssets {
		assetID := record.AssetID(i + 1)
		err = storeAssetRecord(dbContext, &record.AssetRecord{
			ID:               assetID,
			Symbol:           document.MarketAssets[i].Symbol,
			AssetName:        document.MarketAssets[i].AssetName,
			IssuerID:         record.MarketIssuerID,
			Precision:        document.MarketAssets[i].Precision,
			MaximumSupply:    params.MaxShares,
			RegistrationDate: genesisTime,
			LastUpdate:       genesisTime,
		})
		if err != nil {
			return err
		}
		lastAssetID = uint64(assetID)
	}
	err = storePropertyUint64(dbContext, record.PropertyLastAssetID, lastAssetID)
	if err != nil {
		return err
	}

	err = storePropertyUint64(dbContext, record.PropertyConfirmationRequirement,
		uint64(params.NumDelegates)*2+1)
	if err != nil {
		return err
	}
	err = storeProperty(dbContext, record.PropertyLastRandomSeedID,
		record.PackPropertyRipemd160(hashes.Ripemd160{}))
	if err != nil {
		return err
	}

	// The pre-genesis node anchors the fork tree. Block 1 links through it.
	err = storeForkData(dbContext, &forkData{
		IsKnown:    true,
		IsLinked:   true,
		IsIncluded: true,
		Validity:   validityValid,
	})
	if err != nil {
		return err
	}

	err = dbContext.Put(propertiesBucket.Key(propertyKey(record.PropertyHeadBlockID)),
		record.PackPropertyRipemd160(hashes.Ripemd160{}))
	if err != nil {
		return err
	}
	return storePropertyUint64(dbContext, record.PropertyHeadBlockNum, 0)
}

// storeGenesisBalances writes the initial and vesting balances, merging
// redundant grants to the same condition by summing. Returns the total
// granted, which becomes the base asset's initial supply.
func storeGenesisBalances(dbContext database.DataAccessor,
	params *chainparams.Params, document *GenesisDocument,
	genesisTime time.Time) (int64, error) {

	total := int64(0)
	store := func(condition record.WithdrawCondition, amount int64,
		originalAddress string) error {

		balanceID := condition.ID()
		existing, err := fetchBalanceRecord(dbContext, balanceID)
		if err != nil && !database.IsNotFoundError(err) {
			return err
		}
		balance := &record.BalanceRecord{
			Condition:  condition,
			Balance:    amount,
			LastUpdate: genesisTime,
			Snapshot: &record.SnapshotInfo{
				OriginalAddress: originalAddress,
				OriginalBalance: amount,
			},
		}
		if existing != nil {
			balance.Balance += existing.Balance
			balance.Snapshot.OriginalBalance += existing.Balance
		}
		total += amount
		return storeBalanceRecord(dbContext, balance)
	}

	for i := range document.Balances {
		grant := &document.Balances[i]
		owner, err := address.DecodeAny(grant.RawAddress, params.AddressPrefix)
		if err != nil {
			return 0, errors.Wrapf(err, "genesis balance %d", i)
		}
		err = store(record.WithdrawCondition{
			Type:    record.WithdrawSignature,
			AssetID: record.BaseAssetID,
			Owner:   owner.Digest(),
		}, grant.Balance, grant.RawAddress)
		if err != nil {
			return 0, err
		}
	}
	for i := range document.VestingBalances {
		grant := &document.VestingBalances[i]
		owner, err := address.DecodeAny(grant.RawAddress, params.AddressPrefix)
		if err != nil {
			return 0, errors.Wrapf(err, "genesis vesting balance %d", i)
		}
		err = store(record.WithdrawCondition{
			Type:            record.WithdrawVesting,
			AssetID:         record.BaseAssetID,
			Owner:           owner.Digest(),
			VestingStart:    time.Unix(grant.VestingStart, 0),
			VestingDuration: time.Duration(grant.VestingDuration) * time.Second,
		}, grant.Balance, grant.RawAddress)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
