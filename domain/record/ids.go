package record

// AccountID identifies an account record. Ids are assigned sequentially at
// registration time; id 0 is a reserved sentinel owned by no key.
type AccountID int32

// Reserved account ids. Market issued assets carry MarketIssuerID as their
// issuer instead of a registered account.
const (
	NullAccountID    AccountID = -1
	MarketIssuerID   AccountID = -2
	GenesisAccountID AccountID = 0
)

// AssetID identifies an asset record. The base asset is always id 0.
type AssetID int32

// BaseAssetID is the id of the base asset every fee and delegate payment is
// denominated in.
const BaseAssetID AssetID = 0

// SlateID identifies a delegate slate. It is derived from the slate content,
// see SlateRecord.ComputeID.
type SlateID uint64
