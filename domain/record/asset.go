package record

import (
	"io"
	"time"
)

// AssetFlag bits gate what an asset's issuer may do and how the asset
// behaves in markets.
type AssetFlag uint32

// Asset permission and behavior flags.
const (
	// AssetFlagRestricted limits holding the asset to whitelisted accounts.
	AssetFlagRestricted AssetFlag = 1 << iota

	// AssetFlagRetractable lets the issuer move balances without the
	// owner's signature.
	AssetFlagRetractable

	// AssetFlagMarketHalted suspends matching in markets quoted in this
	// asset.
	AssetFlagMarketHalted

	// AssetFlagSupplyUnlimited lets the issuer raise the maximum supply.
	AssetFlagSupplyUnlimited
)

// AssetRecord describes an asset. Market issued assets carry MarketIssuerID
// as their issuer and derive their supply from short positions instead of
// issuance.
type AssetRecord struct {
	ID        AssetID
	Symbol    string
	AssetName string
	IssuerID  AccountID

	// Precision is the number of subunits per whole unit.
	Precision int64

	// CurrentSupply is the circulating supply in subunits.
	CurrentSupply int64

	// MaximumSupply caps CurrentSupply.
	MaximumSupply int64

	// CollectedFees are fees accumulated in this asset, awaiting delegate
	// pay (base asset) or issuer claim.
	CollectedFees int64

	Flags AssetFlag

	RegistrationDate time.Time
	LastUpdate       time.Time
}

// IsMarketIssued reports whether the asset's supply is driven by
// collateralized shorts rather than issuance.
func (a *AssetRecord) IsMarketIssued() bool {
	return a.IssuerID == MarketIssuerID
}

// HasFlag reports whether the given flag bit is set.
func (a *AssetRecord) HasFlag(flag AssetFlag) bool {
	return a.Flags&flag != 0
}

// Serialize encodes the asset record to w.
func (a *AssetRecord) Serialize(w io.Writer) error {
	err := WriteElement(w, a.ID)
	if err != nil {
		return err
	}
	err = WriteVarString(w, a.Symbol)
	if err != nil {
		return err
	}
	err = WriteVarString(w, a.AssetName)
	if err != nil {
		return err
	}
	err = WriteElements(w, a.IssuerID, a.Precision, a.CurrentSupply,
		a.MaximumSupply, a.CollectedFees, uint32(a.Flags))
	if err != nil {
		return err
	}
	err = WriteTimestamp(w, a.RegistrationDate)
	if err != nil {
		return err
	}
	return WriteTimestamp(w, a.LastUpdate)
}

// Deserialize decodes an asset record from r into the receiver.
func (a *AssetRecord) Deserialize(r io.Reader) error {
	err := ReadElement(r, &a.ID)
	if err != nil {
		return err
	}
	a.Symbol, err = ReadVarString(r)
	if err != nil {
		return err
	}
	a.AssetName, err = ReadVarString(r)
	if err != nil {
		return err
	}
	var flags uint32
	err = ReadElements(r, &a.IssuerID, &a.Precision, &a.CurrentSupply,
		&a.MaximumSupply, &a.CollectedFees, &flags)
	if err != nil {
		return err
	}
	a.Flags = AssetFlag(flags)
	a.RegistrationDate, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	a.LastUpdate, err = ReadTimestamp(r)
	return err
}
