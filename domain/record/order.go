package record

import (
	"io"
	"time"

	"github.com/xtsnet/xtsd/util/hashes"
)

// OrderType tags the order book an entry lives in.
type OrderType uint8

// Order book entry types.
const (
	BidOrder OrderType = iota + 1
	AskOrder
	RelativeBidOrder
	RelativeAskOrder
	ShortOrder
	CoverOrder
)

// Price is a fixed point exchange rate between a quote and a base asset.
// Ratio carries RatioPrecision subunits per whole unit of quote per base.
type Price struct {
	Ratio        int64
	QuoteAssetID AssetID
	BaseAssetID  AssetID
}

// RatioPrecision is the fixed point scale of Price.Ratio.
const RatioPrecision int64 = 100000000

// Compare orders prices within a single market. It returns -1, 0 or 1 as p
// is cheaper than, equal to or dearer than other.
func (p Price) Compare(other Price) int {
	switch {
	case p.Ratio < other.Ratio:
		return -1
	case p.Ratio > other.Ratio:
		return 1
	default:
		return 0
	}
}

// Serialize encodes the price to w.
func (p *Price) Serialize(w io.Writer) error {
	return WriteElements(w, p.Ratio, p.QuoteAssetID, p.BaseAssetID)
}

// Deserialize decodes a price from r into the receiver.
func (p *Price) Deserialize(r io.Reader) error {
	return ReadElements(r, &p.Ratio, &p.QuoteAssetID, &p.BaseAssetID)
}

// MarketIndex keys an order book entry by its price and the address that
// owns it. Entries in one book sort by price first, so the best priced
// orders are at the edges of a range scan.
type MarketIndex struct {
	Price Price
	Owner hashes.Ripemd160
}

// Serialize encodes the market index to w.
func (m *MarketIndex) Serialize(w io.Writer) error {
	err := m.Price.Serialize(w)
	if err != nil {
		return err
	}
	return WriteElement(w, m.Owner)
}

// Deserialize decodes a market index from r into the receiver.
func (m *MarketIndex) Deserialize(r io.Reader) error {
	err := m.Price.Deserialize(r)
	if err != nil {
		return err
	}
	return ReadElement(r, &m.Owner)
}

// OrderRecord is a bid, ask, relative bid, relative ask or short entry in an
// order book. The balance is denominated in the book's funding asset: the
// quote asset for bids and relative bids, the base asset for asks, relative
// asks and shorts.
type OrderRecord struct {
	Type    OrderType
	Index   MarketIndex
	Balance int64

	// SlateID is the delegate slate the order's balance votes with.
	SlateID SlateID

	// LimitPrice bounds execution for relative orders and shorts; nil when
	// unbounded.
	LimitPrice *Price

	LastUpdate time.Time
}

// Serialize encodes the order record to w.
func (o *OrderRecord) Serialize(w io.Writer) error {
	err := WriteElement(w, uint8(o.Type))
	if err != nil {
		return err
	}
	err = o.Index.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteElements(w, o.Balance, o.SlateID)
	if err != nil {
		return err
	}
	err = WriteElement(w, o.LimitPrice != nil)
	if err != nil {
		return err
	}
	if o.LimitPrice != nil {
		err = o.LimitPrice.Serialize(w)
		if err != nil {
			return err
		}
	}
	return WriteTimestamp(w, o.LastUpdate)
}

// Deserialize decodes an order record from r into the receiver.
func (o *OrderRecord) Deserialize(r io.Reader) error {
	var orderType uint8
	err := ReadElement(r, &orderType)
	if err != nil {
		return err
	}
	o.Type = OrderType(orderType)
	err = o.Index.Deserialize(r)
	if err != nil {
		return err
	}
	err = ReadElements(r, &o.Balance, &o.SlateID)
	if err != nil {
		return err
	}
	var hasLimit bool
	err = ReadElement(r, &hasLimit)
	if err != nil {
		return err
	}
	if hasLimit {
		o.LimitPrice = &Price{}
		err = o.LimitPrice.Deserialize(r)
		if err != nil {
			return err
		}
	} else {
		o.LimitPrice = nil
	}
	o.LastUpdate, err = ReadTimestamp(r)
	return err
}

// CollateralRecord is a margin position: base asset collateral backing a
// debt in a market issued quote asset. Positions are keyed by the market
// index of the call price.
type CollateralRecord struct {
	Index MarketIndex

	// CollateralBalance is the base asset amount locked as collateral.
	CollateralBalance int64

	// PayoffBalance is the quote asset debt the position owes.
	PayoffBalance int64

	// InterestRate is the annual rate agreed when the short matched.
	InterestRate Price

	// Expiration is when the position's collateral may be called.
	Expiration time.Time

	// SlateID is the delegate slate the collateral votes with.
	SlateID SlateID
}

// Serialize encodes the collateral record to w.
func (c *CollateralRecord) Serialize(w io.Writer) error {
	err := c.Index.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteElements(w, c.CollateralBalance, c.PayoffBalance)
	if err != nil {
		return err
	}
	err = c.InterestRate.Serialize(w)
	if err != nil {
		return err
	}
	err = WriteTimestamp(w, c.Expiration)
	if err != nil {
		return err
	}
	return WriteElement(w, c.SlateID)
}

// Deserialize decodes a collateral record from r into the receiver.
func (c *CollateralRecord) Deserialize(r io.Reader) error {
	err := c.Index.Deserialize(r)
	if err != nil {
		return err
	}
	err = ReadElements(r, &c.CollateralBalance, &c.PayoffBalance)
	if err != nil {
		return err
	}
	err = c.InterestRate.Deserialize(r)
	if err != nil {
		return err
	}
	c.Expiration, err = ReadTimestamp(r)
	if err != nil {
		return err
	}
	return ReadElement(r, &c.SlateID)
}
