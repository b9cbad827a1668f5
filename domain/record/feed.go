package record

import (
	"io"
	"time"
)

// FeedIndex keys a price feed by the asset being priced and the delegate
// publishing the feed.
type FeedIndex struct {
	QuoteAssetID AssetID
	DelegateID   AccountID
}

// FeedRecord is one delegate's published price for a market issued asset.
// The median of the active delegates' feeds is the market's reference
// price.
type FeedRecord struct {
	Index      FeedIndex
	Price      Price
	LastUpdate time.Time
}

// IsActive reports whether the feed is recent enough, relative to now, to
// count toward the median.
func (f *FeedRecord) IsActive(now time.Time, maxAge time.Duration) bool {
	return now.Sub(f.LastUpdate) <= maxAge
}

// Serialize encodes the feed record to w.
func (f *FeedRecord) Serialize(w io.Writer) error {
	err := WriteElements(w, f.Index.QuoteAssetID, f.Index.DelegateID)
	if err != nil {
		return err
	}
	err = f.Price.Serialize(w)
	if err != nil {
		return err
	}
	return WriteTimestamp(w, f.LastUpdate)
}

// Deserialize decodes a feed record from r into the receiver.
func (f *FeedRecord) Deserialize(r io.Reader) error {
	err := ReadElements(r, &f.Index.QuoteAssetID, &f.Index.DelegateID)
	if err != nil {
		return err
	}
	err = f.Price.Deserialize(r)
	if err != nil {
		return err
	}
	f.LastUpdate, err = ReadTimestamp(r)
	return err
}
