package blockchain

import (
	"bytes"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// blocksPerTwoWeeks is the window over which collected fees are amortized
// into delegate pay.
func (chain *Blockchain) blocksPerTwoWeeks() int64 {
	return 14 * int64(chain.params.BlocksPerDay)
}

func serializeAccountIDList(ids []record.AccountID) ([]byte, error) {
	return serializeToBytes(func(w io.Writer) error {
		err := record.WriteVarInt(w, uint64(len(ids)))
		if err != nil {
			return err
		}
		for _, id := range ids {
			err = record.WriteElement(w, id)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func deserializeAccountIDList(serialized []byte) ([]record.AccountID, error) {
	reader := bytes.NewReader(serialized)
	count, err := record.ReadVarInt(reader)
	if err != nil {
		return nil, err
	}
	if count > 1<<16 {
		return nil, errors.Errorf("account id list is too long [%d]", count)
	}
	ids := make([]record.AccountID, count)
	for i := uint64(0); i < count; i++ {
		err = record.ReadElement(reader, &ids[i])
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// activeDelegates returns the current round's delegate schedule.
func activeDelegates(dbContext database.DataAccessor) ([]record.AccountID, error) {
	serialized, err := fetchProperty(dbContext, record.PropertyActiveDelegateListID)
	if err != nil {
		return nil, err
	}
	return deserializeAccountIDList(serialized)
}

func storeActiveDelegates(dbContext database.DataAccessor, ids []record.AccountID) error {
	serialized, err := serializeAccountIDList(ids)
	if err != nil {
		return err
	}
	return storeProperty(dbContext, record.PropertyActiveDelegateListID, serialized)
}

// delegateForSlot maps a slot timestamp to the delegate scheduled to
// produce it.
func (chain *Blockchain) delegateForSlot(dbContext database.DataAccessor,
	slotTime time.Time) (record.AccountID, error) {

	active, err := activeDelegates(dbContext)
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, errors.New("the active delegate list is empty")
	}
	slotNumber := uint64(slotTime.Unix()) / uint64(chain.params.BlockIntervalSeconds())
	return active[slotNumber%uint64(len(active))], nil
}

// NextRoundActiveDelegates returns the vote-ordered set that will become
// active at the next shuffle.
func (chain *Blockchain) NextRoundActiveDelegates() ([]record.AccountID, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return delegatesByVote(chain.db, int(chain.params.NumDelegates))
}

// DelegatesByVote returns a page of delegate ids ordered by net votes
// descending.
func (chain *Blockchain) DelegatesByVote(first, count int) ([]record.AccountID, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	ids, err := delegatesByVote(chain.db, first+count)
	if err != nil {
		return nil, err
	}
	if first >= len(ids) {
		return nil, nil
	}
	return ids[first:], nil
}

// shuffleDelegates permutes the vote-ordered top set deterministically from
// the chain's random seed. Each hash of the seed drives up to four swaps,
// and the position after each group of four is left in place.
func shuffleDelegates(delegates []record.AccountID, seed hashes.Ripemd160) {
	if len(delegates) == 0 {
		return
	}
	n := uint32(len(delegates))
	rolling := hashes.HashSha256(seed[:])
	for i := uint32(0); i < n; i++ {
		for x := 0; x < 4 && i < n; x, i = x+1, i+1 {
			j := uint32(rolling[x]) % n
			delegates[i], delegates[j] = delegates[j], delegates[i]
		}
		rolling = hashes.HashSha256(rolling[:])
	}
}

// updateActiveDelegates recomputes and shuffles the active set. Runs every
// NumDelegates blocks.
func (chain *Blockchain) updateActiveDelegates(dbContext database.DataAccessor,
	blockNum uint32, seed hashes.Ripemd160) error {

	if blockNum%chain.params.NumDelegates != 0 {
		return nil
	}
	top, err := delegatesByVote(dbContext, int(chain.params.NumDelegates))
	if err != nil {
		return err
	}
	shuffleDelegates(top, seed)
	return storeActiveDelegates(dbContext, top)
}

// updateRandomSeed folds the revealed production secret into the chain's
// randomness and returns the new seed.
func updateRandomSeed(dbContext database.DataAccessor,
	previousSecret hashes.Ripemd160) (hashes.Ripemd160, error) {

	var seed hashes.Ripemd160
	serialized, err := fetchProperty(dbContext, record.PropertyLastRandomSeedID)
	if err == nil {
		seed, err = record.UnpackPropertyRipemd160(serialized)
		if err != nil {
			return hashes.Ripemd160{}, err
		}
	} else if !database.IsNotFoundError(err) {
		return hashes.Ripemd160{}, err
	}

	newSeed := hashes.HashID(append(previousSecret.CloneBytes(), seed[:]...))
	err = storeProperty(dbContext, record.PropertyLastRandomSeedID,
		record.PackPropertyRipemd160(newSeed))
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	return newSeed, nil
}

func fetchRandomSeed(dbContext database.DataAccessor) (hashes.Ripemd160, error) {
	serialized, err := fetchProperty(dbContext, record.PropertyLastRandomSeedID)
	if database.IsNotFoundError(err) {
		return hashes.Ripemd160{}, nil
	}
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	return record.UnpackPropertyRipemd160(serialized)
}

// recordProduction updates the producing delegate's counters and secret
// commitment, charges every delegate whose slot between the head and this
// block went unfilled, and adjusts the confirmation requirement. The changes
// are made on producer in place and stored.
func (chain *Blockchain) recordProduction(dbContext database.DataAccessor,
	producer *record.AccountRecord, header *record.BlockHeader) error {

	interval := chain.params.BlockInterval
	missed := uint32(0)
	for slot := chain.headTimestamp.Add(interval); slot.Before(header.Timestamp); slot = slot.Add(interval) {
		delegateID, err := chain.delegateForSlot(dbContext, slot)
		if err != nil {
			return err
		}
		delegate, err := fetchAccountRecord(dbContext, delegateID)
		if err != nil {
			return err
		}
		delegate.Delegate.BlocksMissed++
		delegate.LastUpdate = header.Timestamp
		err = storeAccountRecord(dbContext, delegate)
		if err != nil {
			return err
		}
		if chain.trackStats {
			err = storeSlotRecord(dbContext, &record.SlotRecord{
				Timestamp:  slot,
				DelegateID: delegateID,
			})
			if err != nil {
				return err
			}
		}
		missed++
		// The producer's copy may have been touched by a missed slot of
		// its own schedule position.
		if delegateID == producer.ID {
			producer.Delegate = delegate.Delegate
		}
	}

	producer.Delegate.BlocksProduced++
	producer.Delegate.LastBlockNumProduced = header.BlockNum
	producer.Delegate.NextSecretHash = header.NextSecretHash
	producer.LastUpdate = header.Timestamp
	err := storeAccountRecord(dbContext, producer)
	if err != nil {
		return err
	}
	if chain.trackStats {
		err = storeSlotRecord(dbContext, &record.SlotRecord{
			Timestamp:  header.Timestamp,
			DelegateID: producer.ID,
			BlockID:    header.ID(),
		})
		if err != nil {
			return err
		}
	}

	return chain.adjustConfirmationRequirement(dbContext, missed)
}

// adjustConfirmationRequirement grows the requirement by two per missed
// slot and shrinks it by one for the produced block, clamped to
// [1, 3*NumDelegates].
func (chain *Blockchain) adjustConfirmationRequirement(dbContext database.DataAccessor,
	missed uint32) error {

	requirement, err := fetchPropertyUint64(dbContext, record.PropertyConfirmationRequirement)
	if database.IsNotFoundError(err) {
		requirement = uint64(chain.params.NumDelegates)*2 + 1
	} else if err != nil {
		return err
	}
	requirement += uint64(missed) * 2
	if requirement > 0 {
		requirement--
	}
	maxRequirement := uint64(chain.params.NumDelegates) * 3
	if requirement > maxRequirement {
		requirement = maxRequirement
	}
	if requirement < 1 {
		requirement = 1
	}
	return storePropertyUint64(dbContext, record.PropertyConfirmationRequirement, requirement)
}

// payDelegate issues the producer's share of the per-block pay allowance
// into supply and amortizes collected fees into the paycheck. The pay
// rate decides how much of each half is kept; the refused fee portion is
// destroyed from supply. Returns (issued, collected, destroyed).
func (chain *Blockchain) payDelegate(dbContext database.DataAccessor,
	producer *record.AccountRecord, timestamp time.Time) (int64, int64, int64, error) {

	baseAsset, err := fetchAssetRecord(dbContext, record.BaseAssetID)
	if err != nil {
		return 0, 0, 0, err
	}
	payRate := int64(producer.Delegate.PayRate)
	issued := chain.params.MaxDelegatePayPerBlock * payRate / 100
	baseAsset.CurrentSupply += issued

	maxCollected := baseAsset.CollectedFees / chain.blocksPerTwoWeeks()
	collected := maxCollected * payRate / 100
	destroyed := maxCollected - collected
	baseAsset.CollectedFees -= maxCollected
	baseAsset.CurrentSupply -= destroyed
	baseAsset.LastUpdate = timestamp
	err = storeAssetRecord(dbContext, baseAsset)
	if err != nil {
		return 0, 0, 0, err
	}

	paycheck := issued + collected
	producer.Delegate.PayBalance += paycheck
	producer.Delegate.TotalPaid += paycheck
	producer.Delegate.VotesFor += paycheck
	err = storeAccountRecord(dbContext, producer)
	if err != nil {
		return 0, 0, 0, err
	}
	return issued, collected, destroyed, nil
}

// DelegateParticipation returns the percentage of slots filled over the
// last two delegate rounds ending at the head.
func (chain *Blockchain) DelegateParticipation() (float64, error) {
	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()

	if chain.headNum == 0 {
		return 0, nil
	}
	window := chain.params.NumDelegates * 2
	firstNum := uint32(1)
	if chain.headNum > window {
		firstNum = chain.headNum - window + 1
	}
	firstID, err := fetchMainChainBlockID(chain.db, firstNum)
	if err != nil {
		return 0, err
	}
	firstRecord, err := fetchBlockRecord(chain.db, firstID)
	if err != nil {
		return 0, err
	}

	produced := int64(chain.headNum - firstNum + 1)
	elapsed := chain.headTimestamp.Unix() - firstRecord.Header.Timestamp.Unix()
	expected := elapsed/chain.params.BlockIntervalSeconds() + 1
	if expected < produced {
		expected = produced
	}
	return 100 * float64(produced) / float64(expected), nil
}

// MedianDelegatePrice returns the median of the active delegates' feeds for
// quote priced in base, considering only feeds younger than a day. Nil when
// fewer than MinFeeds delegates have a current feed.
func (chain *Blockchain) MedianDelegatePrice(quoteAssetID,
	baseAssetID record.AssetID) (*record.Price, error) {

	chain.stateLock.RLock()
	defer chain.stateLock.RUnlock()
	return medianDelegatePrice(chain.db, chain.params.MinFeeds, quoteAssetID,
		baseAssetID, chain.headTimestamp)
}

const feedMaxAge = 24 * time.Hour

func medianDelegatePrice(dbContext database.DataAccessor, minFeeds int,
	quoteAssetID, baseAssetID record.AssetID, now time.Time) (*record.Price, error) {

	active, err := activeDelegates(dbContext)
	if err != nil {
		return nil, err
	}
	activeSet := make(map[record.AccountID]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}

	var prices []record.Price
	err = forEachFeedForAsset(dbContext, quoteAssetID, func(feed *record.FeedRecord) error {
		if _, ok := activeSet[feed.Index.DelegateID]; !ok {
			return nil
		}
		if !feed.IsActive(now, feedMaxAge) {
			return nil
		}
		if feed.Price.BaseAssetID != baseAssetID {
			return nil
		}
		prices = append(prices, feed.Price)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(prices) < minFeeds {
		return nil, nil
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Ratio < prices[j].Ratio
	})
	median := prices[len(prices)/2]
	return &median, nil
}
