package blockchain

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/xtsnet/xtsd/domain/chainerrors"
	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// forkValidity is the tri-state validity of a fork node. A node stays
// unknown until its block has been fully applied once.
type forkValidity uint8

const (
	validityUnknown forkValidity = iota
	validityValid
	validityInvalid
)

// forkData is one node of the fork tree. A node exists for every block id
// the chain has ever heard of, including parents referenced by orphans
// whose bodies never arrived. NextBlocks points at every child that names
// this node as its previous block.
type forkData struct {
	BlockID       hashes.Ripemd160
	Previous      hashes.Ripemd160
	BlockNum      uint32
	NextBlocks    []hashes.Ripemd160
	IsKnown       bool
	IsLinked      bool
	IsIncluded    bool
	Validity      forkValidity
	InvalidReason string
}

// isValid reports whether the node has been applied successfully at least
// once. An unknown node is not valid.
func (f *forkData) isValid() bool {
	return f.Validity == validityValid
}

func (f *forkData) isInvalid() bool {
	return f.Validity == validityInvalid
}

// canLink reports whether children of this node may be marked linked. A
// node extends the tree for its descendants only when its own body is
// known and its ancestry reaches stored history.
func (f *forkData) canLink() bool {
	return f.IsKnown && f.IsLinked
}

func (f *forkData) addNextBlock(childID hashes.Ripemd160) bool {
	for _, existing := range f.NextBlocks {
		if existing == childID {
			return false
		}
	}
	f.NextBlocks = append(f.NextBlocks, childID)
	return true
}

const maxNextBlocks = 1 << 16

func (f *forkData) serialize(w io.Writer) error {
	err := record.WriteElements(w, f.BlockID, f.Previous, f.BlockNum)
	if err != nil {
		return err
	}
	err = record.WriteVarInt(w, uint64(len(f.NextBlocks)))
	if err != nil {
		return err
	}
	for i := range f.NextBlocks {
		err = record.WriteElement(w, f.NextBlocks[i])
		if err != nil {
			return err
		}
	}
	err = record.WriteElements(w, f.IsKnown, f.IsLinked, f.IsIncluded)
	if err != nil {
		return err
	}
	err = record.WriteElement(w, uint8(f.Validity))
	if err != nil {
		return err
	}
	return record.WriteVarString(w, f.InvalidReason)
}

func (f *forkData) deserialize(r io.Reader) error {
	err := record.ReadElements(r, &f.BlockID, &f.Previous, &f.BlockNum)
	if err != nil {
		return err
	}
	count, err := record.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxNextBlocks {
		return errors.Errorf("fork node has too many children [%d]", count)
	}
	f.NextBlocks = make([]hashes.Ripemd160, count)
	for i := uint64(0); i < count; i++ {
		err = record.ReadElement(r, &f.NextBlocks[i])
		if err != nil {
			return err
		}
	}
	err = record.ReadElements(r, &f.IsKnown, &f.IsLinked, &f.IsIncluded)
	if err != nil {
		return err
	}
	var validity uint8
	err = record.ReadElement(r, &validity)
	if err != nil {
		return err
	}
	f.Validity = forkValidity(validity)
	f.InvalidReason, err = record.ReadVarString(r)
	return err
}

func fetchForkData(dbContext database.DataAccessor, blockID hashes.Ripemd160) (*forkData, error) {
	serialized, err := dbContext.Get(forkNodesBucket.Key(blockID[:]))
	if err != nil {
		return nil, err
	}
	node := &forkData{}
	err = node.deserialize(bytes.NewReader(serialized))
	if err != nil {
		return nil, err
	}
	return node, nil
}

func hasForkData(dbContext database.DataAccessor, blockID hashes.Ripemd160) (bool, error) {
	return dbContext.Has(forkNodesBucket.Key(blockID[:]))
}

func storeForkData(dbContext database.DataAccessor, node *forkData) error {
	serialized, err := serializeToBytes(node.serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(forkNodesBucket.Key(node.BlockID[:]), serialized)
}

// indexNewBlock records a newly received block in the fork tree and
// propagates linkage to any descendants that were waiting for it. It
// returns the id of the deepest linked descendant reachable from the new
// block, which is the best candidate to extend the chain with, or the new
// block's own id when nothing deeper is linked through it.
//
// The parent node is created as an unknown placeholder when the block
// arrives before its parent. Linkage then flows down once the parent's
// body shows up and fills the placeholder in.
func indexNewBlock(dbContext database.DataAccessor, block *record.Block,
	parentIncluded bool) (hashes.Ripemd160, error) {

	blockID := block.Header.ID()

	node, err := fetchForkData(dbContext, blockID)
	if database.IsNotFoundError(err) {
		node = &forkData{
			BlockID:  blockID,
			Previous: block.Header.Previous,
			BlockNum: block.Header.BlockNum,
		}
	} else if err != nil {
		return hashes.Ripemd160{}, err
	}
	if node.IsKnown {
		return hashes.Ripemd160{}, errors.Wrapf(chainerrors.ErrDuplicateBlock,
			"block %s is already indexed", blockID)
	}
	node.IsKnown = true
	node.Previous = block.Header.Previous
	node.BlockNum = block.Header.BlockNum

	parent, err := fetchForkData(dbContext, block.Header.Previous)
	if database.IsNotFoundError(err) {
		if parentIncluded {
			// The parent predates the fork tree. Genesis and blocks
			// restored by a reindex land here.
			parent = &forkData{
				BlockID:    block.Header.Previous,
				BlockNum:   block.Header.BlockNum - 1,
				IsKnown:    true,
				IsLinked:   true,
				IsIncluded: true,
				Validity:   validityValid,
			}
		} else {
			parent = &forkData{
				BlockID:  block.Header.Previous,
				BlockNum: block.Header.BlockNum - 1,
			}
		}
	} else if err != nil {
		return hashes.Ripemd160{}, err
	}
	parent.addNextBlock(blockID)

	node.IsLinked = parent.canLink()
	if parent.isInvalid() {
		node.Validity = validityInvalid
		node.InvalidReason = chainerrors.Reason(
			chainerrors.NewInvalidAncestor(parent.InvalidReason))
	}

	err = storeForkData(dbContext, parent)
	if err != nil {
		return hashes.Ripemd160{}, err
	}
	err = storeForkData(dbContext, node)
	if err != nil {
		return hashes.Ripemd160{}, err
	}

	if !node.IsLinked {
		return blockID, nil
	}
	return propagateLinkage(dbContext, node)
}

// propagateLinkage walks the subtree under a freshly linked node marking
// every known descendant linked, and inheriting invalidity downward. It
// returns the id of the linked descendant with the greatest block number.
func propagateLinkage(dbContext database.DataAccessor, root *forkData) (hashes.Ripemd160, error) {
	deepestID := root.BlockID
	deepestNum := root.BlockNum

	queue := append([]hashes.Ripemd160{}, root.NextBlocks...)
	parentByChild := make(map[hashes.Ripemd160]*forkData)
	for _, childID := range root.NextBlocks {
		parentByChild[childID] = root
	}
	for len(queue) > 0 {
		childID := queue[0]
		queue = queue[1:]
		parent := parentByChild[childID]

		child, err := fetchForkData(dbContext, childID)
		if err != nil {
			return hashes.Ripemd160{}, err
		}
		if !child.IsKnown {
			continue
		}
		changed := false
		if !child.IsLinked && parent.canLink() {
			child.IsLinked = true
			changed = true
		}
		if parent.isInvalid() && !child.isInvalid() {
			child.Validity = validityInvalid
			child.InvalidReason = chainerrors.Reason(
				chainerrors.NewInvalidAncestor(parent.InvalidReason))
			changed = true
		}
		if changed {
			err = storeForkData(dbContext, child)
			if err != nil {
				return hashes.Ripemd160{}, err
			}
		}
		if child.IsLinked && !child.isInvalid() && child.BlockNum > deepestNum {
			deepestID = child.BlockID
			deepestNum = child.BlockNum
		}
		for _, grandchildID := range child.NextBlocks {
			parentByChild[grandchildID] = child
			queue = append(queue, grandchildID)
		}
	}
	return deepestID, nil
}

// markForkValid pins a successful application on the node.
func markForkValid(dbContext database.DataAccessor, blockID hashes.Ripemd160) error {
	node, err := fetchForkData(dbContext, blockID)
	if err != nil {
		return err
	}
	node.Validity = validityValid
	return storeForkData(dbContext, node)
}

// markForkIncluded flips the inclusion bit that tracks main chain
// membership.
func markForkIncluded(dbContext database.DataAccessor, blockID hashes.Ripemd160, included bool) error {
	node, err := fetchForkData(dbContext, blockID)
	if err != nil {
		return err
	}
	node.IsIncluded = included
	return storeForkData(dbContext, node)
}

// markForkInvalid pins a terminal rule violation on the node and inherits
// it down to every known descendant.
func markForkInvalid(dbContext database.DataAccessor, blockID hashes.Ripemd160, reason string) error {
	node, err := fetchForkData(dbContext, blockID)
	if err != nil {
		return err
	}
	node.Validity = validityInvalid
	node.InvalidReason = reason
	err = storeForkData(dbContext, node)
	if err != nil {
		return err
	}
	_, err = propagateLinkage(dbContext, node)
	return err
}

// forkWalkToIncluded collects the ids from blockID back to, but not
// including, the nearest included ancestor. The result is ordered from the
// ancestor's child down to blockID, ready to apply in sequence.
func forkWalkToIncluded(dbContext database.DataAccessor, blockID hashes.Ripemd160) (
	ancestorID hashes.Ripemd160, path []hashes.Ripemd160, err error) {

	currentID := blockID
	for {
		node, err := fetchForkData(dbContext, currentID)
		if err != nil {
			return hashes.Ripemd160{}, nil, err
		}
		if node.IsIncluded {
			reverse(path)
			return currentID, path, nil
		}
		if node.isInvalid() {
			return hashes.Ripemd160{}, nil, errors.Wrapf(
				chainerrors.NewInvalidAncestor(node.InvalidReason),
				"block %s is on an invalid fork", blockID)
		}
		if !node.IsKnown || !node.IsLinked {
			return hashes.Ripemd160{}, nil, errors.Wrapf(chainerrors.ErrUnknownBlock,
				"fork of block %s does not reach stored history", blockID)
		}
		path = append(path, currentID)
		currentID = node.Previous
	}
}

func reverse(ids []hashes.Ripemd160) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// ForkBranch lists, for diagnostic listings, the competing block ids known
// at one block number.
type ForkBranch struct {
	BlockNum uint32
	BlockIDs []hashes.Ripemd160
}

// forksList scans the fork tree for every block number that carries more
// than one node with a known body, which is where the chain has seen
// competing blocks. Placeholder nodes are not counted.
func forksList(dbContext database.DataAccessor) ([]ForkBranch, error) {
	cursor, err := dbContext.Cursor(forkNodesBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	byNum := make(map[uint32][]hashes.Ripemd160)
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		node := &forkData{}
		err = node.deserialize(bytes.NewReader(serialized))
		if err != nil {
			return nil, err
		}
		if !node.IsKnown {
			continue
		}
		byNum[node.BlockNum] = append(byNum[node.BlockNum], node.BlockID)
	}

	branches := make([]ForkBranch, 0)
	for blockNum, ids := range byNum {
		if len(ids) < 2 {
			continue
		}
		branches = append(branches, ForkBranch{BlockNum: blockNum, BlockIDs: ids})
	}
	sortForkBranches(branches)
	return branches, nil
}

func sortForkBranches(branches []ForkBranch) {
	for i := 1; i < len(branches); i++ {
		for j := i; j > 0 && branches[j].BlockNum < branches[j-1].BlockNum; j-- {
			branches[j], branches[j-1] = branches[j-1], branches[j]
		}
	}
}
