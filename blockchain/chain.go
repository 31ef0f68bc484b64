package blockchain

import (
	"bytes"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/store"
)

// maxAncestorDistance caps any backward walk through the chain, independent
// of the caller supplied hop limit.
const maxAncestorDistance = 1 << 20

const blockCacheSize = 2048

var heaviestKey = common.Bytes("chain/heaviest")

// ErrParentNotFound is returned by AddBlock for orphan blocks. Callers may
// park such blocks and retry once the parent arrives.
var ErrParentNotFound = errors.New("parent block not found")

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "blockchain"})

// ExtendedBlock is a block decorated with the chain's bookkeeping.
type ExtendedBlock struct {
	*core.Block
	Children         []common.Hash
	CumulativeWeight uint64
}

// Chain is the hash keyed tree of blocks rooted at genesis. The heaviest
// block is the one with maximal cumulative weight from genesis, ties broken
// by lexicographic hash order.
type Chain struct {
	store store.Store

	ChainID string
	root    common.Hash

	heaviest common.Hash

	cache *lru.Cache

	mu sync.RWMutex
}

// NewChain creates a new Chain instance rooted at the given genesis block,
// adding the genesis block to the store if it is not already present.
func NewChain(chainID string, kv store.Store, genesis *core.Block) *Chain {
	cache, err := lru.New(blockCacheSize)
	if err != nil {
		logger.Panic(err)
	}
	chain := &Chain{
		ChainID: chainID,
		store:   kv,
		cache:   cache,
	}

	rootBlock, err := chain.FindBlock(genesis.Hash)
	if err != nil {
		logger.WithFields(log.Fields{"hash": genesis.Hash.Hex()}).Info("Genesis block not found in chain, adding block")
		rootBlock, err = chain.AddBlock(genesis)
		if err != nil {
			logger.Panic(err)
		}
	}
	chain.root = rootBlock.Hash

	if err := kv.Get(heaviestKey, &chain.heaviest); err != nil {
		chain.heaviest = rootBlock.Hash
	}
	return chain
}

// Root returns the root block.
func (ch *Chain) Root() *ExtendedBlock {
	ret, _ := ch.FindBlock(ch.root)
	return ret
}

// AddBlock adds a finalized block to the chain and the underlying store. The
// parent must already be present unless the block is genesis.
func (ch *Chain) AddBlock(block *core.Block) (*ExtendedBlock, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if block.ChainID != ch.ChainID {
		return nil, errors.Errorf("ChainID mismatch: block.ChainID(%s) != %s", block.ChainID, ch.ChainID)
	}
	if block.Hash.IsEmpty() {
		return nil, errors.New("cannot add a block without a finalized hash")
	}

	if _, err := ch.findBlock(block.Hash); err == nil {
		return nil, errors.Errorf("block has already been added: %v", block.Hash.Hex())
	}

	extendedBlock := &ExtendedBlock{Block: block, Children: []common.Hash{}}

	if block.IsGenesis() {
		extendedBlock.CumulativeWeight = block.Weight
	} else {
		parentBlock, err := ch.findBlock(block.Parent)
		if err != nil {
			return nil, errors.Wrapf(ErrParentNotFound, "%v", block.Parent.Hex())
		}
		extendedBlock.CumulativeWeight = parentBlock.CumulativeWeight + block.Weight

		parentBlock.Children = append(parentBlock.Children, block.Hash)
		if err := ch.saveBlock(parentBlock); err != nil {
			logger.Panic(err)
		}
	}

	if err := ch.saveBlock(extendedBlock); err != nil {
		logger.Panic(err)
	}
	ch.addBlockByHeightIndex(extendedBlock.Height, extendedBlock.Hash)

	ch.reconsiderHeaviest(extendedBlock)

	return extendedBlock, nil
}

// reconsiderHeaviest promotes candidate to the heaviest block if it carries
// more cumulative weight, or equal weight with a lexicographically smaller
// hash. Ties must never cause oscillation.
func (ch *Chain) reconsiderHeaviest(candidate *ExtendedBlock) {
	current, err := ch.findBlock(ch.heaviest)
	if err != nil {
		ch.setHeaviest(candidate.Hash)
		return
	}
	if heavier(candidate, current) {
		ch.setHeaviest(candidate.Hash)
	}
}

func heavier(a, b *ExtendedBlock) bool {
	if a.CumulativeWeight != b.CumulativeWeight {
		return a.CumulativeWeight > b.CumulativeWeight
	}
	return bytes.Compare(a.Hash.Bytes(), b.Hash.Bytes()) < 0
}

func (ch *Chain) setHeaviest(hash common.Hash) {
	ch.heaviest = hash
	if err := ch.store.Put(heaviestKey, hash); err != nil {
		logger.Panic(err)
	}
}

// HeaviestBlock returns the tip of the canonical chain.
func (ch *Chain) HeaviestBlock() *ExtendedBlock {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	block, err := ch.findBlock(ch.heaviest)
	if err != nil {
		logger.WithFields(log.Fields{"hash": ch.heaviest.Hex()}).Error("Heaviest block missing from store")
		return nil
	}
	return block
}

// HeaviestBlockHash returns the hash of the canonical chain tip.
func (ch *Chain) HeaviestBlockHash() common.Hash {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.heaviest
}

// RemoveBlock removes an invalid block and all of its descendants from the
// chain, and re-derives the heaviest branch.
func (ch *Chain) RemoveBlock(hash common.Hash) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	block, err := ch.findBlock(hash)
	if err != nil {
		return errors.Wrapf(err, "cannot remove block %v", hash.Hex())
	}
	if hash == ch.root {
		return errors.New("cannot remove the root block")
	}

	// detach from the parent's children list
	if parent, err := ch.findBlock(block.Parent); err == nil {
		children := parent.Children[:0]
		for _, child := range parent.Children {
			if child != hash {
				children = append(children, child)
			}
		}
		parent.Children = children
		if err := ch.saveBlock(parent); err != nil {
			logger.Panic(err)
		}
	}

	pending := []*ExtendedBlock{block}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		for _, child := range current.Children {
			if childBlock, err := ch.findBlock(child); err == nil {
				pending = append(pending, childBlock)
			}
		}

		ch.removeBlockByHeightIndex(current.Height, current.Hash)
		ch.cache.Remove(current.Hash)
		if err := ch.store.Delete(current.Hash.Bytes()); err != nil {
			logger.Panic(err)
		}
	}

	ch.recomputeHeaviest()
	return nil
}

// recomputeHeaviest re-derives the heaviest block by walking the tree from
// the root. Only needed after removals.
func (ch *Chain) recomputeHeaviest() {
	rootBlock, err := ch.findBlock(ch.root)
	if err != nil {
		logger.Panic(err)
	}

	heaviest := rootBlock
	pending := []*ExtendedBlock{rootBlock}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if heavier(current, heaviest) {
			heaviest = current
		}
		for _, child := range current.Children {
			if childBlock, err := ch.findBlock(child); err == nil {
				pending = append(pending, childBlock)
			}
		}
	}
	ch.setHeaviest(heaviest.Hash)
}

// PathToCommonAncestor computes the ordered path [ancestor, ..., tip]
// between the branch ending at tip and the branch ending at other. The walk
// is bounded by limit hops: when the full path is longer, the least recent
// limit+1 blocks are returned and the caller is expected to retry later for
// the remainder.
func (ch *Chain) PathToCommonAncestor(tip, other common.Hash, limit int) ([]*ExtendedBlock, error) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	tipBlock, err := ch.findBlock(tip)
	if err != nil {
		return nil, errors.Wrapf(err, "tip block not found: %v", tip.Hex())
	}
	otherBlock, err := ch.findBlock(other)
	if err != nil {
		return nil, errors.Wrapf(err, "block not found: %v", other.Hex())
	}

	tipPath := []*ExtendedBlock{tipBlock}

	// bring both cursors to the same height
	steps := 0
	for tipBlock.Height > otherBlock.Height {
		if tipBlock.IsGenesis() {
			break
		}
		tipBlock, err = ch.findBlock(tipBlock.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "broken parent link on tip branch")
		}
		tipPath = append(tipPath, tipBlock)
		if steps++; steps > maxAncestorDistance {
			return nil, errors.New("ancestor search exceeded maximum distance")
		}
	}
	for otherBlock.Height > tipBlock.Height {
		if otherBlock.IsGenesis() {
			break
		}
		otherBlock, err = ch.findBlock(otherBlock.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "broken parent link on branch")
		}
		if steps++; steps > maxAncestorDistance {
			return nil, errors.New("ancestor search exceeded maximum distance")
		}
	}

	// step both cursors until the branches intersect
	for tipBlock.Hash != otherBlock.Hash {
		if tipBlock.IsGenesis() || otherBlock.IsGenesis() {
			return nil, errors.New("branches do not share a common ancestor")
		}
		tipBlock, err = ch.findBlock(tipBlock.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "broken parent link on tip branch")
		}
		tipPath = append(tipPath, tipBlock)

		otherBlock, err = ch.findBlock(otherBlock.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "broken parent link on branch")
		}
		if steps++; steps > maxAncestorDistance {
			return nil, errors.New("ancestor search exceeded maximum distance")
		}
	}

	// tipPath is ordered [tip, ..., ancestor]; reverse it
	path := make([]*ExtendedBlock, 0, len(tipPath))
	for i := len(tipPath) - 1; i >= 0; i-- {
		path = append(path, tipPath[i])
	}

	// hop limit: keep the least recent segment, the caller syncs forward
	// from the ancestor and derives the rest on a later pass
	if limit > 0 && len(path) > limit+1 {
		path = path[:limit+1]
	}

	return path, nil
}

// FindBlock tries to retrieve a block by hash.
func (ch *Chain) FindBlock(hash common.Hash) (*ExtendedBlock, error) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.findBlock(hash)
}

// HasBlock reports whether the chain holds the block.
func (ch *Chain) HasBlock(hash common.Hash) bool {
	_, err := ch.FindBlock(hash)
	return err == nil
}

// findBlock is the non-locking version of FindBlock.
func (ch *Chain) findBlock(hash common.Hash) (*ExtendedBlock, error) {
	if cached, ok := ch.cache.Get(hash); ok {
		return cached.(*ExtendedBlock), nil
	}
	var block ExtendedBlock
	if err := ch.store.Get(hash.Bytes(), &block); err != nil {
		return nil, err
	}
	ch.cache.Add(hash, &block)
	return &block, nil
}

// saveBlock writes a block to the store and refreshes the cache.
func (ch *Chain) saveBlock(block *ExtendedBlock) error {
	ch.cache.Add(block.Hash, block)
	return ch.store.Put(block.Hash.Bytes(), block)
}

// FindBlocksByHeight tries to retrieve blocks by height.
func (ch *Chain) FindBlocksByHeight(height uint64) []*ExtendedBlock {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	entry := blockByHeightIndexEntry{Blocks: []common.Hash{}}
	ch.store.Get(blockByHeightIndexKey(height), &entry)

	ret := []*ExtendedBlock{}
	for _, hash := range entry.Blocks {
		if block, err := ch.findBlock(hash); err == nil {
			ret = append(ret, block)
		}
	}
	return ret
}

// blockByHeightIndexKey constructs the DB key for the given block height.
func blockByHeightIndexKey(height uint64) common.Bytes {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, height)
	return append(common.Bytes("bh/"), buf[:n]...)
}

type blockByHeightIndexEntry struct {
	Blocks []common.Hash
}

func (ch *Chain) addBlockByHeightIndex(height uint64, block common.Hash) {
	key := blockByHeightIndexKey(height)
	entry := blockByHeightIndexEntry{Blocks: []common.Hash{}}
	ch.store.Get(key, &entry)

	for _, b := range entry.Blocks {
		if block == b {
			return
		}
	}
	entry.Blocks = append(entry.Blocks, block)
	if err := ch.store.Put(key, entry); err != nil {
		logger.Panic(err)
	}
}

func (ch *Chain) removeBlockByHeightIndex(height uint64, block common.Hash) {
	key := blockByHeightIndexKey(height)
	entry := blockByHeightIndexEntry{Blocks: []common.Hash{}}
	if err := ch.store.Get(key, &entry); err != nil {
		return
	}

	blocks := entry.Blocks[:0]
	for _, b := range entry.Blocks {
		if b != block {
			blocks = append(blocks, b)
		}
	}
	entry.Blocks = blocks
	if err := ch.store.Put(key, entry); err != nil {
		logger.Panic(err)
	}
}
