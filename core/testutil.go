package core

import (
	"sync"

	"github.com/lattisledger/lattis/common"
)

var (
	testBlockMu  sync.Mutex
	testBlocks   = make(map[string]*Block)
	testChainID  = "testchain"
	testNumLanes = uint16(4)
	testSlices   = uint16(2)
)

// ResetTestBlocks clears the registry of named test blocks.
func ResetTestBlocks() {
	testBlockMu.Lock()
	defer testBlockMu.Unlock()
	testBlocks = make(map[string]*Block)
}

// CreateTestBlock creates a block with a synthetic digest derived from name.
// The parent name "" refers to the genesis sentinel. Blocks are memoized by
// name so repeated lookups return the identical block.
func CreateTestBlock(name string, parent string) *Block {
	testBlockMu.Lock()
	defer testBlockMu.Unlock()

	if block, ok := testBlocks[name]; ok {
		return block
	}

	block := NewBlock()
	block.ChainID = testChainID
	block.NumLanes = testNumLanes
	block.NumSlices = testSlices
	block.Slices = make([]Slice, testSlices)
	block.Hash = common.BytesToHash(hashOf("block/" + name))
	block.StateHash = common.BytesToHash(hashOf("state/" + name))
	block.Weight = 1

	if parent == "" {
		block.Parent = GenesisDigest
		block.Height = 0
	} else {
		parentBlock, ok := testBlocks[parent]
		if !ok {
			parentBlock = CreateTestBlockUnlocked(parent)
		}
		block.Parent = parentBlock.Hash
		block.Height = parentBlock.Height + 1
	}

	testBlocks[name] = block
	return block
}

// CreateTestBlockUnlocked creates a root level test block. Callers must hold
// testBlockMu.
func CreateTestBlockUnlocked(name string) *Block {
	block := NewBlock()
	block.ChainID = testChainID
	block.NumLanes = testNumLanes
	block.NumSlices = testSlices
	block.Slices = make([]Slice, testSlices)
	block.Hash = common.BytesToHash(hashOf("block/" + name))
	block.StateHash = common.BytesToHash(hashOf("state/" + name))
	block.Parent = GenesisDigest
	block.Height = 0
	block.Weight = 1
	testBlocks[name] = block
	return block
}

// GetTestBlock returns a previously created named test block.
func GetTestBlock(name string) *Block {
	testBlockMu.Lock()
	defer testBlockMu.Unlock()
	return testBlocks[name]
}
