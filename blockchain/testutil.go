package blockchain

import (
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/store"
)

// CreateTestChain creates a chain backed by an in-memory store, rooted at a
// named genesis block "a0".
func CreateTestChain() *Chain {
	genesis := core.CreateTestBlock("a0", "")
	return NewChain(genesis.ChainID, store.NewMemKVStore(), genesis)
}

// CreateTestChainByBlocks creates a chain from a flat list of
// (blockName, parentName) pairs.
func CreateTestChainByBlocks(pairs []string) *Chain {
	chain := CreateTestChain()
	for i := 0; i < len(pairs); i += 2 {
		block := core.CreateTestBlock(pairs[i], pairs[i+1])
		if _, err := chain.AddBlock(block); err != nil {
			logger.Panic(err)
		}
	}
	return chain
}
