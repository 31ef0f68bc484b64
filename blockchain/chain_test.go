package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/core"
)

func TestChainAddAndFind(t *testing.T) {
	assert := assert.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChain()

	a1 := core.CreateTestBlock("a1", "a0")
	eb, err := chain.AddBlock(a1)
	assert.Nil(err)
	assert.Equal(uint64(1), eb.Height)
	assert.Equal(uint64(2), eb.CumulativeWeight)

	found, err := chain.FindBlock(a1.Hash)
	assert.Nil(err)
	assert.Equal(a1.Hash, found.Hash)

	// duplicate adds are rejected
	_, err = chain.AddBlock(a1)
	assert.NotNil(err)

	// orphan blocks are rejected
	orphan := core.CreateTestBlock("x1", "never-added-parent")
	_, err = chain.AddBlock(orphan)
	assert.NotNil(err)
}

func TestChainHeaviestByWeight(t *testing.T) {
	assert := assert.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChain()

	// two competing blocks at the same height, weights 5 and 7
	a1 := core.CreateTestBlock("a1", "a0")
	a1.Weight = 5
	b1 := core.CreateTestBlock("b1", "a0")
	b1.Weight = 7

	_, err := chain.AddBlock(a1)
	assert.Nil(err)
	assert.Equal(a1.Hash, chain.HeaviestBlockHash())

	_, err = chain.AddBlock(b1)
	assert.Nil(err)
	assert.Equal(b1.Hash, chain.HeaviestBlockHash(), "heavier branch must win regardless of arrival order")
}

func TestChainHeaviestTieBreak(t *testing.T) {
	assert := assert.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChain()

	a1 := core.CreateTestBlock("a1", "a0")
	b1 := core.CreateTestBlock("b1", "a0")

	_, err := chain.AddBlock(a1)
	assert.Nil(err)
	_, err = chain.AddBlock(b1)
	assert.Nil(err)

	// equal cumulative weight: the lexicographically smaller hash wins and
	// the choice is stable across repeated queries
	first := chain.HeaviestBlockHash()
	for i := 0; i < 5; i++ {
		assert.Equal(first, chain.HeaviestBlockHash())
	}
}

func TestPathToCommonAncestor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	core.ResetTestBlocks()

	// chain [G, A, B, C] and fork [G, A, B', C']
	chain := CreateTestChainByBlocks([]string{
		"A", "a0",
		"B", "A",
		"C", "B",
		"B'", "A",
		"C'", "B'",
	})

	tip := core.GetTestBlock("C'")
	other := core.GetTestBlock("C")

	path, err := chain.PathToCommonAncestor(tip.Hash, other.Hash, 100)
	require.Nil(err)
	require.Equal(3, len(path))

	assert.Equal(core.GetTestBlock("A").Hash, path[0].Hash, "common ancestor must be A")
	assert.Equal(core.GetTestBlock("B'").Hash, path[1].Hash)
	assert.Equal(tip.Hash, path[len(path)-1].Hash, "path must end at the queried fork tip")
}

func TestPathToCommonAncestorHopLimit(t *testing.T) {
	require := require.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChainByBlocks([]string{
		"A", "a0",
		"B", "A",
		"C", "B",
		"D", "C",
		"E", "D",
	})

	tip := core.GetTestBlock("E")
	other := core.GetTestBlock("a0")

	// full path would be [a0, A, B, C, D, E]; limit 2 keeps the least
	// recent segment [a0, A, B]
	path, err := chain.PathToCommonAncestor(tip.Hash, other.Hash, 2)
	require.Nil(err)
	require.Equal(3, len(path))
	require.Equal(other.Hash, path[0].Hash)
	require.Equal(core.GetTestBlock("A").Hash, path[1].Hash)
	require.Equal(core.GetTestBlock("B").Hash, path[2].Hash)
}

func TestRemoveBlockPrunesDescendants(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChainByBlocks([]string{
		"A", "a0",
		"B", "A",
		"C", "B",
		"F", "A",
	})

	b := core.GetTestBlock("B")
	require.Nil(chain.RemoveBlock(b.Hash))

	assert.False(chain.HasBlock(core.GetTestBlock("B").Hash))
	assert.False(chain.HasBlock(core.GetTestBlock("C").Hash), "descendants of a removed block must go with it")
	assert.True(chain.HasBlock(core.GetTestBlock("A").Hash))

	// heaviest re-derived onto the surviving branch
	assert.Equal(core.GetTestBlock("F").Hash, chain.HeaviestBlockHash())
}

func TestBlockNumberContinuity(t *testing.T) {
	assert := assert.New(t)
	core.ResetTestBlocks()

	chain := CreateTestChainByBlocks([]string{
		"A", "a0",
		"B", "A",
		"C", "B",
	})

	hash := chain.HeaviestBlockHash()
	for {
		block, err := chain.FindBlock(hash)
		assert.Nil(err)
		if block.IsGenesis() {
			break
		}
		parent, err := chain.FindBlock(block.Parent)
		assert.Nil(err)
		assert.Equal(parent.Height+1, block.Height)
		hash = block.Parent
	}
}
