package core

import (
	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
)

var (
	// GenesisDigest is the reserved parent digest of the genesis block. It is
	// also the value reported by an execution manager that has processed no
	// block yet.
	GenesisDigest = common.BytesToHash(hashOf("lattis/genesis"))

	// GenesisStateRoot is the state digest of an empty storage unit.
	GenesisStateRoot = common.BytesToHash(hashOf("lattis/genesis-state"))
)

func hashOf(s string) []byte {
	sum := sha3.Sum256([]byte(s))
	return sum[:]
}

// NewGenesisBlock constructs the unique genesis block for the given chain
// topology.
func NewGenesisBlock(chainID string, numLanes, numSlices uint16) *Block {
	block := NewBlock()
	block.ChainID = chainID
	block.Parent = GenesisDigest
	block.Height = 0
	block.StateHash = GenesisStateRoot
	block.NumLanes = numLanes
	block.NumSlices = numSlices
	block.Slices = make([]Slice, numSlices)
	block.UpdateHash()
	return block
}
