package core

import (
	"github.com/lattisledger/lattis/common"
)

// StakeManager is the pluggable consensus strategy deciding miner
// eligibility and block weight, independent of the proof search.
type StakeManager interface {
	// ShouldGenerateBlock reports whether miner may produce the block
	// following previous.
	ShouldGenerateBlock(previous *Block, miner common.Address) bool
	// GetBlockGenerationWeight returns the consensus weight miner's block
	// following previous would carry.
	GetBlockGenerationWeight(previous *Block, miner common.Address) uint64
	// ValidMinerForBlock reports whether miner was entitled to produce the
	// block following previous.
	ValidMinerForBlock(previous *Block, miner common.Address) bool
	// UpdateCurrentBlock informs the stake mechanism of the block that just
	// completed its lifecycle, for weight bookkeeping.
	UpdateCurrentBlock(block *Block)
}

// ProofMiner searches for a valid proof with a bounded per-call effort
// budget, mutating the block in place on success.
type ProofMiner interface {
	Mine(block *Block, budget uint64) bool
}
