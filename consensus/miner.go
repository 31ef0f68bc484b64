package consensus

import (
	"github.com/lattisledger/lattis/core"
)

// NonceMiner searches for a proof nonce by linear scan, resuming from the
// block's current nonce on each call so the search spreads across calls
// without blocking the caller for long.
type NonceMiner struct{}

var _ core.ProofMiner = (*NonceMiner)(nil)

// NewNonceMiner creates a nonce miner.
func NewNonceMiner() *NonceMiner {
	return &NonceMiner{}
}

// Mine tries up to budget nonces for the block's proof target, mutating the
// proof in place. Returns true when a valid nonce was found.
func (nm *NonceMiner) Mine(block *core.Block, budget uint64) bool {
	for i := uint64(0); i < budget; i++ {
		if block.Proof.Valid(block) {
			return true
		}
		block.Proof.Nonce++
	}
	return block.Proof.Valid(block)
}
