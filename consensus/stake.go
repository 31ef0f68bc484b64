package consensus

import (
	"encoding/binary"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "consensus"})

// StakeManager derives miner eligibility and block weight from a registered
// stake table. The weight of a (previous block, miner) pair is a
// deterministic lottery draw salted by the previous block's hash, so every
// node agrees on it without communication.
type StakeManager struct {
	mu     sync.RWMutex
	stakes map[common.Address]uint64
}

var _ core.StakeManager = (*StakeManager)(nil)

// NewStakeManager creates a stake manager with an empty stake table.
func NewStakeManager() *StakeManager {
	return &StakeManager{
		stakes: make(map[common.Address]uint64),
	}
}

// SetStake registers or updates a miner's stake. A zero stake removes the
// miner from the draw.
func (sm *StakeManager) SetStake(miner common.Address, stake uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if stake == 0 {
		delete(sm.stakes, miner)
		return
	}
	sm.stakes[miner] = stake
}

// Stake returns the registered stake of a miner.
func (sm *StakeManager) Stake(miner common.Address) uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stakes[miner]
}

// ShouldGenerateBlock reports whether miner may produce the block following
// previous. Any miner with registered stake may produce.
func (sm *StakeManager) ShouldGenerateBlock(previous *core.Block, miner common.Address) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stakes[miner] > 0
}

// GetBlockGenerationWeight returns the consensus weight miner's block
// following previous would carry.
func (sm *StakeManager) GetBlockGenerationWeight(previous *core.Block, miner common.Address) uint64 {
	sm.mu.RLock()
	stake := sm.stakes[miner]
	sm.mu.RUnlock()
	if stake == 0 {
		return 0
	}
	return drawWeight(previous.Hash, miner, stake)
}

// ValidMinerForBlock reports whether miner was entitled to produce the block
// following previous.
func (sm *StakeManager) ValidMinerForBlock(previous *core.Block, miner common.Address) bool {
	return sm.ShouldGenerateBlock(previous, miner)
}

// UpdateCurrentBlock informs the stake mechanism of the block that just
// completed its lifecycle.
func (sm *StakeManager) UpdateCurrentBlock(block *core.Block) {
	logger.WithFields(log.Fields{"block": block.Hash.Hex(), "number": block.Height}).Debug("Stake cursor updated")
}

// drawWeight is the deterministic lottery: a digest over the previous
// block's hash and the miner's address, scaled into the miner's stake band.
func drawWeight(previousHash common.Hash, miner common.Address, stake uint64) uint64 {
	h := sha3.New256()
	h.Write(previousHash.Bytes())
	h.Write(miner[:])
	draw := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	// draw%stake spreads miners with equal stake; +1 keeps weight nonzero
	return stake + draw%stake + 1
}
