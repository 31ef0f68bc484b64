package execution

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "execution"})

// StateStore is the slice of the storage unit the executor writes through:
// transaction lookup on the way in, state writes on the way out.
type StateStore interface {
	Set(key common.Hash, value common.Bytes)
	GetTransaction(digest common.Hash) (core.Transaction, bool)
}

// Manager runs block execution off the coordinator's loop. At most one block
// executes at a time; Execute rejects submissions while a job is active. The
// coordinator polls GetState to observe completion.
type Manager struct {
	mu sync.Mutex

	store StateStore

	state         core.ExecutionState
	jobID         uint64
	lastProcessed common.Hash

	// inline executes synchronously inside Execute, for deterministic tests
	inline bool
}

var _ core.ExecutionManager = (*Manager)(nil)

// NewManager creates an execution manager writing through store. The
// processed-block cursor starts at the genesis sentinel.
func NewManager(store StateStore) *Manager {
	return &Manager{
		store:         store,
		state:         core.ExecutionStateIdle,
		lastProcessed: core.GenesisDigest,
	}
}

// NewInlineManager creates a manager that executes blocks synchronously
// inside Execute. Used in tests where asynchrony only adds flakiness.
func NewInlineManager(store StateStore) *Manager {
	m := NewManager(store)
	m.inline = true
	return m
}

// Execute schedules a block for execution. Returns Rejected when a previous
// job is still running.
func (m *Manager) Execute(block *core.Block) core.ScheduleStatus {
	m.mu.Lock()

	if m.state == core.ExecutionStateActive {
		m.mu.Unlock()
		return core.ScheduleStatusRejected
	}

	m.state = core.ExecutionStateActive
	m.jobID++
	job := m.jobID
	m.mu.Unlock()

	if m.inline {
		m.run(job, block)
	} else {
		go m.run(job, block)
	}
	return core.ScheduleStatusScheduled
}

func (m *Manager) run(job uint64, block *core.Block) {
	outcome := m.apply(block)

	m.mu.Lock()
	defer m.mu.Unlock()

	// a stale job lost the race against a reset, drop its result
	if job != m.jobID {
		return
	}

	m.state = outcome
	if outcome == core.ExecutionStateIdle && !block.Hash.IsEmpty() {
		m.lastProcessed = block.Hash
	}
}

// apply walks the block's slices lane by lane, writing each transaction's
// effect into the working state.
func (m *Manager) apply(block *core.Block) core.ExecutionState {
	for lane, slice := range block.Slices {
		for _, digest := range slice {
			tx, ok := m.store.GetTransaction(digest)
			if !ok {
				logger.WithFields(log.Fields{
					"block":  block.Hash.Hex(),
					"lane":   lane,
					"digest": digest.Hex(),
				}).Warn("Transaction missing at execution time")
				return core.ExecutionStateTransactionsUnavailable
			}
			m.store.Set(tx.Digest, tx.Payload)
		}
	}
	return core.ExecutionStateIdle
}

// GetState reports the manager's current condition.
func (m *Manager) GetState() core.ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Abort discards any in-flight job's result and returns the manager to
// idle. Called when the coordinator resets mid-execution.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobID++
	m.state = core.ExecutionStateIdle
}

// SetLastProcessedBlock overrides the execution cursor. The coordinator
// calls this when it reverts the chain or mines a fresh block.
func (m *Manager) SetLastProcessedBlock(hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobID++
	m.state = core.ExecutionStateIdle
	m.lastProcessed = hash
}

// LastProcessedBlock returns the hash of the most recently executed block.
func (m *Manager) LastProcessedBlock() common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProcessed
}
