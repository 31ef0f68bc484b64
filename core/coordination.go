package core

import (
	"github.com/lattisledger/lattis/common"
)

// ScheduleStatus is the result of submitting a block to the execution
// manager.
type ScheduleStatus int

const (
	ScheduleStatusScheduled ScheduleStatus = iota
	ScheduleStatusRejected
)

func (s ScheduleStatus) String() string {
	switch s {
	case ScheduleStatusScheduled:
		return "Scheduled"
	case ScheduleStatusRejected:
		return "Rejected"
	}
	return "Unknown"
}

// ExecutionState is the execution manager's reported condition.
type ExecutionState int

const (
	ExecutionStateIdle ExecutionState = iota
	ExecutionStateActive
	ExecutionStateTransactionsUnavailable
	ExecutionStateAborted
	ExecutionStateFailed
)

func (s ExecutionState) String() string {
	switch s {
	case ExecutionStateIdle:
		return "Idle"
	case ExecutionStateActive:
		return "Active"
	case ExecutionStateTransactionsUnavailable:
		return "TransactionsUnavailable"
	case ExecutionStateAborted:
		return "Aborted"
	case ExecutionStateFailed:
		return "Failed"
	}
	return "Unknown"
}

// StorageUnit is the coordinator's view of the node's committed state and
// transaction pool. Implementations are internally synchronized; the
// coordinator guarantees commit/revert calls never overlap.
type StorageUnit interface {
	// CurrentHash returns the digest of the live working state.
	CurrentHash() common.Hash
	// LastCommitHash returns the digest recorded by the most recent commit.
	LastCommitHash() common.Hash
	// Commit records the live state as a bookmark keyed by (state hash, height)
	// and returns the committed state hash.
	Commit(height uint64) common.Hash
	// RevertToHash restores the live state to a previously committed bookmark.
	// The revert is atomic: on failure the prior state is untouched.
	RevertToHash(stateHash common.Hash, height uint64) bool
	// HashExists reports whether a bookmark exists for (state hash, height).
	HashExists(stateHash common.Hash, height uint64) bool
	// HasTransaction reports whether the transaction pool holds the digest.
	HasTransaction(digest common.Hash) bool
	// IssueCallForMissingTxs asks the network boundary to pull the given
	// transactions from peers.
	IssueCallForMissingTxs(digests []common.Hash)
}

// ExecutionManager accepts blocks for asynchronous transaction execution.
// The coordinator never blocks on it, only polls.
type ExecutionManager interface {
	Execute(block *Block) ScheduleStatus
	GetState() ExecutionState
	SetLastProcessedBlock(hash common.Hash)
	LastProcessedBlock() common.Hash
}

// BlockPacker assembles a candidate block's transaction slices from the
// pending pool.
type BlockPacker interface {
	GenerateBlock(block *Block, numLanes, numSlices uint16) error
}

// BlockSink receives newly produced blocks for propagation. The network
// boundary is out of scope here.
type BlockSink interface {
	OnBlock(block *Block)
}

// TxStatus is the lifecycle stage of a transaction as observed by clients.
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusExecuted
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "Pending"
	case TxStatusExecuted:
		return "Executed"
	}
	return "Unknown"
}

// TxStatusCache records transaction status transitions.
type TxStatusCache interface {
	Update(digest common.Hash, status TxStatus)
}
