package core

import (
	"github.com/lattisledger/lattis/common"
)

// DAGEpoch describes the off-chain computation epoch a block certifies.
type DAGEpoch struct {
	Number uint64
	Hash   common.Hash
}

// WorkQueueStatus is the result of preparing a DAG work queue.
type WorkQueueStatus int

const (
	WorkQueueSuccess WorkQueueStatus = iota
	WorkQueueMalformed
	WorkQueueMalicious
)

func (s WorkQueueStatus) String() string {
	switch s {
	case WorkQueueSuccess:
		return "Success"
	case WorkQueueMalformed:
		return "Malformed"
	case WorkQueueMalicious:
		return "Malicious"
	}
	return "Unknown"
}

// DAG is the auxiliary off-chain epoch ledger gating block validity.
type DAG interface {
	CurrentEpoch() uint64
	// CreateEpoch seals the live DAG segment into an epoch for a block at the
	// given height.
	CreateEpoch(height uint64) DAGEpoch
	// SatisfyEpoch reports whether all data referenced by the epoch is
	// locally available and well formed.
	SatisfyEpoch(epoch DAGEpoch) bool
	RevertToEpoch(number uint64) bool
	CommitEpoch(epoch DAGEpoch)
	// PrepareWorkQueue identifies the work certified by block on top of
	// previous and stages it for validation.
	PrepareWorkQueue(block, previous *Block) WorkQueueStatus
	// ValidateWorkAndUpdateState executes the staged work queue and folds the
	// results into state.
	ValidateWorkAndUpdateState(height uint64, numLanes uint16) bool
}
