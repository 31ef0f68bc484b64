package dag

import (
	"bytes"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "dag"})

// WorkItem is one unit of off-chain synergetic work referenced by an epoch.
type WorkItem struct {
	Digest  common.Hash
	Payload common.Bytes
}

// Ledger tracks the off-chain work DAG as a live segment of work items plus
// the sealed epochs blocks certify. It implements core.DAG.
type Ledger struct {
	mu sync.RWMutex

	current uint64
	segment []WorkItem

	// sealed epochs by number, with the work they cover
	sealed map[uint64]sealedEpoch

	// staged is the work queue prepared for the block under validation
	staged []WorkItem
}

type sealedEpoch struct {
	hash  common.Hash
	items []WorkItem
}

var _ core.DAG = (*Ledger)(nil)

// NewLedger creates an empty DAG ledger at epoch zero.
func NewLedger() *Ledger {
	return &Ledger{
		sealed: make(map[uint64]sealedEpoch),
	}
}

// AddWork appends a work item to the live segment. It will be covered by the
// next sealed epoch.
func (l *Ledger) AddWork(item WorkItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segment = append(l.segment, item)
}

// ImportEpoch installs an epoch sealed elsewhere together with its work
// items, making it satisfiable locally. Returns false when the items do not
// hash to the epoch's digest.
func (l *Ledger) ImportEpoch(epoch core.DAGEpoch, items []WorkItem) bool {
	if hashItems(items) != epoch.Hash {
		logger.WithFields(log.Fields{"epoch": epoch.Number}).Warn("Imported epoch does not match its work items")
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed[epoch.Number] = sealedEpoch{hash: epoch.Hash, items: items}
	return true
}

// CurrentEpoch returns the number of the most recently committed epoch.
func (l *Ledger) CurrentEpoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// CreateEpoch seals the live segment into an epoch for a block at the given
// height. The live segment starts accumulating the next epoch.
func (l *Ledger) CreateEpoch(height uint64) core.DAGEpoch {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.segment
	l.segment = nil

	epoch := core.DAGEpoch{Number: height, Hash: hashItems(items)}
	l.sealed[height] = sealedEpoch{hash: epoch.Hash, items: items}
	return epoch
}

// SatisfyEpoch reports whether the work covered by the epoch is locally
// available. An empty epoch is trivially satisfied.
func (l *Ledger) SatisfyEpoch(epoch core.DAGEpoch) bool {
	if epoch.Hash.IsEmpty() {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	sealed, ok := l.sealed[epoch.Number]
	return ok && sealed.hash == epoch.Hash
}

// RevertToEpoch discards sealed epochs above number along with the live
// segment and any staged queue.
func (l *Ledger) RevertToEpoch(number uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for n := range l.sealed {
		if n > number {
			delete(l.sealed, n)
		}
	}
	l.segment = nil
	l.staged = nil
	l.current = number
	return true
}

// CommitEpoch advances the committed epoch cursor.
func (l *Ledger) CommitEpoch(epoch core.DAGEpoch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch.Number > l.current {
		l.current = epoch.Number
	}
}

// PrepareWorkQueue identifies the work block certifies on top of previous
// and stages it for validation.
func (l *Ledger) PrepareWorkQueue(block, previous *core.Block) core.WorkQueueStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	// an epoch must not regress behind its parent's or run ahead of the chain
	if block.DAGEpoch.Number < previous.DAGEpoch.Number {
		return core.WorkQueueMalicious
	}
	if block.DAGEpoch.Number > block.Height {
		return core.WorkQueueMalformed
	}

	if block.DAGEpoch.Hash.IsEmpty() {
		l.staged = nil
		return core.WorkQueueSuccess
	}

	sealed, ok := l.sealed[block.DAGEpoch.Number]
	if !ok || sealed.hash != block.DAGEpoch.Hash {
		return core.WorkQueueMalformed
	}
	l.staged = sealed.items
	return core.WorkQueueSuccess
}

// ValidateWorkAndUpdateState executes the staged work queue and folds the
// results into epoch state. Returns false when a staged item fails
// verification.
func (l *Ledger) ValidateWorkAndUpdateState(height uint64, numLanes uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, item := range l.staged {
		if hashPayload(item.Payload) != item.Digest {
			logger.WithFields(log.Fields{
				"number": height,
				"digest": item.Digest.Hex(),
			}).Warn("Work item failed verification")
			l.staged = nil
			return false
		}
	}
	l.staged = nil
	return true
}

// NewWorkItem builds a work item with its digest derived from the payload.
func NewWorkItem(payload common.Bytes) WorkItem {
	return WorkItem{Digest: hashPayload(payload), Payload: payload}
}

func hashPayload(payload common.Bytes) common.Hash {
	h := sha3.New256()
	h.Write([]byte("lattis/work"))
	h.Write(payload)
	return common.BytesToHash(h.Sum(nil))
}

func hashItems(items []WorkItem) common.Hash {
	if len(items) == 0 {
		return common.Hash{}
	}
	digests := make([]common.Hash, len(items))
	for i, item := range items {
		digests[i] = item.Digest
	}
	sort.Slice(digests, func(i, j int) bool {
		return bytes.Compare(digests[i].Bytes(), digests[j].Bytes()) < 0
	})
	h := sha3.New256()
	for _, digest := range digests {
		h.Write(digest.Bytes())
	}
	return common.BytesToHash(h.Sum(nil))
}
