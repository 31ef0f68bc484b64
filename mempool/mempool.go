package mempool

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "mempool"})

// maxTxsPerBlock bounds how many transactions a single candidate block packs.
const maxTxsPerBlock = 1000

// TxStore is where accepted transactions are persisted for execution.
type TxStore interface {
	AddTransaction(tx core.Transaction)
}

// StatusReader exposes the last observed status of a transaction.
type StatusReader interface {
	Get(digest common.Hash) (core.TxStatus, bool)
}

// Metrics counts mempool traffic. A nil registerer leaves the collectors
// unregistered, which tests rely on.
type Metrics struct {
	pendingSize prometheus.Gauge
	txsAdded    prometheus.Counter
	txsPacked   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lattis",
			Subsystem: "mempool",
			Name:      "pending_size",
			Help:      "Number of transactions waiting to be packed.",
		}),
		txsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "mempool",
			Name:      "txs_added_total",
			Help:      "Transactions accepted into the pool.",
		}),
		txsPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattis",
			Subsystem: "mempool",
			Name:      "txs_packed_total",
			Help:      "Transactions packed into candidate blocks.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pendingSize, m.txsAdded, m.txsPacked)
	}
	return m
}

// Mempool accepts transactions, hands them to the storage unit, and packs
// pending ones into candidate blocks. It implements core.BlockPacker.
type Mempool struct {
	mu sync.Mutex

	store   TxStore
	status  StatusReader
	pending map[common.Hash]struct{}
	metrics *Metrics
}

var _ core.BlockPacker = (*Mempool)(nil)

// NewMempool creates a mempool persisting accepted transactions in store.
// status may be nil, in which case no executed-transaction filtering happens
// at pack time.
func NewMempool(store TxStore, status StatusReader, metrics *Metrics) *Mempool {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Mempool{
		store:   store,
		status:  status,
		pending: make(map[common.Hash]struct{}),
		metrics: metrics,
	}
}

// Add accepts a transaction into the pool. Duplicates are rejected.
func (mp *Mempool) Add(tx core.Transaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, ok := mp.pending[tx.Digest]; ok {
		return errors.Errorf("transaction %v already pending", tx.Digest.Hex())
	}

	mp.store.AddTransaction(tx)
	mp.pending[tx.Digest] = struct{}{}
	mp.metrics.txsAdded.Inc()
	mp.metrics.pendingSize.Set(float64(len(mp.pending)))
	return nil
}

// Size returns the number of pending transactions.
func (mp *Mempool) Size() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.pending)
}

// Flush drops the given digests from the pending set. Called once their
// block is executed.
func (mp *Mempool) Flush(digests []common.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, digest := range digests {
		delete(mp.pending, digest)
	}
	mp.metrics.pendingSize.Set(float64(len(mp.pending)))
}

// GenerateBlock fills the block's slices from the pending pool. Digests are
// routed to slices by their leading byte, giving every node the same layout
// for the same transaction set, and sorted within each slice.
func (mp *Mempool) GenerateBlock(block *core.Block, numLanes, numSlices uint16) error {
	if numSlices == 0 {
		return errors.New("block cannot have zero slices")
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	digests := make([]common.Hash, 0, len(mp.pending))
	for digest := range mp.pending {
		if mp.status != nil {
			if status, ok := mp.status.Get(digest); ok && status == core.TxStatusExecuted {
				continue
			}
		}
		digests = append(digests, digest)
		if len(digests) == maxTxsPerBlock {
			break
		}
	}
	sort.Slice(digests, func(i, j int) bool {
		return bytes.Compare(digests[i].Bytes(), digests[j].Bytes()) < 0
	})

	block.Slices = make([]core.Slice, numSlices)
	for _, digest := range digests {
		slot := uint16(digest[0]) % numSlices
		block.Slices[slot] = append(block.Slices[slot], digest)
	}
	block.NumLanes = numLanes
	block.NumSlices = numSlices

	mp.metrics.txsPacked.Add(float64(len(digests)))
	logger.WithFields(log.Fields{"txs": len(digests), "number": block.Height}).Debug("Packed candidate block")
	return nil
}
