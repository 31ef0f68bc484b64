package ledger

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

const defaultStatusCacheSize = 100000

// TxStatusCache keeps the most recently observed lifecycle stage of
// transactions so clients can poll status without replaying the chain.
// Old entries are evicted in LRU order.
type TxStatusCache struct {
	cache *lru.Cache
}

var _ core.TxStatusCache = (*TxStatusCache)(nil)

// NewTxStatusCache creates a status cache holding up to size entries.
// A non-positive size selects the default capacity.
func NewTxStatusCache(size int) *TxStatusCache {
	if size <= 0 {
		size = defaultStatusCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &TxStatusCache{cache: cache}
}

// Update records the latest status of a transaction.
func (tc *TxStatusCache) Update(digest common.Hash, status core.TxStatus) {
	tc.cache.Add(digest, status)
}

// Get returns the last recorded status of a transaction. The second return
// is false when the transaction has never been seen or was evicted.
func (tc *TxStatusCache) Get(digest common.Hash) (core.TxStatus, bool) {
	value, ok := tc.cache.Get(digest)
	if !ok {
		return core.TxStatusPending, false
	}
	return value.(core.TxStatus), true
}
