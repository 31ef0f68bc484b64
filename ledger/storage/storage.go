package storage

import (
	"bytes"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/store"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "storage"})

var (
	bookmarkPrefix = common.Bytes("su/bk/")
	txPrefix       = common.Bytes("su/tx/")
)

// MissingTxRequester is the pull boundary towards the network for
// transactions the local pool does not hold.
type MissingTxRequester interface {
	RequestMissingTxs(digests []common.Hash)
}

// stateEntry is one key/value pair of the working state, used for
// deterministic snapshot encoding.
type stateEntry struct {
	Key   common.Hash
	Value common.Bytes
}

// Unit implements core.StorageUnit: a key/value working state with
// content-addressed commit/revert bookmarks keyed by (state hash, block
// number), plus the node's transaction pool.
//
// The unit is internally synchronized. The coordinator externally sequences
// commit/revert calls; concurrent Set calls from execution lanes are safe.
type Unit struct {
	mu sync.RWMutex

	db         store.Store
	state      map[common.Hash]common.Bytes
	lastCommit common.Hash
	requester  MissingTxRequester
}

var _ core.StorageUnit = (*Unit)(nil)

// NewUnit creates a storage unit persisting bookmarks and the transaction
// pool in db.
func NewUnit(db store.Store, requester MissingTxRequester) *Unit {
	return &Unit{
		db:         db,
		state:      make(map[common.Hash]common.Bytes),
		lastCommit: core.GenesisStateRoot,
		requester:  requester,
	}
}

// Set writes a key into the live working state. Called by the execution
// manager while a block executes.
func (u *Unit) Set(key common.Hash, value common.Bytes) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state[key] = value
}

// Get reads a key from the live working state.
func (u *Unit) Get(key common.Hash) (common.Bytes, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	value, ok := u.state[key]
	return value, ok
}

// CurrentHash returns the digest of the live working state. An empty state
// hashes to the genesis state root.
func (u *Unit) CurrentHash() common.Hash {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return hashState(u.state)
}

func hashState(state map[common.Hash]common.Bytes) common.Hash {
	if len(state) == 0 {
		return core.GenesisStateRoot
	}

	keys := make([]common.Hash, 0, len(state))
	for key := range state {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})

	h := sha3.New256()
	for _, key := range keys {
		h.Write(key.Bytes())
		h.Write(state[key])
	}
	return common.BytesToHash(h.Sum(nil))
}

// LastCommitHash returns the state digest recorded by the most recent
// commit.
func (u *Unit) LastCommitHash() common.Hash {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastCommit
}

// Commit records the live state under (state hash, height) and returns the
// committed state hash. Later commits supersede earlier bookmarks; none are
// deleted.
func (u *Unit) Commit(height uint64) common.Hash {
	u.mu.Lock()
	defer u.mu.Unlock()

	stateHash := hashState(u.state)

	entries := make([]stateEntry, 0, len(u.state))
	for key, value := range u.state {
		entries = append(entries, stateEntry{Key: key, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key.Bytes(), entries[j].Key.Bytes()) < 0
	})

	if err := u.db.Put(bookmarkKey(stateHash, height), entries); err != nil {
		logger.WithFields(log.Fields{"hash": stateHash.Hex(), "error": err}).Error("Failed to persist bookmark")
		return stateHash
	}

	u.lastCommit = stateHash
	return stateHash
}

// RevertToHash restores the live state to the bookmark (stateHash, height).
// The revert is atomic: on failure the live state is untouched. Reverting
// never deletes later bookmarks.
func (u *Unit) RevertToHash(stateHash common.Hash, height uint64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	// the genesis state needs no bookmark
	if stateHash == core.GenesisStateRoot && height == 0 {
		u.state = make(map[common.Hash]common.Bytes)
		u.lastCommit = core.GenesisStateRoot
		return true
	}

	var entries []stateEntry
	if err := u.db.Get(bookmarkKey(stateHash, height), &entries); err != nil {
		logger.WithFields(log.Fields{"hash": stateHash.Hex(), "number": height}).Warn("No bookmark for revert target")
		return false
	}

	restored := make(map[common.Hash]common.Bytes, len(entries))
	for _, entry := range entries {
		restored[entry.Key] = entry.Value
	}

	if hashState(restored) != stateHash {
		logger.WithFields(log.Fields{"hash": stateHash.Hex()}).Error("Bookmark corrupt, revert aborted")
		return false
	}

	u.state = restored
	u.lastCommit = stateHash
	return true
}

// HashExists reports whether a bookmark exists for (stateHash, height).
func (u *Unit) HashExists(stateHash common.Hash, height uint64) bool {
	if stateHash == core.GenesisStateRoot && height == 0 {
		return true
	}
	var entries []stateEntry
	return u.db.Get(bookmarkKey(stateHash, height), &entries) == nil
}

// AddTransaction places a transaction into the pool.
func (u *Unit) AddTransaction(tx core.Transaction) {
	if err := u.db.Put(txKey(tx.Digest), tx); err != nil {
		logger.WithFields(log.Fields{"digest": tx.Digest.Hex(), "error": err}).Error("Failed to store transaction")
	}
}

// HasTransaction reports whether the pool holds the digest.
func (u *Unit) HasTransaction(digest common.Hash) bool {
	var tx core.Transaction
	return u.db.Get(txKey(digest), &tx) == nil
}

// GetTransaction retrieves a pooled transaction by digest.
func (u *Unit) GetTransaction(digest common.Hash) (core.Transaction, bool) {
	var tx core.Transaction
	if err := u.db.Get(txKey(digest), &tx); err != nil {
		return core.Transaction{}, false
	}
	return tx, true
}

// IssueCallForMissingTxs asks the network boundary to pull the given
// transactions from peers.
func (u *Unit) IssueCallForMissingTxs(digests []common.Hash) {
	logger.WithFields(log.Fields{"count": len(digests)}).Info("Requesting missing transactions")
	if u.requester != nil {
		u.requester.RequestMissingTxs(digests)
	}
}

func bookmarkKey(stateHash common.Hash, height uint64) common.Bytes {
	key := append(common.Bytes{}, bookmarkPrefix...)
	key = append(key, stateHash.Bytes()...)
	key = append(key, byte(height>>56), byte(height>>48), byte(height>>40), byte(height>>32),
		byte(height>>24), byte(height>>16), byte(height>>8), byte(height))
	return key
}

func txKey(digest common.Hash) common.Bytes {
	key := append(common.Bytes{}, txPrefix...)
	return append(key, digest.Bytes()...)
}
