package store

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/lattisledger/lattis/common"
)

var _ Store = (*MemKVStore)(nil)

var msgpackHandle = &codec.MsgpackHandle{}

// MemKVStore is an in-memory implementation of Store to be used in testing.
type MemKVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKVStore creates a new instance of MemKVStore.
func NewMemKVStore() *MemKVStore {
	return &MemKVStore{
		data: make(map[string][]byte),
	}
}

func getKey(key common.Bytes) string {
	return hex.EncodeToString(key)
}

// Put implements Store.Put().
func (mkv *MemKVStore) Put(key common.Bytes, value interface{}) error {
	mkv.mu.Lock()
	defer mkv.mu.Unlock()

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(value); err != nil {
		return err
	}
	mkv.data[getKey(key)] = buf.Bytes()
	return nil
}

// Delete implements Store.Delete().
func (mkv *MemKVStore) Delete(key common.Bytes) error {
	mkv.mu.Lock()
	defer mkv.mu.Unlock()

	delete(mkv.data, getKey(key))
	return nil
}

// Get implements Store.Get().
func (mkv *MemKVStore) Get(key common.Bytes, value interface{}) error {
	mkv.mu.RLock()
	defer mkv.mu.RUnlock()

	encoded, ok := mkv.data[getKey(key)]
	if !ok {
		return ErrKeyNotFound
	}
	return codec.NewDecoder(bytes.NewReader(encoded), msgpackHandle).Decode(value)
}
