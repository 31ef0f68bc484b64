package kvstore

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/store"
	"github.com/lattisledger/lattis/store/database"
)

var msgpackHandle = &codec.MsgpackHandle{}

// NewKVStore creates a new instance of KVStore.
func NewKVStore(db database.Database) store.Store {
	return &KVStore{db}
}

// KVStore is a Database wrapped with a msgpack codec.
type KVStore struct {
	db database.Database
}

// Put upserts key/value into the DB.
func (kv *KVStore) Put(key common.Bytes, value interface{}) error {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(value); err != nil {
		return err
	}
	return kv.db.Put(key, buf.Bytes())
}

// Delete deletes the key entry from the DB.
func (kv *KVStore) Delete(key common.Bytes) error {
	return kv.db.Delete(key)
}

// Get looks up the DB with key and decodes the result into value (passed by
// reference).
func (kv *KVStore) Get(key common.Bytes, value interface{}) error {
	encoded, err := kv.db.Get(key)
	if err != nil {
		return err
	}
	return codec.NewDecoder(bytes.NewReader(encoded), msgpackHandle).Decode(value)
}
