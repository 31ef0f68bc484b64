package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/store"
	"github.com/lattisledger/lattis/store/database/backend"
)

type record struct {
	Name  string
	Count uint64
}

func TestKVStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	kv := NewKVStore(backend.NewMemDatabase())

	key := common.Bytes("record/1")
	require.NoError(kv.Put(key, record{Name: "alpha", Count: 42}))

	var got record
	require.NoError(kv.Get(key, &got))
	assert.Equal("alpha", got.Name)
	assert.Equal(uint64(42), got.Count)

	require.NoError(kv.Delete(key))
	err := kv.Get(key, &got)
	assert.Equal(store.ErrKeyNotFound, err)
}

func TestKVStoreMissingKey(t *testing.T) {
	kv := NewKVStore(backend.NewMemDatabase())

	var got record
	err := kv.Get(common.Bytes("absent"), &got)
	assert.Equal(t, store.ErrKeyNotFound, err)
}
