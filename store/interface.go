package store

import (
	"github.com/pkg/errors"

	"github.com/lattisledger/lattis/common"
)

// ErrKeyNotFound is returned when a key has no entry.
var ErrKeyNotFound = errors.New("key not found")

// Store is the interface for object storages.
type Store interface {
	Put(key common.Bytes, value interface{}) error
	Delete(key common.Bytes) error
	Get(key common.Bytes, value interface{}) error
}
