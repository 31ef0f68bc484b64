package core

import (
	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
)

// Transaction is an opaque payload addressed by its digest. The coordinator
// only ever deals in digests; payloads matter to execution alone.
type Transaction struct {
	Digest  common.Hash
	Payload common.Bytes
}

// NewTransaction creates a transaction from a raw payload.
func NewTransaction(payload common.Bytes) Transaction {
	sum := sha3.Sum256(payload)
	return Transaction{
		Digest:  common.BytesToHash(sum[:]),
		Payload: payload,
	}
}
