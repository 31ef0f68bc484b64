package core

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/lattisledger/lattis/common"
)

// Slice is one ordered group of transaction digests within a block. The
// digests inside a slice are spread across the configured execution lanes.
type Slice []common.Hash

// BlockHeader contains the essential information of a block.
type BlockHeader struct {
	ChainID   string
	Hash      common.Hash // empty until the block is finalized via UpdateHash
	Parent    common.Hash
	Height    uint64
	StateHash common.Hash // state digest the block's execution must produce
	Miner     common.Address
	Weight    uint64
	DAGEpoch  DAGEpoch
	NumLanes  uint16
	NumSlices uint16
}

// Block represents a block in the chain. A block is immutable once it has
// been finalized and handed to the chain store.
type Block struct {
	*BlockHeader
	Slices []Slice
	Proof  Proof
}

// NewBlock creates an empty in-progress block.
func NewBlock() *Block {
	return &Block{BlockHeader: &BlockHeader{}}
}

// CalculateHash computes the block digest over the header, the transaction
// slices and the proof nonce. The cached Hash field is excluded.
func (b *Block) CalculateHash() common.Hash {
	h := sha3.New256()
	h.Write([]byte(b.ChainID))
	h.Write(b.Parent.Bytes())

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], b.Height)
	h.Write(scratch[:])

	h.Write(b.StateHash.Bytes())
	h.Write(b.Miner.Bytes())

	binary.BigEndian.PutUint64(scratch[:], b.Weight)
	h.Write(scratch[:])

	binary.BigEndian.PutUint64(scratch[:], b.DAGEpoch.Number)
	h.Write(scratch[:])
	h.Write(b.DAGEpoch.Hash.Bytes())

	binary.BigEndian.PutUint64(scratch[:], uint64(b.NumLanes))
	h.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(b.NumSlices))
	h.Write(scratch[:])

	for _, slice := range b.Slices {
		for _, tx := range slice {
			h.Write(tx.Bytes())
		}
	}

	binary.BigEndian.PutUint64(scratch[:], b.Proof.Target)
	h.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], b.Proof.Nonce)
	h.Write(scratch[:])

	return common.BytesToHash(h.Sum(nil))
}

// UpdateHash finalizes the block digest.
func (b *Block) UpdateHash() common.Hash {
	b.Hash = b.CalculateHash()
	return b.Hash
}

// IsGenesis reports whether the block is the genesis block.
func (b *Block) IsGenesis() bool {
	return b.Parent == GenesisDigest
}

// TxCount returns the total number of transactions referenced by the block.
func (b *Block) TxCount() int {
	count := 0
	for _, slice := range b.Slices {
		count += len(slice)
	}
	return count
}

// TxDigests returns the set of transaction digests referenced by the block.
func (b *Block) TxDigests() map[common.Hash]struct{} {
	digests := make(map[common.Hash]struct{})
	for _, slice := range b.Slices {
		for _, tx := range slice {
			digests[tx] = struct{}{}
		}
	}
	return digests
}

func (b *Block) String() string {
	if b == nil {
		return "nil"
	}
	return fmt.Sprintf("Block{Hash: %v, Parent: %v, Height: %v, Weight: %v, Txs: %v}",
		b.Hash.Hex(), b.Parent.Hex(), b.Height, b.Weight, b.TxCount())
}
