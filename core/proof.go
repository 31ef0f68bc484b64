package core

import (
	"math/bits"

	"github.com/lattisledger/lattis/common"
)

// Proof carries the proof of work attached to a block: the difficulty
// target expressed as a number of leading zero bits, and the nonce found by
// the search.
type Proof struct {
	Target uint64
	Nonce  uint64
}

// SetTarget sets the difficulty target.
func (p *Proof) SetTarget(target uint64) {
	p.Target = target
}

// Valid reports whether the block's digest satisfies the difficulty target.
func (p Proof) Valid(b *Block) bool {
	return LeadingZeroBits(b.CalculateHash()) >= p.Target
}

// LeadingZeroBits counts the leading zero bits of a digest.
func LeadingZeroBits(h common.Hash) uint64 {
	var count uint64
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += uint64(bits.LeadingZeros8(b))
		break
	}
	return count
}
