package common

import (
	"encoding/hex"
	"fmt"
)

const (
	// HashLength is the expected byte length of a digest.
	HashLength = 32
	// AddressLength is the expected byte length of a miner address.
	AddressLength = 20
)

// Bytes represents an arbitrary byte slice.
type Bytes []byte

func (b Bytes) String() string {
	return fmt.Sprintf("%X", []byte(b))
}

// Hash represents the 32 byte digest of arbitrary data.
type Hash [HashLength]byte

// BytesToHash converts b to a Hash, left-truncating if necessary.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string to a Hash.
func HexToHash(s string) Hash {
	return BytesToHash(FromHex(s))
}

// SetBytes sets the hash to the value of b, keeping the rightmost bytes if
// b is too long.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the hex representation of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsEmpty reports whether the hash is the zero value.
func (h Hash) IsEmpty() bool {
	return h == Hash{}
}

// Address represents the 20 byte identity of a miner.
type Address [AddressLength]byte

// BytesToAddress converts b to an Address, left-truncating if necessary.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress converts a hex string to an Address.
func HexToAddress(s string) Address {
	return BytesToAddress(FromHex(s))
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the hex representation of the address.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// FromHex decodes a hex string, tolerating an optional 0x prefix and odd
// length input.
func FromHex(s string) []byte {
	if len(s) > 1 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
