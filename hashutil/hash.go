// Package hashutil provides the keyed-hash and big-endian packing helpers
// shared by the wire codec, the data model and the Merkle-root computation.
// The keyed hash is the core's only concrete cryptographic primitive; the
// FHE engine, the SNARK prover/verifier and the signature primitive remain
// external collaborators (see spec.md §1).
package hashutil

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of every hash produced by this package.
const Size = 32

// Hash is a content identifier: a block hash, a transaction id, a
// computation hash or an output hash.
type Hash [Size]byte

// ZeroHash is the all-zero sentinel used as the coinbase's fake previous
// txid and as genesis's previous-block hash.
var ZeroHash = Hash{}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, Size*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// BytesToHash left-pads or truncates b to Size bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > Size {
		b = b[len(b)-Size:]
	}
	copy(h[Size-len(b):], b)
	return h
}

// hashKey is the fixed key used for the node's keyed hash. A keyed hash
// (rather than a plain one) is what the spec calls for in §6; the node
// does not rely on this key for any secrecy property, only for domain
// separation from other users of blake2b.
var hashKey = []byte("fhenode/keyed-hash/v1")

// Sum returns the 32-byte keyed hash of data.
func Sum(data []byte) Hash {
	h, err := blake2b.New256(hashKey)
	if err != nil {
		// Only returns an error when the key exceeds blake2b's max key
		// size; hashKey is a fixed short constant so this can't happen.
		panic(err)
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PutUint64 appends the big-endian encoding of v to dst.
func PutUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// PutUint32 appends the big-endian encoding of v to dst.
func PutUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// Uint64 reads a big-endian uint64 from the front of b.
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// Uint32 reads a big-endian uint32 from the front of b.
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// MerkleRoot computes the root over a list of leaf hashes. If the count at
// any level is odd, the last entry is duplicated before pairing, per
// spec.md §6. Panics on an empty list: the coinbase transaction makes that
// case unreachable in this node.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		panic("hashutil: MerkleRoot called with no leaves")
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			buf := make([]byte, 0, Size*2)
			buf = append(buf, level[2*i][:]...)
			buf = append(buf, level[2*i+1][:]...)
			next[i] = Sum(buf)
		}
		level = next
	}
	return level[0]
}
