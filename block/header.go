// Package block implements the BlockHeader/Block data model of spec.md §3
// and its two serialization modes (with proofs, for hashing/wire; without
// proofs, as the computation binding preimage).
package block

import (
	"errors"

	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/hashutil"
)

// Header binds a set of computations to a merkle root, a previous hash and
// a timestamp/difficulty pair.
//
// The previous-header back-reference is an optimization, not a source of
// truth (spec.md §9 "Cyclic ownership"): PrevHeader is a non-owning,
// lookup-only pointer that callers MAY populate when the parent is handy
// in memory. Serialization writes ResolvedPrevHash(), so when PrevHeader
// is set its hash takes precedence over PrevHash. Resolving a header's
// previous header when PrevHeader is nil is the caller's job (via a block
// store), not this package's.
type Header struct {
	PrevHash     hashutil.Hash
	MerkleRoot   hashutil.Hash
	Timestamp    uint64
	Difficulty   uint32
	Computations []compute.Computation

	// PrevHeader is a non-owning cache of the previous header, used only
	// to resolve PrevHash() without a store lookup. Never serialized.
	PrevHeader *Header
}

// GenesisPrevHash is the all-zero previous hash of the genesis header.
var GenesisPrevHash = hashutil.ZeroHash

// ResolvedPrevHash returns, in priority order: the referenced previous header's
// hash, the stored previous hash, or the genesis sentinel.
func (h *Header) ResolvedPrevHash() hashutil.Hash {
	if h.PrevHeader != nil {
		return h.PrevHeader.Hash()
	}
	if !h.PrevHash.IsZero() {
		return h.PrevHash
	}
	return GenesisPrevHash
}

// serialize builds the canonical byte form: prev_hash[32] | merkle_root[32]
// | timestamp[u64] | difficulty[u32] | comp_count[u64] | { comp_size[u64] |
// comp_bytes }* | [ { proof_size[u64] | proof_bytes }* ] — the trailing
// proof block is present only when withProofs is true (spec.md §6).
func (h *Header) serialize(withProofs bool) []byte {
	buf := make([]byte, 0, 128)
	prevHash := h.ResolvedPrevHash()
	buf = append(buf, prevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = hashutil.PutUint64(buf, h.Timestamp)
	buf = hashutil.PutUint32(buf, h.Difficulty)
	buf = hashutil.PutUint64(buf, uint64(len(h.Computations)))
	for _, c := range h.Computations {
		wire := c.ToWireNoProof()
		buf = hashutil.PutUint64(buf, uint64(len(wire)))
		buf = append(buf, wire...)
	}
	if withProofs {
		for _, c := range h.Computations {
			proof := c.Proof()
			buf = hashutil.PutUint64(buf, uint64(len(proof)))
			buf = append(buf, proof...)
		}
	}
	return buf
}

// SerializeWithProofs is the form used for the header hash and wire
// transmission.
func (h *Header) SerializeWithProofs() []byte { return h.serialize(true) }

// SerializeWithoutProofs is the binding preimage base (before the trailing
// computation-index suffix is appended).
func (h *Header) SerializeWithoutProofs() []byte { return h.serialize(false) }

// Hash is this header's content identity, computed over the with-proofs
// serialization.
func (h *Header) Hash() hashutil.Hash {
	return hashutil.Sum(h.SerializeWithProofs())
}

// BindingPreimage returns serialize(header, without_proofs) ‖ u64_be(i),
// the exact preimage a computation at index i must be bound to and its
// proof verified against (spec.md §4.1, §6).
func (h *Header) BindingPreimage(index int) []byte {
	buf := h.SerializeWithoutProofs()
	return hashutil.PutUint64(buf, uint64(index))
}

// SumDifficulty returns the total depth contributed by this header's
// computations.
func (h *Header) SumDifficulty() uint64 {
	var sum uint64
	for _, c := range h.Computations {
		sum += uint64(c.Difficulty())
	}
	return sum
}

var errShortHeaderBuffer = errors.New("block: short header buffer")

// DeserializeHeader reads a with-proofs header from the front of b.
func DeserializeHeader(b []byte) (*Header, []byte, error) {
	if len(b) < hashutil.Size*2+8+4+8 {
		return nil, nil, errShortHeaderBuffer
	}
	h := &Header{}
	copy(h.PrevHash[:], b[:hashutil.Size])
	b = b[hashutil.Size:]
	copy(h.MerkleRoot[:], b[:hashutil.Size])
	b = b[hashutil.Size:]
	h.Timestamp = hashutil.Uint64(b)
	b = b[8:]
	h.Difficulty = hashutil.Uint32(b)
	b = b[4:]
	if len(b) < 8 {
		return nil, nil, errShortHeaderBuffer
	}
	compCount := hashutil.Uint64(b)
	b = b[8:]

	// compCount is attacker-controlled; capacity grows with actual decoded
	// content rather than the claimed count.
	var noProofWires [][]byte
	for i := uint64(0); i < compCount; i++ {
		if len(b) < 8 {
			return nil, nil, errShortHeaderBuffer
		}
		sz := hashutil.Uint64(b)
		b = b[8:]
		if uint64(len(b)) < sz {
			return nil, nil, errShortHeaderBuffer
		}
		noProofWires = append(noProofWires, b[:sz])
		b = b[sz:]
	}

	// Each computation's proof is stored in its own trailing section
	// (spec.md §6) rather than inline after its no-proof bytes; stitch
	// the two back together before decoding so the factory sees the
	// single combined wire form it knows how to parse.
	comps := make([]compute.Computation, 0, len(noProofWires))
	for _, noProof := range noProofWires {
		if len(b) < 8 {
			return nil, nil, errShortHeaderBuffer
		}
		sz := hashutil.Uint64(b)
		b = b[8:]
		if uint64(len(b)) < sz {
			return nil, nil, errShortHeaderBuffer
		}
		proofBytes := b[:sz]
		b = b[sz:]

		combined := append([]byte(nil), noProof...)
		combined = hashutil.PutUint64(combined, uint64(len(proofBytes)))
		combined = append(combined, proofBytes...)

		c, err := compute.FromWire(combined)
		if err != nil {
			return nil, nil, err
		}
		comps = append(comps, c)
	}
	h.Computations = comps
	return h, b, nil
}
