package compute

import (
	"errors"
	"sync"

	"github.com/fhenode/fhenode/hashutil"
)

func init() {
	Register(WireTagReference, referenceFromWire)
}

// referenceComputation is the node's reference Computation kind. It stands
// in for the out-of-scope FHE engine and SNARK prover/verifier (spec.md
// §1) while honoring every contract spec.md §3/§4.8 states: hash()
// stability across bind, archive-then-rebind semantics, and cooperative
// proof cancellation. Ciphertexts are opaque byte blobs; "evaluation" and
// "proving" are deterministic stand-ins, not real FHE/SNARK operations.
type referenceComputation struct {
	mu sync.Mutex

	Ciphertexts [][]byte
	PublicKey   []byte
	Expression  string
	Timestamp   int64

	bound          bool
	unboundArchive [][]byte
	proof          []byte
	stopFlag       *int32
}

// NewReference constructs an unbound reference computation. ciphertexts is
// the client-submitted encrypted program input.
func NewReference(ciphertexts [][]byte, pubkey []byte, expression string, timestamp int64) Computation {
	return &referenceComputation{
		Ciphertexts: ciphertexts,
		PublicKey:   pubkey,
		Expression:  expression,
		Timestamp:   timestamp,
	}
}

func (c *referenceComputation) preBindCiphertexts() [][]byte {
	if c.bound {
		return c.unboundArchive
	}
	return c.Ciphertexts
}

// hashPreimage excludes any proof/output and always reflects the pre-bind
// ciphertext form, so Hash is stable whether or not Bind has been called.
func (c *referenceComputation) hashPreimage() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, c.PublicKey...)
	buf = append(buf, []byte(c.Expression)...)
	buf = hashutil.PutUint64(buf, uint64(c.Timestamp))
	for _, ct := range c.preBindCiphertexts() {
		buf = hashutil.PutUint64(buf, uint64(len(ct)))
		buf = append(buf, ct...)
	}
	return buf
}

func (c *referenceComputation) Hash() hashutil.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return hashutil.Sum(c.hashPreimage())
}

// Difficulty derives a non-negative AST-depth count from the expression:
// the maximum nesting depth of multiplication operators, matching the FHE
// multiplicative-depth cost model the expression evaluator is bounded by
// (spec.md §1, §GLOSSARY "Difficulty").
func (c *referenceComputation) Difficulty() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(multiplicativeDepth(c.Expression))
}

// Bind deterministically perturbs the ciphertexts with encryptions of zero
// seeded by counter‖data. The first call archives the pre-bind ciphertexts;
// every call (including later ones) rebinds against that archive, not
// against whatever the previous bind produced, so bind is idempotent with
// respect to the original unbound state (spec.md §4.8).
func (c *referenceComputation) Bind(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound {
		c.unboundArchive = make([][]byte, len(c.Ciphertexts))
		for i, ct := range c.Ciphertexts {
			c.unboundArchive[i] = append([]byte(nil), ct...)
		}
		c.bound = true
	}
	bound := make([][]byte, len(c.unboundArchive))
	for i, ct := range c.unboundArchive {
		// Seed is counter‖data where the counter is the ciphertext index,
		// so bind(data) is deterministic: validating the same header twice
		// (fork admission, then full validation during reorg replay) must
		// rebind to the identical form the proof was generated against.
		seed := make([]byte, 0, 8+len(data))
		seed = hashutil.PutUint64(seed, uint64(i))
		seed = append(seed, data...)
		zero := hashutil.Sum(seed)
		perturbed := make([]byte, len(ct))
		for j := range ct {
			perturbed[j] = ct[j] ^ zero[j%hashutil.Size]
		}
		bound[i] = perturbed
	}
	c.Ciphertexts = bound
}

func (c *referenceComputation) SetStopFlag(flag *int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlag = flag
}

// GenerateProof "proves" the currently bound ciphertexts evaluate the
// expression correctly. The proof-work loop polls the stop flag once per
// simulated AST node, matching the real prover's polling contract
// (spec.md §4.7) without depending on the real prover's internals.
func (c *referenceComputation) GenerateProof() error {
	c.mu.Lock()
	flag := c.stopFlag
	depth := multiplicativeDepth(c.Expression)
	c.mu.Unlock()

	steps := depth + 1
	for i := 0; i < steps; i++ {
		if pollCancelled(flag) {
			return ErrCancelled
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.proof = c.boundProofPreimage()
	return nil
}

func (c *referenceComputation) boundProofPreimage() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, c.PublicKey...)
	buf = append(buf, []byte(c.Expression)...)
	for _, ct := range c.Ciphertexts {
		buf = hashutil.PutUint64(buf, uint64(len(ct)))
		buf = append(buf, ct...)
	}
	sum := hashutil.Sum(buf)
	return sum[:]
}

func (c *referenceComputation) Proof() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proof
}

// VerifyProof checks proof against the currently bound form — binding and
// proof generation/verification always commute with the current bind
// state (spec.md §4.8).
func (c *referenceComputation) VerifyProof(proof []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := c.boundProofPreimage()
	if len(proof) != len(want) {
		return false
	}
	for i := range proof {
		if proof[i] != want[i] {
			return false
		}
	}
	return true
}

func (c *referenceComputation) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, 0, 256)
	for _, ct := range c.Ciphertexts {
		buf = hashutil.PutUint64(buf, uint64(len(ct)))
		buf = append(buf, ct...)
	}
	return buf
}

func (c *referenceComputation) WireTag() WireTag { return WireTagReference }

// ToWireNoProof serializes tag | pubkey | expression | timestamp |
// ciphertexts — everything except the proof. A block header's
// comp_bytes entries are always this form (spec.md §6).
func (c *referenceComputation) ToWireNoProof() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wireNoProofLocked()
}

// wireNoProofLocked always serializes the pre-bind ciphertext form, like
// hashPreimage: the wire and the header's comp_bytes carry the unbound
// ciphertexts, and a verifier re-derives the bound form itself by calling
// Bind with the same preimage. Serializing the bound form here would make
// the binding preimage depend on the bind state it is meant to produce.
func (c *referenceComputation) wireNoProofLocked() []byte {
	buf := []byte{byte(WireTagReference)}
	buf = hashutil.PutUint64(buf, uint64(len(c.PublicKey)))
	buf = append(buf, c.PublicKey...)
	buf = hashutil.PutUint64(buf, uint64(len(c.Expression)))
	buf = append(buf, []byte(c.Expression)...)
	buf = hashutil.PutUint64(buf, uint64(c.Timestamp))
	buf = hashutil.PutUint64(buf, uint64(len(c.preBindCiphertexts())))
	for _, ct := range c.preBindCiphertexts() {
		buf = hashutil.PutUint64(buf, uint64(len(ct)))
		buf = append(buf, ct...)
	}
	return buf
}

// ToWire appends the proof section to ToWireNoProof's body, for network
// transmission. The header's with-proofs serialization writes proofs in
// its own trailing section instead.
func (c *referenceComputation) ToWire() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.wireNoProofLocked()
	buf = hashutil.PutUint64(buf, uint64(len(c.proof)))
	buf = append(buf, c.proof...)
	return buf
}

var errShortComputationWire = errors.New("compute: short computation wire buffer")

// takeChunk reads a u64 length prefix and that many following bytes.
func takeChunk(b []byte) ([]byte, []byte, error) {
	if len(b) < 8 {
		return nil, nil, errShortComputationWire
	}
	n := hashutil.Uint64(b)
	b = b[8:]
	if uint64(len(b)) < n {
		return nil, nil, errShortComputationWire
	}
	return b[:n], b[n:], nil
}

func referenceFromWire(b []byte) (Computation, error) {
	c := &referenceComputation{}
	pk, b, err := takeChunk(b)
	if err != nil {
		return nil, err
	}
	c.PublicKey = append([]byte(nil), pk...)
	expr, b, err := takeChunk(b)
	if err != nil {
		return nil, err
	}
	c.Expression = string(expr)
	if len(b) < 8+8 {
		return nil, errShortComputationWire
	}
	c.Timestamp = int64(hashutil.Uint64(b))
	b = b[8:]
	ctCount := hashutil.Uint64(b)
	b = b[8:]
	for i := uint64(0); i < ctCount; i++ {
		ct, rest, err := takeChunk(b)
		if err != nil {
			return nil, err
		}
		c.Ciphertexts = append(c.Ciphertexts, append([]byte(nil), ct...))
		b = rest
	}
	// The proof section is absent when decoding a no-proof wire form
	// (e.g. a header's comp_bytes entry); present otherwise.
	if len(b) >= 8 {
		if proof, _, err := takeChunk(b); err == nil {
			c.proof = append([]byte(nil), proof...)
		}
	}
	return c, nil
}
