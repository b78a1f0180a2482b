// Package compute defines the Computation capability set the chain and
// miner consume, and registers concrete computation kinds behind a small
// factory so the core never downcasts (spec.md §9 "Polymorphic
// Computation"). The FHE arithmetic engine, the SNARK prover/verifier and
// the expression evaluator's internals are external collaborators
// (spec.md §1); this package owns only the interface boundary and a
// reference implementation that fulfils it deterministically so the rest
// of the node is fully exercisable.
package compute

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fhenode/fhenode/hashutil"
)

// ErrCancelled is returned by GenerateProof when the shared stop flag was
// observed during proof work; the miner treats this as "no result", not a
// validation failure (spec.md §7).
var ErrCancelled = errors.New("compute: cancelled by stop flag")

// WireTag identifies a computation kind on the wire, so a future
// non-FHE computation kind can register its own factory without the core
// changing.
type WireTag uint8

const (
	WireTagReference WireTag = iota
)

// Computation is the capability set the chain, miner and stores consume.
// hash() is stable across bound/unbound state; bind archives the pre-bind
// ciphertexts on first call so serialize-for-hash still yields the
// pre-bind form (spec.md §3).
type Computation interface {
	// Hash is the content-addressed identity: it excludes any proof or
	// output, and excludes the bind perturbation (it hashes the
	// archived unbound form once bound).
	Hash() hashutil.Hash

	// Difficulty is the non-negative AST-depth count this computation
	// contributes toward a block's required difficulty.
	Difficulty() uint32

	// Bind deterministically perturbs this computation's ciphertexts
	// with encryptions of zero seeded by counter‖data. Repeated calls
	// rebind against the archived unbound form, not the previously
	// bound form.
	Bind(data []byte)

	// SetStopFlag installs the cooperative cancellation flag GenerateProof
	// polls. The miner installs its one shared flag, lowered once at the
	// start of every mining round.
	SetStopFlag(flag *int32)

	// GenerateProof produces this computation's SNARK argument against
	// its *currently bound* form. Returns ErrCancelled if the stop flag
	// was observed.
	GenerateProof() error

	// Proof returns the most recently generated proof bytes, or nil.
	Proof() []byte

	// VerifyProof checks proof against this computation's currently
	// bound form.
	VerifyProof(proof []byte) bool

	// Output returns the serialized ciphertext result. Only meaningful
	// after a successful GenerateProof.
	Output() []byte

	// WireTag identifies this computation's concrete kind for wire
	// encoding.
	WireTag() WireTag

	// ToWire serializes this computation including its proof, for
	// network transmission (InfoComputation). Block headers do not use
	// it; see ToWireNoProof.
	ToWire() []byte

	// ToWireNoProof serializes this computation excluding its proof. A
	// block header's computation list is always stored in this form;
	// the header's trailing proof section (present only in the
	// with-proofs serialization) carries the proofs separately
	// (spec.md §6).
	ToWireNoProof() []byte
}

// Factory constructs a Computation of a specific kind from its wire bytes.
type Factory func(wire []byte) (Computation, error)

var (
	registryMu sync.RWMutex
	registry   = map[WireTag]Factory{}
)

// Register installs the factory for a wire tag. Called from package init
// of each concrete computation kind.
func Register(tag WireTag, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = f
}

// FromWire decodes a computation given its leading wire tag byte followed
// by kind-specific bytes.
func FromWire(b []byte) (Computation, error) {
	if len(b) < 1 {
		return nil, errors.New("compute: empty wire buffer")
	}
	tag := WireTag(b[0])
	registryMu.RLock()
	f, ok := registry[tag]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New("compute: unknown computation wire tag")
	}
	return f(b[1:])
}

// pollCancelled is the shared polling primitive every concrete computation
// kind's proof loop should call between units of work.
func pollCancelled(flag *int32) bool {
	return flag != nil && atomic.LoadInt32(flag) != 0
}
