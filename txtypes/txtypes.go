// Package txtypes implements the block/transaction data model: canonical
// serialization, TXID computation and the coinbase/signing conventions of
// spec.md §3 and §6.
package txtypes

import (
	"bytes"
	"errors"
	"math"

	"github.com/fhenode/fhenode/hashutil"
	"golang.org/x/crypto/ed25519"
)

// PubKeySize is the length in bytes of an ed25519 public key, used as the
// fixed pubkey field of every output.
const PubKeySize = ed25519.PublicKeySize // 32

// SignatureSize is the length in bytes of a real, final ed25519 signature.
const SignatureSize = ed25519.SignatureSize // 64

// CoinbaseVout is the sentinel vout of a coinbase input. Its wire encoding
// is eight 0xFF bytes; this literal is preserved for wire compatibility
// (spec.md §9).
const CoinbaseVout uint64 = math.MaxUint64

// PubKey is a 32-byte ed25519 public key, used both as an output's owner
// and as the wallet's identity.
type PubKey [PubKeySize]byte

func (p PubKey) Bytes() []byte { return p[:] }

var ErrUnsignedInput = errors.New("txtypes: cannot compute txid with an unsigned non-coinbase input")

// TransactionInput references an unspent output by (TXID, vout) and carries
// a variable-length signature blob. InputAmount is populated by the chain
// validator from the UTXO set at validation time; it is never serialized.
type TransactionInput struct {
	TXID hashutil.Hash
	Vout uint64
	Sig  []byte

	// InputAmount is set by chain validation, not part of the wire form.
	InputAmount uint64
	// InputPubKey is set by chain validation for signature verification.
	InputPubKey PubKey
}

// IsCoinbase reports whether this input carries the coinbase marker.
func (in *TransactionInput) IsCoinbase() bool {
	return in.TXID.IsZero() && in.Vout == CoinbaseVout
}

// NewCoinbaseInput builds the single input of a coinbase transaction,
// carrying the block height in its signature slot so that otherwise
// identical empty coinbases remain distinct across heights (spec.md §3).
func NewCoinbaseInput(height uint32) *TransactionInput {
	sig := make([]byte, 4)
	hashutil.PutUint32(sig[:0], height)
	return &TransactionInput{
		TXID: hashutil.ZeroHash,
		Vout: CoinbaseVout,
		Sig:  sig,
	}
}

// CoinbaseHeight extracts the height carried by a coinbase input's sig slot.
func (in *TransactionInput) CoinbaseHeight() uint32 {
	return hashutil.Uint32(in.Sig)
}

// withSigningPubKey temporarily swaps the sig slot for the signer's public
// key so that serialization is deterministic and identical between the
// signer (who has not yet produced the 64-byte signature) and a verifier
// building the same preimage.
func (in *TransactionInput) withSigningPubKey(pub PubKey) *TransactionInput {
	cp := *in
	cp.Sig = append([]byte(nil), pub[:]...)
	return &cp
}

// Serialize writes this input's canonical wire form: TXID[32] | vout[u64] |
// sig_size[u32] | sig[sig_size].
func (in *TransactionInput) Serialize() []byte {
	buf := make([]byte, 0, 32+8+4+len(in.Sig))
	buf = append(buf, in.TXID[:]...)
	buf = hashutil.PutUint64(buf, in.Vout)
	buf = hashutil.PutUint32(buf, uint32(len(in.Sig)))
	buf = append(buf, in.Sig...)
	return buf
}

// DeserializeInput reads one TransactionInput from the front of b, and
// returns the remaining bytes.
func DeserializeInput(b []byte) (*TransactionInput, []byte, error) {
	if len(b) < 32+8+4 {
		return nil, nil, errors.New("txtypes: short input buffer")
	}
	in := &TransactionInput{}
	copy(in.TXID[:], b[:32])
	b = b[32:]
	in.Vout = hashutil.Uint64(b)
	b = b[8:]
	sigSize := hashutil.Uint32(b)
	b = b[4:]
	if uint64(len(b)) < uint64(sigSize) {
		return nil, nil, errors.New("txtypes: short input signature buffer")
	}
	in.Sig = append([]byte(nil), b[:sigSize]...)
	b = b[sigSize:]
	return in, b, nil
}

// TransactionOutput pays an amount to a pubkey.
type TransactionOutput struct {
	Amount uint64
	PubKey PubKey
}

// Serialize writes this output's canonical wire form: amount[u64] | pubkey[32].
func (out *TransactionOutput) Serialize() []byte {
	buf := make([]byte, 0, 8+PubKeySize)
	buf = hashutil.PutUint64(buf, out.Amount)
	buf = append(buf, out.PubKey[:]...)
	return buf
}

// DeserializeOutput reads one TransactionOutput from the front of b.
func DeserializeOutput(b []byte) (*TransactionOutput, []byte, error) {
	if len(b) < 8+PubKeySize {
		return nil, nil, errors.New("txtypes: short output buffer")
	}
	out := &TransactionOutput{Amount: hashutil.Uint64(b)}
	b = b[8:]
	copy(out.PubKey[:], b[:PubKeySize])
	b = b[PubKeySize:]
	return out, b, nil
}

// Hash returns this output's content identity: the keyed hash of its
// serialization. The mempool's utxo_ref index is keyed by this value.
func (out *TransactionOutput) Hash() hashutil.Hash {
	return hashutil.Sum(out.Serialize())
}

// Transaction is an ordered sequence of inputs and outputs.
type Transaction struct {
	Inputs  []*TransactionInput
	Outputs []*TransactionOutput
}

// IsCoinbase reports whether this is a coinbase transaction: exactly one
// input carrying the coinbase marker.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// serialize builds the canonical byte form: in_count[u64] | inputs |
// out_count[u64] | outputs.
func (tx *Transaction) serialize() []byte {
	buf := make([]byte, 0, 256)
	buf = hashutil.PutUint64(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.Serialize()...)
	}
	buf = hashutil.PutUint64(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = append(buf, out.Serialize()...)
	}
	return buf
}

// Serialize returns the wire form of tx. Every non-coinbase input must
// already be signed (64-byte signature) for this to be meaningful as a
// finished transaction; signing-in-progress transactions use
// SerializeForSigning instead.
func (tx *Transaction) Serialize() []byte { return tx.serialize() }

// SerializeForSigning builds the preimage an input's signature is computed
// over: every OTHER input's sig slot carries the 32-byte signing pubkey of
// its own owner (not this input's), and the input being signed carries its
// own signer's pubkey too — i.e. the whole transaction is serialized with
// every sig slot replaced by the respective owner pubkey. pubkeys must be
// parallel to tx.Inputs.
func (tx *Transaction) SerializeForSigning(pubkeys []PubKey) []byte {
	shadow := &Transaction{Outputs: tx.Outputs}
	shadow.Inputs = make([]*TransactionInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		shadow.Inputs[i] = in.withSigningPubKey(pubkeys[i])
	}
	return shadow.serialize()
}

// TXID is the keyed hash of the canonical serialization. It cannot be
// computed while any non-coinbase input is unsigned (no real signature
// present yet) — the coinbase is the sole exception, since its input
// carries the height rather than a signature.
func (tx *Transaction) TXID() (hashutil.Hash, error) {
	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			if len(in.Sig) != SignatureSize {
				return hashutil.Hash{}, ErrUnsignedInput
			}
		}
	}
	return hashutil.Sum(tx.serialize()), nil
}

// MustTXID panics if the transaction is not yet fully signed. Used where
// the caller has already established signedness as an invariant.
func (tx *Transaction) MustTXID() hashutil.Hash {
	id, err := tx.TXID()
	if err != nil {
		panic(err)
	}
	return id
}

// Fee returns outputAmount-subtracted-from-inputAmount for a non-coinbase
// transaction whose inputs have had InputAmount populated by chain
// validation. Callers must not call this on a coinbase.
func (tx *Transaction) Fee() uint64 {
	var in, out uint64
	for _, i := range tx.Inputs {
		in += i.InputAmount
	}
	for _, o := range tx.Outputs {
		out += o.Amount
	}
	if in < out {
		return 0
	}
	return in - out
}

// Deserialize reads a Transaction from the front of b, returning the
// remaining bytes.
func Deserialize(b []byte) (*Transaction, []byte, error) {
	if len(b) < 8 {
		return nil, nil, errors.New("txtypes: short transaction buffer")
	}
	inCount := hashutil.Uint64(b)
	b = b[8:]
	tx := &Transaction{}
	for i := uint64(0); i < inCount; i++ {
		in, rest, err := DeserializeInput(b)
		if err != nil {
			return nil, nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
		b = rest
	}
	if len(b) < 8 {
		return nil, nil, errors.New("txtypes: short transaction buffer (outputs)")
	}
	outCount := hashutil.Uint64(b)
	b = b[8:]
	for i := uint64(0); i < outCount; i++ {
		out, rest, err := DeserializeOutput(b)
		if err != nil {
			return nil, nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
		b = rest
	}
	return tx, b, nil
}

// Equal reports deep equality of the wire-relevant fields.
func (tx *Transaction) Equal(other *Transaction) bool {
	return bytes.Equal(tx.serialize(), other.serialize())
}
