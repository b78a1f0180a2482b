package txtypes

import (
	"errors"

	"golang.org/x/crypto/ed25519"
)

var ErrInvalidSignature = errors.New("txtypes: invalid signature")

// SignInput produces the 64-byte ed25519 signature for input i of tx, given
// the owning private key and the pubkeys of every input's owner (needed to
// build the deterministic signing preimage, per spec.md §3). It mutates
// tx.Inputs[i].Sig in place with the final signature.
func SignInput(tx *Transaction, i int, priv ed25519.PrivateKey, pubkeys []PubKey) {
	preimage := tx.SerializeForSigning(pubkeys)
	sig := ed25519.Sign(priv, preimage)
	tx.Inputs[i].Sig = sig
}

// VerifyInput checks input i's signature against the owning pubkey, using
// the same deterministic preimage SignInput produced it against.
func VerifyInput(tx *Transaction, i int, pubkeys []PubKey) error {
	in := tx.Inputs[i]
	if len(in.Sig) != SignatureSize {
		return ErrInvalidSignature
	}
	preimage := tx.SerializeForSigning(pubkeys)
	if !ed25519.Verify(ed25519.PublicKey(pubkeys[i][:]), preimage, in.Sig) {
		return ErrInvalidSignature
	}
	return nil
}
