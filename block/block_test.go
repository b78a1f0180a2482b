package block

import (
	"testing"

	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

// attachProvedComputation installs a single computation on h, then binds
// and proves it against index 0, the way the miner does: the computation's
// own bytes are part of the binding preimage, so it goes in first.
func attachProvedComputation(t *testing.T, expr string, h *Header) {
	t.Helper()
	c := compute.NewReference([][]byte{{1, 2, 3}}, []byte("pk"), expr, 100)
	h.Computations = []compute.Computation{c}
	c.Bind(h.BindingPreimage(0))
	require.NoError(t, c.GenerateProof())
}

func TestHeaderHashStableAcrossReserialize(t *testing.T) {
	h := &Header{Timestamp: 10, Difficulty: 3}
	attachProvedComputation(t, "a*b", h)

	h1 := h.Hash()

	decoded, rest, err := DeserializeHeader(h.SerializeWithProofs())
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h1, decoded.Hash())
}

func TestBindingPreimageExcludesProof(t *testing.T) {
	h := &Header{Timestamp: 10, Difficulty: 3}
	pre1 := h.BindingPreimage(0)

	attachProvedComputation(t, "a*b", h)
	pre2 := h.BindingPreimage(0)
	require.NotEqual(t, pre1, pre2, "adding a computation changes comp_count, which is part of the without-proofs form")

	// But regenerating the proof (same binding) must not move the preimage.
	before := h.BindingPreimage(0)
	require.NoError(t, h.Computations[0].GenerateProof())
	after := h.BindingPreimage(0)
	require.Equal(t, before, after)
}

func TestBlockRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk txtypes.PubKey
	copy(pk[:], pub)

	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 100, PubKey: pk}},
	}

	h := &Header{Timestamp: 5, Difficulty: 2}
	h.MerkleRoot = hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()})
	attachProvedComputation(t, "a*b", h)

	blk := &Block{Header: h, Transactions: []*txtypes.Transaction{cb}}
	require.NoError(t, blk.CheckShape())

	decoded, rest, err := Deserialize(blk.Serialize())
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, blk.Hash(), decoded.Hash())
	require.Len(t, decoded.Transactions, 1)
}
