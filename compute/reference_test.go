package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplicativeDepth(t *testing.T) {
	assert.Equal(t, 0, multiplicativeDepth("a"))
	assert.Equal(t, 0, multiplicativeDepth("a+b"))
	assert.Equal(t, 1, multiplicativeDepth("a*b"))
	assert.Equal(t, 2, multiplicativeDepth("a*b*c"))
	assert.Equal(t, 2, multiplicativeDepth("(a*b)*c + d"))
	assert.Equal(t, 3, multiplicativeDepth("a*(b*(c*d))"))
}

func TestHashStableAcrossBind(t *testing.T) {
	c := NewReference([][]byte{{1, 2, 3}}, []byte("pk"), "a*b", 1000)
	h1 := c.Hash()
	c.Bind([]byte("header-preimage"))
	h2 := c.Hash()
	assert.Equal(t, h1, h2)
}

func TestBindRebindsFromArchiveNotPreviousBind(t *testing.T) {
	c := NewReference([][]byte{{9, 9, 9, 9}}, []byte("pk"), "a*b", 1000)
	c.Bind([]byte("data"))
	out1 := c.Output()
	c.Bind([]byte("data"))
	out2 := c.Output()
	assert.Equal(t, out1, out2, "rebinding with identical data from the archive must be deterministic")
}

func TestProveVerifyRoundTrip(t *testing.T) {
	c := NewReference([][]byte{{1, 2}}, []byte("pk"), "a*b*c", 1000)
	c.Bind([]byte("preimage"))
	require.NoError(t, c.GenerateProof())
	assert.True(t, c.VerifyProof(c.Proof()))
}

func TestGenerateProofCancels(t *testing.T) {
	c := NewReference([][]byte{{1, 2}}, []byte("pk"), "a*b*c*d*e*f*g*h", 1000)
	var stop int32 = 1
	c.SetStopFlag(&stop)
	err := c.GenerateProof()
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestWireRoundTrip(t *testing.T) {
	c := NewReference([][]byte{{1, 2, 3}}, []byte("pk"), "a*b", 1000)
	c.Bind([]byte("x"))
	require.NoError(t, c.GenerateProof())

	wire := c.ToWire()
	decoded, err := FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, c.Hash(), decoded.Hash())
	assert.Equal(t, c.Proof(), decoded.Proof())

	// The wire carries the pre-bind ciphertexts; a receiver rebinds with
	// the same preimage and must land on the same bound form.
	decoded.Bind([]byte("x"))
	assert.Equal(t, c.Output(), decoded.Output())
	assert.True(t, decoded.VerifyProof(decoded.Proof()))
}
