package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumStable(t *testing.T) {
	data := []byte("some canonical serialization")
	require.Equal(t, Sum(data), Sum(data))
}

func TestMerkleRootSingle(t *testing.T) {
	h := Sum([]byte("leaf"))
	assert.Equal(t, h, MerkleRoot([]Hash{h}))
}

func TestMerkleRootOddDuplicatesLast(t *testing.T) {
	a := Sum([]byte("a"))
	b := Sum([]byte("b"))
	c := Sum([]byte("c"))

	withDup := MerkleRoot([]Hash{a, b, c, c})
	odd := MerkleRoot([]Hash{a, b, c})
	assert.Equal(t, withDup, odd)
}

func TestBytesToHashPads(t *testing.T) {
	h := BytesToHash([]byte{1, 2, 3})
	for i := 0; i < Size-3; i++ {
		assert.Equal(t, byte(0), h[i])
	}
	assert.Equal(t, byte(1), h[Size-3])
}
