package blockstore

import (
	"testing"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/stretchr/testify/require"
)

func testBlock(seed byte) *block.Block {
	var pk txtypes.PubKey
	pk[0] = seed
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(uint32(seed))},
		Outputs: []*txtypes.TransactionOutput{{Amount: 50, PubKey: pk}},
	}
	return &block.Block{
		Header: &block.Header{
			PrevHash:   block.GenesisPrevHash,
			Timestamp:  uint64(seed) + 1,
			Difficulty: 1,
		},
		Transactions: []*txtypes.Transaction{cb},
	}
}

func TestStoreGetExistsRemove(t *testing.T) {
	s := New()
	blk := testBlock(1)
	h := blk.Hash()

	require.True(t, s.StoreBlock(blk))
	require.False(t, s.StoreBlock(blk))

	got, ok := s.GetBlock(h)
	require.True(t, ok)
	require.Equal(t, h, got.Hash())
	require.True(t, s.Exists(h))

	require.True(t, s.RemoveBlock(h))
	require.False(t, s.Exists(h))
	require.False(t, s.RemoveBlock(h))
}

func TestGetBlockUnknownHash(t *testing.T) {
	s := New()
	_, ok := s.GetBlock(testBlock(9).Hash())
	require.False(t, ok)
}
