package compstore

import (
	"testing"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/stretchr/testify/require"
)

func refComp(expr string) compute.Computation {
	return compute.NewReference([][]byte{{1, 2, 3}}, []byte("pk"), expr, 1)
}

func TestStoreAndGetComputation(t *testing.T) {
	s := New()
	c := refComp("1*1")
	require.True(t, s.StoreComputation(c))
	require.False(t, s.StoreComputation(c))

	got, ok := s.GetComputation(c.Hash())
	require.True(t, ok)
	require.Equal(t, c.Hash(), got.Hash())
	require.True(t, s.Exists(c.Hash()))
	require.Equal(t, 1, s.Len())
}

func TestRemoveComputation(t *testing.T) {
	s := New()
	c := refComp("1*1")
	s.StoreComputation(c)
	require.True(t, s.RemoveComputation(c.Hash()))
	require.False(t, s.RemoveComputation(c.Hash()))
	require.False(t, s.Exists(c.Hash()))
}

func TestCollectComputationsStopsAtTarget(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		// Distinct timestamps keep the five content hashes distinct.
		c := compute.NewReference([][]byte{{1, 2, 3}}, []byte("pk"), "1*(1*(1*1))", int64(i)) // difficulty 3 each
		require.True(t, s.StoreComputation(c))
	}
	res := s.CollectComputations(5)
	require.NotEmpty(t, res)
	var total uint64
	for _, c := range res {
		total += uint64(c.Difficulty())
	}
	require.True(t, total >= 5)
}

func TestCollectComputationsReturnsNilWhenUncovered(t *testing.T) {
	s := New()
	s.StoreComputation(refComp("1*1"))
	require.Nil(t, s.CollectComputations(1000))
}

func TestSpendBlockRemovesHeaderComputations(t *testing.T) {
	s := New()
	c := refComp("1*1")
	s.StoreComputation(c)

	header := &block.Header{Computations: []compute.Computation{c}}
	s.SpendBlock(&block.Block{Header: header, Transactions: []*txtypes.Transaction{}})
	require.False(t, s.Exists(c.Hash()))
}
