package miner

import (
	"sync/atomic"
	"testing"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/fhenode/fhenode/wallet"
	"github.com/stretchr/testify/require"
)

func testPrevHeader() *block.Header {
	return &block.Header{
		PrevHash:   block.GenesisPrevHash,
		MerkleRoot: hashutil.ZeroHash,
		Timestamp:  1000,
		Difficulty: 2,
	}
}

func TestMineEmptyMempoolProducesCoinbaseOnlyBlock(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	comps := []compute.Computation{compute.NewReference([][]byte{{1}}, []byte("pk"), "a*b", 10)}
	var stop int32

	res := Mine(testPrevHeader(), 1, 2, 100, nil, comps, w, &stop)
	require.True(t, res.HaveResult)
	require.Len(t, res.Block.Transactions, 1)
	require.True(t, res.Block.Transactions[0].IsCoinbase())
	require.Equal(t, uint64(100), res.Block.Transactions[0].Outputs[0].Amount)
	require.Equal(t, w.PubKey(), res.Block.Transactions[0].Outputs[0].PubKey)
}

func TestMineIncludesFeesInCoinbase(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	comps := []compute.Computation{compute.NewReference([][]byte{{1}}, []byte("pk"), "a*b", 10)}
	var stop int32

	var otherPK txtypes.PubKey
	otherPK[0] = 9
	tx := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{{TXID: hashutil.Sum([]byte("in")), Vout: 0, InputAmount: 50, Sig: make([]byte, txtypes.SignatureSize)}},
		Outputs: []*txtypes.TransactionOutput{{Amount: 40, PubKey: otherPK}},
	}

	res := Mine(testPrevHeader(), 1, 2, 100, []*txtypes.Transaction{tx}, comps, w, &stop)
	require.True(t, res.HaveResult)
	require.Len(t, res.Block.Transactions, 2)
	// fee = 50 - 40 = 10, so coinbase pays 100 + 10.
	require.Equal(t, uint64(110), res.Block.Transactions[0].Outputs[0].Amount)
}

func TestMineBindsEveryComputationToTheHeader(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	comps := []compute.Computation{
		compute.NewReference([][]byte{{1}}, []byte("pk"), "a*b", 10),
		compute.NewReference([][]byte{{2}}, []byte("pk"), "a*b*c", 10),
	}
	var stop int32

	res := Mine(testPrevHeader(), 1, 2, 100, nil, comps, w, &stop)
	require.True(t, res.HaveResult)

	header := res.Block.Header
	for i, c := range header.Computations {
		require.True(t, c.VerifyProof(c.Proof()), "computation %d's proof must verify against its bound preimage", i)
	}
}

// cancelledComputation wraps a real computation but always reports its
// proof work as cancelled, standing in for the real prover observing a
// stop flag raised mid-round (compute.GenerateProof's own cancellation
// path is exercised directly in package compute's tests).
type cancelledComputation struct{ compute.Computation }

func (cancelledComputation) GenerateProof() error { return compute.ErrCancelled }

func TestMineReturnsNoResultWhenStopFlagRaised(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	comps := []compute.Computation{
		cancelledComputation{compute.NewReference([][]byte{{1}}, []byte("pk"), "a*b*c", 10)},
	}
	var stop int32

	res := Mine(testPrevHeader(), 1, 2, 100, nil, comps, w, &stop)
	require.False(t, res.HaveResult)
	require.Nil(t, res.Block)
}

func TestMineResetsStopFlagAtRoundStart(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)
	comps := []compute.Computation{compute.NewReference([][]byte{{1}}, []byte("pk"), "a*b", 10)}
	var stop int32
	atomic.StoreInt32(&stop, 1)

	// Mine lowers the flag itself at the start of the round, so a flag
	// left raised from a previous (already-returned) round must not
	// cancel the next one.
	res := Mine(testPrevHeader(), 1, 2, 100, nil, comps, w, &stop)
	require.True(t, res.HaveResult)
	require.Equal(t, int32(0), atomic.LoadInt32(&stop))
}
