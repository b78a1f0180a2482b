package mempool

import (
	"testing"

	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/stretchr/testify/require"
)

func signedTx(seed byte, inputAmount, outputAmount uint64) *txtypes.Transaction {
	var txid hashutil.Hash
	txid[0] = seed
	var pk txtypes.PubKey
	pk[0] = seed
	return &txtypes.Transaction{
		Inputs: []*txtypes.TransactionInput{{
			TXID:        txid,
			Vout:        0,
			Sig:         make([]byte, txtypes.SignatureSize),
			InputAmount: inputAmount,
		}},
		Outputs: []*txtypes.TransactionOutput{{Amount: outputAmount, PubKey: pk}},
	}
}

func TestAddValidTxAndExists(t *testing.T) {
	p := New()
	tx := signedTx(1, 100, 90)
	require.True(t, p.AddValidTx(tx))
	require.False(t, p.AddValidTx(tx))
	require.True(t, p.Exists(tx.MustTXID()))
	require.Equal(t, 1, p.Len())
}

func TestGetTopOrdersByDescendingFee(t *testing.T) {
	p := New()
	low := signedTx(1, 100, 95)  // fee 5
	high := signedTx(2, 100, 50) // fee 50
	mid := signedTx(3, 100, 80)  // fee 20
	p.AddValidTx(low)
	p.AddValidTx(high)
	p.AddValidTx(mid)

	top := p.GetTop(10)
	require.Len(t, top, 3)
	require.Equal(t, high.MustTXID(), top[0].MustTXID())
	require.Equal(t, mid.MustTXID(), top[1].MustTXID())
	require.Equal(t, low.MustTXID(), top[2].MustTXID())
}

func TestGetTopRespectsLimit(t *testing.T) {
	p := New()
	p.AddValidTx(signedTx(1, 100, 90))
	p.AddValidTx(signedTx(2, 100, 50))
	require.Len(t, p.GetTop(1), 1)
}

func TestSpendBlockEvictsConflictingTx(t *testing.T) {
	p := New()
	var txid hashutil.Hash
	txid[0] = 9
	var pk txtypes.PubKey
	pk[0] = 9

	// Two transactions spending the exact same prospective UTXO (same
	// InputAmount/InputPubKey on their one input), but paying different
	// recipients — a genuine double-spend pair. They must collide on
	// utxo_ref even though they produce different-valued outputs.
	a := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{{TXID: txid, Vout: 0, Sig: make([]byte, txtypes.SignatureSize), InputAmount: 100, InputPubKey: pk}},
		Outputs: []*txtypes.TransactionOutput{{Amount: 90, PubKey: pk}},
	}
	b := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{{TXID: txid, Vout: 0, Sig: make([]byte, txtypes.SignatureSize), InputAmount: 100, InputPubKey: pk}},
		Outputs: []*txtypes.TransactionOutput{{Amount: 80, PubKey: pk}},
	}
	require.True(t, p.AddValidTx(a))
	require.True(t, p.AddValidTx(b))

	coinbase := signedTx(0, 0, 0)
	p.SpendBlock([]*txtypes.Transaction{coinbase, a})

	require.False(t, p.Exists(a.MustTXID()))
	require.False(t, p.Exists(b.MustTXID()))
	require.Equal(t, 0, p.Len())
}

func TestAddValidTxDoesNotConflateDistinctInputsWithSameOutputShape(t *testing.T) {
	// Two transactions whose outputs happen to hash the same (same
	// amount/pubkey) but whose inputs spend different prior UTXOs are
	// NOT in conflict: only the consumed input identifies a double-spend.
	p := New()
	var pk txtypes.PubKey
	pk[0] = 1
	var txidA, txidB hashutil.Hash
	txidA[0] = 1
	txidB[0] = 2

	a := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{{TXID: txidA, Vout: 0, Sig: make([]byte, txtypes.SignatureSize), InputAmount: 100, InputPubKey: pk}},
		Outputs: []*txtypes.TransactionOutput{{Amount: 50, PubKey: pk}},
	}
	b := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{{TXID: txidB, Vout: 0, Sig: make([]byte, txtypes.SignatureSize), InputAmount: 100, InputPubKey: pk}},
		Outputs: []*txtypes.TransactionOutput{{Amount: 50, PubKey: pk}},
	}
	require.True(t, p.AddValidTx(a))
	require.True(t, p.AddValidTx(b))

	coinbase := signedTx(0, 0, 0)
	p.SpendBlock([]*txtypes.Transaction{coinbase, a})

	require.False(t, p.Exists(a.MustTXID()))
	require.True(t, p.Exists(b.MustTXID()))
	require.Equal(t, 1, p.Len())
}

func TestRemoveTx(t *testing.T) {
	p := New()
	tx := signedTx(1, 100, 90)
	p.AddValidTx(tx)
	require.True(t, p.RemoveTx(tx))
	require.False(t, p.Exists(tx.MustTXID()))
}

func TestListTXIDs(t *testing.T) {
	p := New()
	a := signedTx(1, 100, 90)
	b := signedTx(2, 100, 50)
	p.AddValidTx(a)
	p.AddValidTx(b)

	ids := p.ListTXIDs()
	require.Len(t, ids, 2)
	require.Contains(t, ids, a.MustTXID())
	require.Contains(t, ids, b.MustTXID())
}
