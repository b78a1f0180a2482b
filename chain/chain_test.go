package chain

import (
	"encoding/base64"
	"testing"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/blockstore"
	"github.com/fhenode/fhenode/chainstate"
	"github.com/fhenode/fhenode/compstore"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/config"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/mempool"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

// testGenesisConfig builds a config.Chain whose genesis hash field is the
// actual recomputed hash of the genesis block it describes, the way a
// real config.toml would have been hand-populated once and pinned. This
// mirrors exactly what chain.New recomputes, so New never rejects it.
func testGenesisConfig(t *testing.T, pub ed25519.PublicKey, reward uint64, difficulty uint32) config.Chain {
	t.Helper()
	var pk txtypes.PubKey
	copy(pk[:], pub)

	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(0)},
		Outputs: []*txtypes.TransactionOutput{{Amount: reward, PubKey: pk}},
	}
	header := &block.Header{
		PrevHash:   block.GenesisPrevHash,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()}),
		Timestamp:  1000,
		Difficulty: difficulty,
	}

	return config.Chain{
		Genesis: config.Genesis{
			PublicKey:  base64.StdEncoding.EncodeToString(pub),
			Reward:     reward,
			Difficulty: difficulty,
			Timestamp:  1000,
			Hash:       base64.StdEncoding.EncodeToString(header.Hash().Bytes()),
		},
		BlocksPerEpoch:    8,
		SecondsPerBlock:   10,
		DefaultTxPerBlock: 100,
	}
}

func newTestChain(t *testing.T, pub ed25519.PublicKey, reward uint64, difficulty uint32) *Chain {
	t.Helper()
	cfg := testGenesisConfig(t, pub, reward, difficulty)
	c, err := New(cfg, chainstate.New(), blockstore.New(), mempool.New(), compstore.New())
	require.NoError(t, err)
	return c
}

// attachProvedComputations installs one computation per expression on
// header, then binds and proves each against its final header position,
// the way the miner does: the computations are part of the binding
// preimage themselves, so they must be in place before binding.
func attachProvedComputations(t *testing.T, header *block.Header, exprs ...string) {
	t.Helper()
	comps := make([]compute.Computation, len(exprs))
	for i, expr := range exprs {
		comps[i] = compute.NewReference([][]byte{{1, 2, 3}}, []byte("pk"), expr, 100)
	}
	header.Computations = comps
	for i, c := range comps {
		c.Bind(header.BindingPreimage(i))
		require.NoError(t, c.GenerateProof())
	}
}

func TestGenesisHashMismatchRejected(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cfg := testGenesisConfig(t, pub, 100, 3)
	cfg.Genesis.Hash = base64.StdEncoding.EncodeToString(hashutil.ZeroHash.Bytes())
	_, err = New(cfg, chainstate.New(), blockstore.New(), mempool.New(), compstore.New())
	require.ErrorIs(t, err, ErrGenesisHashMismatch)
}

func TestAppendBlockEmptyMempoolMine(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = priv
	c := newTestChain(t, pub, 100, 2)
	require.Equal(t, uint64(2), c.TotalDifficulty)

	head := c.Head()
	var minerPK txtypes.PubKey
	copy(minerPK[:], pub)
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 100, PubKey: minerPK}},
	}

	header := &block.Header{
		PrevHash:   head.Hash(),
		PrevHeader: head,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()}),
		Timestamp:  head.Timestamp + 10,
		Difficulty: c.GetDifficultyForHeight(1),
	}
	// "a*b*c" has depth 2, exactly covering the required difficulty of 2.
	attachProvedComputations(t, header, "a*b*c")

	blk := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb}}
	require.NoError(t, c.AppendBlock(blk, false))

	require.Equal(t, uint64(4), c.TotalDifficulty)
	cbID := cb.MustTXID()
	require.True(t, c.Chainstate.Exists(cbID, 0))
}

func TestAppendBlockRejectsWrongPrevHash(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestChain(t, pub, 100, 3)

	var minerPK txtypes.PubKey
	copy(minerPK[:], pub)
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 100, PubKey: minerPK}},
	}
	header := &block.Header{
		PrevHash:   hashutil.Sum([]byte("not the tip")),
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()}),
		Timestamp:  c.Head().Timestamp + 10,
		Difficulty: c.GetDifficultyForHeight(1),
	}
	attachProvedComputations(t, header, "a*b*c+d*e")
	blk := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb}}

	require.ErrorIs(t, c.AppendBlock(blk, false), ErrCannotAttach)
}

func TestAppendBlockRejectsCoinbaseOverpay(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestChain(t, pub, 100, 3)

	var minerPK txtypes.PubKey
	copy(minerPK[:], pub)
	head := c.Head()
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 1_000_000, PubKey: minerPK}},
	}
	header := &block.Header{
		PrevHash:   head.Hash(),
		PrevHeader: head,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()}),
		Timestamp:  head.Timestamp + 10,
		Difficulty: c.GetDifficultyForHeight(1),
	}
	attachProvedComputations(t, header, "a*b*c+d*e")
	blk := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb}}

	require.ErrorIs(t, c.AppendBlock(blk, false), ErrCoinbaseOverpays)
}

func TestAppendBlockRejectsInsufficientDifficultyCoverage(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestChain(t, pub, 100, 5)

	var minerPK txtypes.PubKey
	copy(minerPK[:], pub)
	head := c.Head()
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 100, PubKey: minerPK}},
	}
	header := &block.Header{
		PrevHash:   head.Hash(),
		PrevHeader: head,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID()}),
		Timestamp:  head.Timestamp + 10,
		Difficulty: c.GetDifficultyForHeight(1),
	}
	// "a*b" has depth 1, well under the required difficulty of 5.
	attachProvedComputations(t, header, "a*b")
	blk := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb}}

	require.ErrorIs(t, c.AppendBlock(blk, false), ErrDifficultyNotCovered)
}

func TestAppendBlockRejectsInputlessMintingTransaction(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestChain(t, pub, 100, 2)

	var minerPK txtypes.PubKey
	copy(minerPK[:], pub)
	head := c.Head()
	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(1)},
		Outputs: []*txtypes.TransactionOutput{{Amount: 100, PubKey: minerPK}},
	}
	// A non-coinbase transaction with no inputs would mint its outputs
	// from nothing; only the coinbase may create value.
	minting := &txtypes.Transaction{
		Outputs: []*txtypes.TransactionOutput{{Amount: 1_000_000, PubKey: minerPK}},
	}
	header := &block.Header{
		PrevHash:   head.Hash(),
		PrevHeader: head,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cb.MustTXID(), minting.MustTXID()}),
		Timestamp:  head.Timestamp + 10,
		Difficulty: c.GetDifficultyForHeight(1),
	}
	attachProvedComputations(t, header, "a*b*c")
	blk := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb, minting}}

	require.ErrorIs(t, c.AppendBlock(blk, false), ErrNoInputs)
}

func TestRewardHalvesAtEpochBoundary(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	c := newTestChain(t, pub, 1600, 3)

	require.Equal(t, uint64(1600), c.RewardForHeight(0))
	require.Equal(t, uint64(1600), c.RewardForHeight(7))
	require.Equal(t, uint64(800), c.RewardForHeight(8))
	require.Equal(t, uint64(400), c.RewardForHeight(16))
}

func TestMerkleRootSingleAndOddLength(t *testing.T) {
	a := hashutil.Sum([]byte("a"))
	require.Equal(t, a, hashutil.MerkleRoot([]hashutil.Hash{a}))

	b := hashutil.Sum([]byte("b"))
	c := hashutil.Sum([]byte("c"))
	odd := hashutil.MerkleRoot([]hashutil.Hash{a, b, c})
	dup := hashutil.MerkleRoot([]hashutil.Hash{a, b, c, c})
	require.Equal(t, dup, odd)
}
