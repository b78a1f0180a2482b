// Package chain implements the canonical single sequence of headers
// (spec.md §4.1/I): append-with-full-validation, the difficulty/reward
// schedule, and genesis construction from config. Modeled on the
// original's Chain (original_source/src/chain/chain.cpp) in the teacher's
// lock-per-component idiom.
package chain

import (
	"math"
	"sync"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/blockstore"
	"github.com/fhenode/fhenode/chainstate"
	"github.com/fhenode/fhenode/compstore"
	"github.com/fhenode/fhenode/config"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/mempool"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/pkg/errors"
	"gopkg.in/fatih/set.v0"
)

var logger = log.NewModuleLogger(log.Chain)

var (
	// ErrCannotAttach means the block's previous hash does not match this
	// chain's tip; the chain manager treats this as a fork/orphan signal,
	// not a hard failure (spec.md §7).
	ErrCannotAttach = errors.New("chain: block does not attach to head")

	ErrEmptyHeaders            = errors.New("chain: empty header list")
	ErrStaleTimestamp          = errors.New("chain: block timestamp does not exceed head timestamp")
	ErrDoubleSpendInBlock      = errors.New("chain: input spent twice within the same block")
	ErrNoInputs                = errors.New("chain: non-coinbase transaction has no inputs")
	ErrOutputsExceedInputs     = errors.New("chain: transaction outputs exceed its inputs")
	ErrInputNotFound           = errors.New("chain: referenced input is not an unspent output")
	ErrBadSignature            = errors.New("chain: transaction signature verification failed")
	ErrCoinbaseOverpays        = errors.New("chain: coinbase mints more than reward plus fees")
	ErrMerkleMismatch          = errors.New("chain: merkle root does not match header")
	ErrWrongDifficulty         = errors.New("chain: header difficulty does not match schedule")
	ErrNoComputations          = errors.New("chain: header carries no computations")
	ErrDifficultyNotCovered    = errors.New("chain: computations do not cover required difficulty")
	ErrProofVerificationFailed = errors.New("chain: a computation's proof failed verification")
	ErrGenesisHashMismatch     = errors.New("chain: recomputed genesis hash does not match configured hash")
)

// Chain is the append-only main sequence: a vector of headers, a running
// difficulty sum, and references to the four shared stores (spec.md §3).
type Chain struct {
	mu sync.Mutex

	cfg             config.Chain
	Headers         []*block.Header
	TotalDifficulty uint64

	Chainstate *chainstate.Chainstate
	Blockstore *blockstore.Store
	Mempool    *mempool.Pool
	Compstore  *compstore.Store
}

// New builds genesis from cfg.Genesis (the non-hash fields) and aborts if
// the recomputed hash does not match the configured hash (spec.md §4.1
// "Genesis").
func New(cfg config.Chain, cs *chainstate.Chainstate, bs *blockstore.Store, mp *mempool.Pool, cst *compstore.Store) (*Chain, error) {
	c := &Chain{
		cfg:        cfg,
		Chainstate: cs,
		Blockstore: bs,
		Mempool:    mp,
		Compstore:  cst,
	}

	pkBytes, err := cfg.Genesis.PublicKeyBytes()
	if err != nil {
		return nil, errors.Wrap(err, "chain: decode genesis public key")
	}
	var pk txtypes.PubKey
	copy(pk[:], pkBytes)

	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(0)},
		Outputs: []*txtypes.TransactionOutput{{Amount: cfg.Genesis.Reward, PubKey: pk}},
	}
	cbID := cb.MustTXID()

	header := &block.Header{
		PrevHash:   block.GenesisPrevHash,
		MerkleRoot: hashutil.MerkleRoot([]hashutil.Hash{cbID}),
		Timestamp:  uint64(cfg.Genesis.Timestamp),
		Difficulty: cfg.Genesis.Difficulty,
	}

	wantHashBytes, err := cfg.Genesis.HashBytes()
	if err != nil {
		return nil, errors.Wrap(err, "chain: decode genesis hash")
	}
	wantHash := hashutil.BytesToHash(wantHashBytes)
	if header.Hash() != wantHash {
		return nil, ErrGenesisHashMismatch
	}

	genesisBlock := &block.Block{Header: header, Transactions: []*txtypes.Transaction{cb}}
	c.Headers = []*block.Header{header}
	c.TotalDifficulty = uint64(header.Difficulty)
	c.Chainstate.AddBlock(genesisBlock.Transactions, 0)
	c.Blockstore.StoreBlock(genesisBlock)

	return c, nil
}

// Len reports the number of headers currently on the main chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Headers)
}

// HeaderAt returns the header at index i, or nil if out of range.
func (c *Chain) HeaderAt(i int) *block.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.Headers) {
		return nil
	}
	return c.Headers[i]
}

// TruncateTo trims the header list back to its first n entries and
// recomputes TotalDifficulty from what remains. Used by the chain manager
// during reorg to rewind and to restore a failed rollback (spec.md §4.3).
func (c *Chain) TruncateTo(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n > len(c.Headers) {
		return
	}
	c.Headers = c.Headers[:n]
	var sum uint64
	for _, h := range c.Headers {
		sum += uint64(h.Difficulty)
	}
	c.TotalDifficulty = sum
}

// DefaultTxPerBlock is the configured cap on how many mempool transactions
// the miner draws into a block (spec.md §6 "chain.default_tx_per_block").
func (c *Chain) DefaultTxPerBlock() uint64 {
	return c.cfg.DefaultTxPerBlock
}

// Height returns the index of the chain's tip (0 for genesis-only).
func (c *Chain) Height() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(len(c.Headers) - 1)
}

// Head returns the current tip header.
func (c *Chain) Head() *block.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Headers[len(c.Headers)-1]
}

// CanAttach reports whether header's previous hash matches this chain's
// tip (spec.md §4.1).
func (c *Chain) CanAttach(header *block.Header) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAttachLocked(header)
}

func (c *Chain) canAttachLocked(header *block.Header) bool {
	if len(c.Headers) == 0 {
		return true
	}
	head := c.Headers[len(c.Headers)-1]
	return header.ResolvedPrevHash() == head.Hash()
}

// GetEpoch returns h / blocks_per_epoch (spec.md §4.1).
func (c *Chain) GetEpoch(h uint32) uint32 {
	return h / c.cfg.BlocksPerEpoch
}

// RewardForHeight halves the genesis reward at every epoch boundary:
// reward(h) = initial_reward >> get_epoch(h) (spec.md §4.1).
func (c *Chain) RewardForHeight(h uint32) uint64 {
	epoch := c.GetEpoch(h)
	if epoch >= 64 {
		return 0
	}
	return c.cfg.Genesis.Reward >> epoch
}

// GetDifficultyForHeight walks every completed epoch strictly before h,
// cumulatively scaling the genesis difficulty by
// clamp(expected_duration/actual_duration, 0.25, 4.0) (spec.md §4.1).
//
// Open Question Decision (spec.md §9): the original iterates epochs 0..N
// and indexes header_chain[(i-1)*blocks_per_epoch], which underflows at
// i=0. This implementation instead iterates completed epochs i = 1..epoch
// and rescales using the timestamps of epoch (i-1)'s first and last
// header — epoch 0 itself is never rescaled, matching "the current
// difficulty is the genesis difficulty scaled once per completed epoch".
// See DESIGN.md.
func (c *Chain) GetDifficultyForHeight(h uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getDifficultyForHeightLocked(h)
}

func (c *Chain) getDifficultyForHeightLocked(h uint32) uint32 {
	epoch := c.GetEpoch(h)
	difficulty := float64(c.cfg.Genesis.Difficulty)
	expected := float64(c.cfg.SecondsPerBlock) * float64(c.cfg.BlocksPerEpoch)

	for i := uint32(1); i <= epoch; i++ {
		start := (i - 1) * c.cfg.BlocksPerEpoch
		end := i*c.cfg.BlocksPerEpoch - 1
		if int(end) >= len(c.Headers) {
			break
		}
		firstTS := c.Headers[start].Timestamp
		lastTS := c.Headers[end].Timestamp
		actual := math.Round(float64(lastTS) - float64(firstTS))
		if actual <= 0 {
			actual = 1
		}
		factor := expected / actual
		if factor < 0.25 {
			factor = 0.25
		}
		if factor > 4.0 {
			factor = 4.0
		}
		difficulty = math.Round(difficulty * factor)
	}
	return uint32(difficulty)
}

// AppendBlock validates (unless alreadyValid) and appends blk to the
// chain. Fails with ErrCannotAttach when blk.Header's previous hash
// doesn't match the tip. On success, links the header back-reference,
// pushes the header, delegates add_block to chainstate and mempool,
// stores the block, spends computations, and accumulates difficulty
// (spec.md §4.1).
func (c *Chain) AppendBlock(blk *block.Block, alreadyValid bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.canAttachLocked(blk.Header) {
		return ErrCannotAttach
	}
	height := uint32(len(c.Headers))

	if len(c.Headers) > 0 {
		head := c.Headers[len(c.Headers)-1]
		if blk.Header.Timestamp <= head.Timestamp {
			return ErrStaleTimestamp
		}
	}

	if !alreadyValid {
		if err := c.validateBlockLocked(blk, height); err != nil {
			return err
		}
	}

	if len(c.Headers) > 0 {
		blk.Header.PrevHeader = c.Headers[len(c.Headers)-1]
	}
	c.Headers = append(c.Headers, blk.Header)
	c.Chainstate.AddBlock(blk.Transactions, height)
	c.Mempool.SpendBlock(blk.Transactions)
	c.Blockstore.StoreBlock(blk)
	c.Compstore.SpendBlock(blk)
	c.TotalDifficulty += uint64(blk.Header.Difficulty)
	return nil
}

// ValidateBlock runs the full validation pipeline of spec.md §4.1 step 5:
// shape, per-input spend/existence checks, signatures, fee accounting,
// merkle root, and header validation.
func (c *Chain) ValidateBlock(blk *block.Block, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateBlockLocked(blk, height)
}

func (c *Chain) validateBlockLocked(blk *block.Block, height uint32) error {
	if err := blk.CheckShape(); err != nil {
		return err
	}

	spentInBlock := set.New()
	var allowedFee uint64

	for i, tx := range blk.Transactions {
		if i == 0 {
			continue // coinbase: validated separately below
		}
		if len(tx.Inputs) == 0 {
			return ErrNoInputs
		}
		var pubkeys []txtypes.PubKey
		for _, in := range tx.Inputs {
			key := chainstate.MakeKey(in.TXID, in.Vout)
			if spentInBlock.Has(key) {
				return ErrDoubleSpendInBlock
			}
			rec, ok := c.Chainstate.Get(in.TXID, in.Vout)
			if !ok {
				return ErrInputNotFound
			}
			in.InputAmount = rec.Amount
			in.InputPubKey = rec.PubKey
			pubkeys = append(pubkeys, rec.PubKey)
			spentInBlock.Add(key)
		}
		for idx := range tx.Inputs {
			if err := txtypes.VerifyInput(tx, idx, pubkeys); err != nil {
				return ErrBadSignature
			}
		}
		var inSum, outSum uint64
		for _, in := range tx.Inputs {
			inSum += in.InputAmount
		}
		for _, out := range tx.Outputs {
			outSum += out.Amount
		}
		if outSum > inSum {
			return ErrOutputsExceedInputs
		}
		allowedFee += inSum - outSum
	}

	coinbase := blk.Transactions[0]
	if c.RewardForHeight(height)+allowedFee < coinbase.Outputs[0].Amount {
		return ErrCoinbaseOverpays
	}

	leaves := make([]hashutil.Hash, len(blk.Transactions))
	for i, tx := range blk.Transactions {
		leaves[i] = tx.MustTXID()
	}
	if hashutil.MerkleRoot(leaves) != blk.Header.MerkleRoot {
		return ErrMerkleMismatch
	}

	return c.validateHeaderUnsafeLocked(blk.Header, height)
}

// ValidateHeaderUnsafe checks the header-only invariants of spec.md
// §4.1 step 6: difficulty-schedule match, non-empty computation list,
// difficulty coverage, and per-computation binding+proof verification.
// "Unsafe" because it never touches chainstate/transactions — a Fork uses
// this alone (spec.md §4.2).
func (c *Chain) ValidateHeaderUnsafe(header *block.Header, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateHeaderUnsafeLocked(header, height)
}

func (c *Chain) validateHeaderUnsafeLocked(header *block.Header, height uint32) error {
	required := c.getDifficultyForHeightLocked(height)
	if header.Difficulty != required {
		return ErrWrongDifficulty
	}
	if len(header.Computations) == 0 {
		return ErrNoComputations
	}
	if header.SumDifficulty() < uint64(required) {
		return ErrDifficultyNotCovered
	}
	for i, comp := range header.Computations {
		comp.Bind(header.BindingPreimage(i))
		if !comp.VerifyProof(comp.Proof()) {
			return ErrProofVerificationFailed
		}
	}
	return nil
}
