// Package fork implements the lightweight alt-chain (spec.md §3, §4.2/J):
// a header list pinned at an index in the main chain, validated header-only
// (full transaction validation runs later if/when the fork becomes main via
// reorg, since the full block is already kept in the block store). Modeled
// on the original's Fork (original_source/src/chain/fork.cpp), cross-checked
// against the reorg/fork-replay idiom in
// other_examples/...e377d631_Klingon-tech-klingnet__internal-chain-reorg.go.go.
package fork

import (
	"sync"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/blockstore"
	"github.com/fhenode/fhenode/chain"
	"github.com/pkg/errors"
)

// ErrCannotAttach means the block's previous hash does not match this
// fork's current tip.
var ErrCannotAttach = errors.New("fork: block does not attach to fork tip")

// Fork tracks chain_src (the main-chain index it branches from), the
// anchor header at that index, and its own header list and difficulty.
type Fork struct {
	mu sync.Mutex

	ChainSrc       uint32
	ChainSrcHeader *block.Header
	Headers        []*block.Header
	// TotalDifficulty is cumulative from genesis: the main chain's running
	// total through ChainSrc, plus the sum of Headers' own difficulty. Kept
	// cumulative (rather than just this fork's suffix) so it stays directly
	// comparable to Chain.TotalDifficulty wherever the two are compared.
	TotalDifficulty uint64

	chain      *chain.Chain
	blockstore *blockstore.Store
}

// New pins a new fork at chainSrc (an index in the main chain) with the
// given anchor header. initialDifficulty seeds TotalDifficulty with the
// main chain's cumulative difficulty through the anchor, so TotalDifficulty
// stays directly comparable to the main chain's running total as spec.md
// §4.3 step 3 requires ("fork's new total_difficulty > main.total_difficulty").
func New(chainSrc uint32, anchor *block.Header, initialDifficulty uint64, c *chain.Chain, bs *blockstore.Store) *Fork {
	return &Fork{
		ChainSrc:        chainSrc,
		ChainSrcHeader:  anchor,
		TotalDifficulty: initialDifficulty,
		chain:           c,
		blockstore:      bs,
	}
}

// Restore rebuilds a fork with a pre-existing header list and difficulty,
// used by the chain manager to capture the old main chain's suffix as a
// shadow fork before rewinding it during reorg (spec.md §4.3).
func Restore(chainSrc uint32, anchor *block.Header, headers []*block.Header, totalDifficulty uint64, c *chain.Chain, bs *blockstore.Store) *Fork {
	return &Fork{
		ChainSrc:        chainSrc,
		ChainSrcHeader:  anchor,
		Headers:         append([]*block.Header(nil), headers...),
		TotalDifficulty: totalDifficulty,
		chain:           c,
		blockstore:      bs,
	}
}

// CurrentForkHeight is chain_src + len(headers) (spec.md §4.2).
func (f *Fork) CurrentForkHeight() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentForkHeightLocked()
}

func (f *Fork) currentForkHeightLocked() uint32 {
	return f.ChainSrc + uint32(len(f.Headers))
}

func (f *Fork) tipHeaderLocked() *block.Header {
	if len(f.Headers) == 0 {
		return f.ChainSrcHeader
	}
	return f.Headers[len(f.Headers)-1]
}

// TipHeader returns this fork's current tip header (the anchor if no
// blocks have been appended yet).
func (f *Fork) TipHeader() *block.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tipHeaderLocked()
}

// CanAttach reports whether header's previous hash matches this fork's tip.
func (f *Fork) CanAttach(header *block.Header) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return header.ResolvedPrevHash() == f.tipHeaderLocked().Hash()
}

// AppendBlock validates blk's header only (spec.md §4.2: full transaction
// validation is deferred to a possible future reorg, since the block is
// already archived in the block store), stores the full block, and
// accumulates difficulty. On an invalid header the fork's difficulty is
// left untouched and the header is not appended.
func (f *Fork) AppendBlock(blk *block.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tip := f.tipHeaderLocked()
	if blk.Header.ResolvedPrevHash() != tip.Hash() {
		return ErrCannotAttach
	}
	height := f.currentForkHeightLocked() + 1
	if err := f.chain.ValidateHeaderUnsafe(blk.Header, height); err != nil {
		return err
	}

	blk.Header.PrevHeader = tip
	f.Headers = append(f.Headers, blk.Header)
	f.blockstore.StoreBlock(blk)
	f.TotalDifficulty += uint64(blk.Header.Difficulty)
	return nil
}

// TruncateFrom trims this fork's header list back to the first n headers,
// subtracting the difficulty of every header dropped. Used by the chain
// manager to shorten a fork's invalid tail during reorg rollback (spec.md
// §4.3, §9 "fork reorg code" — bounds are treated as [n, size) dropped in
// decreasing order, not the original's underflow-prone loop).
func (f *Fork) TruncateFrom(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n >= len(f.Headers) {
		return
	}
	for i := len(f.Headers) - 1; i >= n; i-- {
		f.TotalDifficulty -= uint64(f.Headers[i].Difficulty)
	}
	f.Headers = f.Headers[:n]
}

// Len reports how many headers this fork has appended beyond its anchor.
func (f *Fork) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Headers)
}

// HeaderAt returns the i-th appended header (0-indexed, not counting the
// anchor).
func (f *Fork) HeaderAt(i int) *block.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.Headers) {
		return nil
	}
	return f.Headers[i]
}
