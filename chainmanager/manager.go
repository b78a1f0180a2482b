// Package chainmanager is the central serializer for all chain mutations
// (spec.md §4.3/K): add-block dispatch across main chain and known
// forks, reorg, and wallet synchronization. Its lock is the widest in the
// node (spec.md §5): it is held across add_block, including during
// reorg, so a reorg is atomic with respect to other block admissions.
// Modeled on the original's ChainManager (original_source/src/chain/chain_manager.cpp),
// cross-checked against the reorg/fork-replay idiom in
// other_examples/...e377d631_Klingon-tech-klingnet__internal-chain-reorg.go.go.
package chainmanager

import (
	"sync"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/chain"
	"github.com/fhenode/fhenode/fork"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/wallet"
)

var logger = log.NewModuleLogger(log.ChainManager)

// Manager dispatches add_block across the main chain and any known
// forks, and drives reorg when a fork overtakes main (spec.md §4.3).
type Manager struct {
	mu sync.Mutex

	Main   *chain.Chain
	Forks  []*fork.Fork
	Wallet *wallet.Wallet
}

// New wires a chain manager around an already-constructed main chain and
// wallet.
func New(main *chain.Chain, w *wallet.Wallet) *Manager {
	return &Manager{Main: main, Wallet: w}
}

// AddBlock runs the dispatch algorithm of spec.md §4.3: trusted path,
// main-chain attach, fork attach (with reorg on overtake), new-fork
// creation by ancestor scan, or orphan rejection. Returns whether the
// block was accepted anywhere (main or a fork) and, when accepted,
// whether that acceptance triggered a reorg.
func (m *Manager) AddBlock(blk *block.Block, alreadyValid bool) (accepted bool, reorged bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Trusted path: append to main unconditionally, no validation.
	if alreadyValid {
		if err := m.Main.AppendBlock(blk, true); err != nil {
			return false, false, err
		}
		m.Wallet.ObserveBlock(blk.Transactions)
		return true, false, nil
	}

	// 2. Main chain can attach directly.
	if m.Main.CanAttach(blk.Header) {
		if err := m.Main.AppendBlock(blk, false); err != nil {
			return false, false, err
		}
		m.Wallet.ObserveBlock(blk.Transactions)
		return true, false, nil
	}

	// 3. Scan known forks.
	for _, f := range m.Forks {
		if !f.CanAttach(blk.Header) {
			continue
		}
		if err := f.AppendBlock(blk); err != nil {
			return false, false, err
		}
		if f.TotalDifficulty > m.Main.TotalDifficulty {
			if err := m.reorgLocked(f); err != nil {
				return false, false, err
			}
			return true, true, nil
		}
		return true, false, nil
	}

	// 4. Walk main chain bottom-up; open a new fork at the first header
	// whose hash matches the block's previous hash.
	n := m.Main.Len()
	for i := 0; i < n; i++ {
		h := m.Main.HeaderAt(i)
		if h.Hash() != blk.Header.ResolvedPrevHash() {
			continue
		}
		f := fork.New(uint32(i), h, m.mainDifficultyUpTo(i), m.Main, m.Main.Blockstore)
		if err := f.AppendBlock(blk); err != nil {
			return false, false, err
		}
		m.Forks = append(m.Forks, f)
		return true, false, nil
	}

	// 5. No known ancestor: orphan.
	logger.Debug("add_block: orphan block with no known ancestor", "hash", blk.Hash().String())
	return false, false, nil
}

// reorgLocked replaces the main chain suffix with f's headers (spec.md
// §4.3 "Reorg"). The caller must already hold m.mu.
func (m *Manager) reorgLocked(f *fork.Fork) error {
	chainSrc := int(f.ChainSrc)
	tipBeforeReorg := m.Main.Len() - 1
	oldTotalDifficulty := m.Main.TotalDifficulty

	// Build a shadow fork holding the old main-chain suffix, so it can be
	// replayed back if the new fork turns out invalid partway through.
	oldHeaders := make([]*block.Header, 0, tipBeforeReorg-chainSrc)
	oldBlocks := make([]*block.Block, 0, cap(oldHeaders))
	for i := chainSrc + 1; i <= tipBeforeReorg; i++ {
		h := m.Main.HeaderAt(i)
		oldHeaders = append(oldHeaders, h)
		blk, ok := m.Main.Blockstore.GetBlock(h.Hash())
		if !ok {
			logger.Error("reorg: missing block for old main header", "hash", h.Hash().String())
			continue
		}
		oldBlocks = append(oldBlocks, blk)
	}
	oldMainFork := fork.Restore(f.ChainSrc, m.Main.HeaderAt(chainSrc), oldHeaders, oldTotalDifficulty, m.Main, m.Main.Blockstore)

	// Rewind UTXO state from the tip down to chain_src+1, exact via the
	// SpentSet undo archive.
	for i := len(oldBlocks) - 1; i >= 0; i-- {
		m.Main.Chainstate.RewindBlock(oldBlocks[i].Transactions)
	}
	m.Main.TruncateTo(chainSrc + 1)

	// Replay the fork's headers onto main, now with full transaction
	// validation (the fork only ever header-validated).
	replayed := 0
	var replayedBlocks []*block.Block
	var replayErr error
	for i := 0; i < f.Len(); i++ {
		h := f.HeaderAt(i)
		blk, ok := m.Main.Blockstore.GetBlock(h.Hash())
		if !ok {
			replayErr = errMissingForkBlock
			break
		}
		if err := m.Main.AppendBlock(blk, false); err != nil {
			replayErr = err
			break
		}
		replayedBlocks = append(replayedBlocks, blk)
		replayed++
	}

	if replayErr != nil {
		// Roll back the rollback: undo whatever of the new fork's suffix
		// did get applied to chainstate, restore main to chain_src, then
		// replay the saved old_main_fork (asserted appendable, since it
		// was valid before), trim the fork's invalid tail, and leave a
		// shortened fork in its place.
		for i := len(replayedBlocks) - 1; i >= 0; i-- {
			m.Main.Chainstate.RewindBlock(replayedBlocks[i].Transactions)
		}
		m.Main.TruncateTo(chainSrc + 1)
		for _, blk := range oldBlocks {
			if err := m.Main.AppendBlock(blk, true); err != nil {
				logger.Crit("reorg rollback: could not replay previously-valid main chain", "err", err)
			}
		}
		// f stays in the fork list (it was never removed on this path),
		// just shortened past its invalid tail.
		f.TruncateFrom(replayed)
		return replayErr
	}

	// Success: drop f from the fork list, push old_main_fork as the new
	// fork, and adopt f's difficulty as main's (f.TotalDifficulty already
	// carries the full cumulative total, not just its own suffix).
	m.removeForkLocked(f)
	m.Forks = append(m.Forks, oldMainFork)
	m.Main.TotalDifficulty = f.TotalDifficulty

	m.Wallet.Rescan(m.Main.Chainstate)
	return nil
}

// mainDifficultyUpTo sums header difficulty for indices [0, idx].
func (m *Manager) mainDifficultyUpTo(idx int) uint64 {
	var sum uint64
	for i := 0; i <= idx; i++ {
		sum += uint64(m.Main.HeaderAt(i).Difficulty)
	}
	return sum
}

func (m *Manager) removeForkLocked(target *fork.Fork) {
	out := m.Forks[:0]
	for _, f := range m.Forks {
		if f != target {
			out = append(out, f)
		}
	}
	m.Forks = out
}

var errMissingForkBlock = chainManagerError("chainmanager: missing full block for a fork header during replay")

type chainManagerError string

func (e chainManagerError) Error() string { return string(e) }
