// Package blockstore is the content-addressed block map (spec.md §4.6/F),
// modeled directly on the original's MemBlockStore
// (original_source/src/store/mem_blockstore.cpp).
package blockstore

import (
	"sync"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/hashutil"
)

type Store struct {
	mu      sync.Mutex
	storage map[hashutil.Hash]*block.Block
}

func New() *Store {
	return &Store{storage: make(map[hashutil.Hash]*block.Block)}
}

// StoreBlock records blk keyed by its hash. Returns false if a block with
// that hash is already stored (it is not re-stored).
func (s *Store) StoreBlock(blk *block.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := blk.Hash()
	if _, ok := s.storage[h]; ok {
		return false
	}
	s.storage[h] = blk
	return true
}

// GetBlock returns the block with the given hash, if known.
func (s *Store) GetBlock(h hashutil.Hash) (*block.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blk, ok := s.storage[h]
	return blk, ok
}

// Exists reports whether h is a known block hash.
func (s *Store) Exists(h hashutil.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.storage[h]
	return ok
}

// RemoveBlock discards the block with the given hash.
func (s *Store) RemoveBlock(h hashutil.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.storage[h]; !ok {
		return false
	}
	delete(s.storage, h)
	return true
}
