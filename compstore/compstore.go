// Package compstore is the content-addressed computation map and its
// difficulty-covering selector (spec.md §4.6/G), modeled on the original's
// MemCompStore (original_source/src/store/mem_compstore.cpp).
package compstore

import (
	"sync"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
)

var logger = log.NewModuleLogger(log.CompStore)

type Store struct {
	mu      sync.Mutex
	storage map[hashutil.Hash]compute.Computation
}

func New() *Store {
	return &Store{storage: make(map[hashutil.Hash]compute.Computation)}
}

// StoreComputation records c keyed by its hash. Returns false if a
// computation with that hash is already stored.
func (s *Store) StoreComputation(c compute.Computation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := c.Hash()
	if _, ok := s.storage[h]; ok {
		return false
	}
	s.storage[h] = c
	return true
}

func (s *Store) GetComputation(h hashutil.Hash) (compute.Computation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.storage[h]
	return c, ok
}

func (s *Store) Exists(h hashutil.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.storage[h]
	return ok
}

func (s *Store) RemoveComputation(h hashutil.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.storage[h]; !ok {
		return false
	}
	delete(s.storage, h)
	return true
}

// CollectComputations performs the naive greedy pick spec.md §4.6
// describes: iterate stored computations, accumulate difficulty, stop and
// return as soon as the sum reaches targetDifficulty. If the sum never
// reaches the target, returns nil — the miner cannot yet build a block.
//
// Go map iteration order is randomized, which only helps here: it avoids
// always favoring whichever computation happened to be inserted first.
func (s *Store) CollectComputations(targetDifficulty uint64) []compute.Computation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []compute.Computation
	var total uint64
	for _, c := range s.storage {
		res = append(res, c)
		total += uint64(c.Difficulty())
		if total >= targetDifficulty {
			return res
		}
	}
	logger.Debug("collect_computations could not cover target difficulty", "target", targetDifficulty, "available", total)
	return nil
}

// SpendBlock removes every computation whose hash appears in the block's
// header (spec.md §4.6).
func (s *Store) SpendBlock(blk *block.Block) {
	for _, c := range blk.Header.Computations {
		s.RemoveComputation(c.Hash())
	}
}

// Len reports the number of stored computations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.storage)
}
