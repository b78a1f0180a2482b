// Package common provides small helpers shared across packages — today,
// the per-peer known-inventory cache the node's connection manager uses
// to bound how many recently-gossiped hashes a peer record remembers
// (spec.md §4.9 gossip state machine), without touching the authoritative
// blockstore/compstore/mempool maps those stay full in-memory maps for
// (spec.md §1 Non-goals). Adapted from the teacher's common/cache.go LRU
// wrapper, trimmed to the one cache shape this node actually exercises.
package common

import (
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	lru "github.com/hashicorp/golang-lru"
)

var logger = log.NewModuleLogger(log.Common)

// KnownSet is a bounded, LRU-evicting set of hashes: "has this peer
// already told us about (or been told about) this block/tx/computation
// hash recently". It is advisory only — a false negative (evicted entry)
// just means a redundant Inv round-trip, never a correctness issue,
// since the authoritative stores are the real source of truth.
type KnownSet struct {
	lru *lru.Cache
}

// NewKnownSet builds a known-inventory cache bounded to size entries.
func NewKnownSet(size int) (*KnownSet, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &KnownSet{lru: c}, nil
}

// Add records h as known, evicting the least-recently-used entry if the
// cache is full.
func (s *KnownSet) Add(h hashutil.Hash) {
	s.lru.Add(h, struct{}{})
}

// Contains reports whether h was recently recorded via Add.
func (s *KnownSet) Contains(h hashutil.Hash) bool {
	return s.lru.Contains(h)
}

// Len reports how many hashes are currently tracked.
func (s *KnownSet) Len() int {
	return s.lru.Len()
}
