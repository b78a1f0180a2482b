// Package chainstate implements the UTXO set (spec.md §3, §4.4): a
// content-addressed map of unspent outputs keyed by TXID‖vout, and the
// SpentSet archive that makes reorg rewinds exact. Modeled on the
// original's MemChainstate/SpentSet (original_source/src/store/mem_chainstate.cpp)
// in the teacher's lock-per-store idiom (blockchain/state/database.go).
package chainstate

import (
	"sync"

	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/txtypes"
)

var logger = log.NewModuleLogger(log.Chainstate)

// Key identifies a UTXO by TXID‖u64_be(vout).
type Key [hashutil.Size + 8]byte

func MakeKey(txid hashutil.Hash, vout uint64) Key {
	var k Key
	copy(k[:hashutil.Size], txid[:])
	voutBytes := hashutil.PutUint64(nil, vout)
	copy(k[hashutil.Size:], voutBytes)
	return k
}

// Record is a single unspent-output entry.
type Record struct {
	Height   uint32
	Coinbase bool
	Amount   uint64
	PubKey   txtypes.PubKey
}

// SpentSet mirrors records removed by accepted blocks, so rewind_block can
// restore them exactly during reorg (spec.md §3, invariant 4).
type SpentSet struct {
	mu      sync.Mutex
	storage map[Key]*Record
}

func NewSpentSet() *SpentSet {
	return &SpentSet{storage: make(map[Key]*Record)}
}

func (s *SpentSet) addSpent(k Key, rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.storage[k]; ok {
		return false
	}
	s.storage[k] = rec
	return true
}

func (s *SpentSet) get(k Key) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.storage[k]
	return rec, ok
}

func (s *SpentSet) remove(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.storage[k]; !ok {
		return false
	}
	delete(s.storage, k)
	return true
}

// Len reports how many archived records the spent set currently holds.
func (s *SpentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.storage)
}

// Chainstate is the per-output unspent record map.
type Chainstate struct {
	mu      sync.Mutex
	storage map[Key]*Record
	spent   *SpentSet
}

func New() *Chainstate {
	return &Chainstate{
		storage: make(map[Key]*Record),
		spent:   NewSpentSet(),
	}
}

// SpentSet exposes the undo archive, e.g. for tests.
func (c *Chainstate) SpentSet() *SpentSet { return c.spent }

// Exists reports whether (txid, vout) is currently unspent.
func (c *Chainstate) Exists(txid hashutil.Hash, vout uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.storage[MakeKey(txid, vout)]
	return ok
}

// Get returns the unspent record for (txid, vout), if any.
func (c *Chainstate) Get(txid hashutil.Hash, vout uint64) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.storage[MakeKey(txid, vout)]
	return rec, ok
}

// addUTXO adds a new unspent record; a pre-existing key is left untouched
// (mirrors the original's "do not add again" semantics).
func (c *Chainstate) addUTXO(txid hashutil.Hash, vout uint64, height uint32, coinbase bool, amount uint64, pubkey txtypes.PubKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := MakeKey(txid, vout)
	if _, ok := c.storage[k]; ok {
		return false
	}
	c.storage[k] = &Record{Height: height, Coinbase: coinbase, Amount: amount, PubKey: pubkey}
	return true
}

// removeUTXO removes the unspent record for (txid, vout); when saveSpent
// is true the removed record is archived into the SpentSet first.
func (c *Chainstate) removeUTXO(txid hashutil.Hash, vout uint64, saveSpent bool) bool {
	c.mu.Lock()
	k := MakeKey(txid, vout)
	rec, ok := c.storage[k]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.storage, k)
	c.mu.Unlock()

	if saveSpent {
		c.spent.addSpent(k, rec)
	}
	return true
}

// AddBlock applies a validated block's effect on the UTXO set at the given
// height: every transaction's outputs become new UTXOs (the first
// transaction's outputs are flagged coinbase), and every non-coinbase
// input's referenced UTXO is removed and archived for undo (spec.md §4.4).
func (c *Chainstate) AddBlock(txs []*txtypes.Transaction, height uint32) {
	isCoinbase := true
	for _, tx := range txs {
		txid := tx.MustTXID()
		for vout, out := range tx.Outputs {
			c.addUTXO(txid, uint64(vout), height, isCoinbase, out.Amount, out.PubKey)
		}
		if !isCoinbase {
			for _, in := range tx.Inputs {
				if !c.removeUTXO(in.TXID, in.Vout, true) {
					logger.Error("add_block removing UTXO that does not exist", "txid", in.TXID.String(), "vout", in.Vout)
				}
			}
		}
		isCoinbase = false
	}
}

// RewindBlock undoes a block's effect: every output it created is
// removed, and every non-coinbase input it spent is restored from the
// SpentSet (spec.md §4.4, invariant 4: rewind(apply(S,B)) = S).
func (c *Chainstate) RewindBlock(txs []*txtypes.Transaction) {
	isCoinbase := true
	for _, tx := range txs {
		txid := tx.MustTXID()
		for vout := range tx.Outputs {
			c.removeUTXO(txid, uint64(vout), false)
		}
		if !isCoinbase {
			for _, in := range tx.Inputs {
				k := MakeKey(in.TXID, in.Vout)
				rec, ok := c.spent.get(k)
				if !ok {
					logger.Error("rewind_block missing spent-set entry", "txid", in.TXID.String(), "vout", in.Vout)
					continue
				}
				c.addUTXO(in.TXID, in.Vout, rec.Height, rec.Coinbase, rec.Amount, rec.PubKey)
				c.spent.remove(k)
			}
		}
		isCoinbase = false
	}
}

// Outpoint identifies a UTXO by its (txid, vout) pair, returned from
// FilterByPubKey.
type Outpoint struct {
	TXID hashutil.Hash
	Vout uint64
}

// FilterByPubKey scans for unspent records owned by pk. Not used on any
// fast path; exists for wallet rescan only (spec.md §9).
func (c *Chainstate) FilterByPubKey(pk txtypes.PubKey) []Outpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Outpoint
	for k, rec := range c.storage {
		if rec.PubKey == pk {
			var txid hashutil.Hash
			copy(txid[:], k[:hashutil.Size])
			vout := hashutil.Uint64(k[hashutil.Size:])
			out = append(out, Outpoint{TXID: txid, Vout: vout})
		}
	}
	return out
}

// Len reports the number of currently unspent records.
func (c *Chainstate) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.storage)
}
