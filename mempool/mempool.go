// Package mempool is the node's pending-transaction pool (spec.md §4.5/H):
// a TXID-keyed map, a fee-ordered set for block assembly, and a UTXO-ref
// index used to evict transactions a newly accepted block has invalidated.
// Modeled directly on the original's MemPool (original_source/src/store/mem_pool.cpp),
// in the teacher's lock-per-store idiom, using google/btree for the
// ordered set the way the original uses an ordered std::set of
// fee‖TXID byte strings.
package mempool

import (
	"bytes"
	"sync"

	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/google/btree"
	"github.com/rcrowley/go-metrics"
)

var logger = log.NewModuleLogger(log.Mempool)

var poolSizeGauge = metrics.NewRegisteredGauge("mempool/size", nil)

const btreeDegree = 32

// feeKey is the btree.Item backing the fee-ordered set: fee‖TXID,
// big-endian fee first so lexicographic byte comparison sorts by fee,
// breaking ties by TXID (mirrors concat_txid_fee_pair in the original,
// but stored fee-first so Descend yields highest-fee-first directly).
type feeKey struct {
	fee  uint64
	txid hashutil.Hash
	tx   *txtypes.Transaction
}

func (k *feeKey) bytes() []byte {
	b := hashutil.PutUint64(nil, k.fee)
	return append(b, k.txid[:]...)
}

func (k *feeKey) Less(than btree.Item) bool {
	other := than.(*feeKey)
	return bytes.Compare(k.bytes(), other.bytes()) < 0
}

// Pool is the mempool of not-yet-mined, validated transactions.
type Pool struct {
	mu sync.Mutex

	storage map[hashutil.Hash]*txtypes.Transaction
	order   *btree.BTree
	utxoRef map[hashutil.Hash][]*txtypes.Transaction // output hash -> referencing txs
}

func New() *Pool {
	return &Pool{
		storage: make(map[hashutil.Hash]*txtypes.Transaction),
		order:   btree.New(btreeDegree),
		utxoRef: make(map[hashutil.Hash][]*txtypes.Transaction),
	}
}

// AddValidTx inserts tx, which the caller has already validated against
// current chainstate (fee, signatures, spendability). Returns false if a
// transaction with the same TXID is already pooled.
func (p *Pool) AddValidTx(tx *txtypes.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.addValidTxLocked(tx)
	poolSizeGauge.Update(int64(len(p.storage)))
	return ok
}

func (p *Pool) addValidTxLocked(tx *txtypes.Transaction) bool {
	txid := tx.MustTXID()
	if _, ok := p.storage[txid]; ok {
		return false
	}

	p.storage[txid] = tx
	p.order.ReplaceOrInsert(&feeKey{fee: tx.Fee(), txid: txid, tx: tx})

	for _, h := range referencedOutputHashes(tx) {
		p.utxoRef[h] = append(p.utxoRef[h], tx)
	}
	return true
}

// referencedOutputHashes returns the output identity hash of every
// prospective UTXO tx's inputs consume (spec.md §3 "Output identity =
// keyed hash of its serialization; used as key in the mempool's
// UTXO-reference index"). Requires InputAmount/InputPubKey to already be
// populated, as add_valid_tx's contract guarantees (spec.md §4.5).
func referencedOutputHashes(tx *txtypes.Transaction) []hashutil.Hash {
	hashes := make([]hashutil.Hash, len(tx.Inputs))
	for i, in := range tx.Inputs {
		hashes[i] = (&txtypes.TransactionOutput{Amount: in.InputAmount, PubKey: in.InputPubKey}).Hash()
	}
	return hashes
}

// removeTxLocked drops tx from every index. Does not touch utxoRef
// entries belonging to other transactions.
func (p *Pool) removeTxLocked(tx *txtypes.Transaction) bool {
	txid := tx.MustTXID()
	if _, ok := p.storage[txid]; !ok {
		return false
	}

	delete(p.storage, txid)
	p.order.Delete(&feeKey{fee: tx.Fee(), txid: txid})

	for _, h := range referencedOutputHashes(tx) {
		record := p.utxoRef[h]
		if len(record) <= 1 {
			delete(p.utxoRef, h)
			continue
		}
		for i, t := range record {
			if t.Equal(tx) {
				p.utxoRef[h] = append(record[:i], record[i+1:]...)
				break
			}
		}
	}
	return true
}

// spendTxLocked removes tx and every other pooled transaction that
// references one of the same prospective UTXOs — those other
// transactions would spend an output the chain is about to claim on
// tx's behalf, so they can no longer be valid (mirrors spend_tx_unsafe
// in the original, and spec.md §4.5's "evict every other mempool
// transaction referencing that output hash").
func (p *Pool) spendTxLocked(tx *txtypes.Transaction) bool {
	txid := tx.MustTXID()
	if _, ok := p.storage[txid]; !ok {
		return false
	}

	delete(p.storage, txid)
	p.order.Delete(&feeKey{fee: tx.Fee(), txid: txid})

	for _, h := range referencedOutputHashes(tx) {
		for _, other := range p.utxoRef[h] {
			if other.Equal(tx) {
				continue
			}
			otherID := other.MustTXID()
			logger.Debug("evicting double-spend conflict", "txid", otherID.String())
			delete(p.storage, otherID)
			p.order.Delete(&feeKey{fee: other.Fee(), txid: otherID})
		}
		delete(p.utxoRef, h)
	}
	return true
}

// SpendBlock evicts every pooled transaction that conflicts with a
// transaction now confirmed in blk — block transactions themselves are
// dropped from the pool too (they're mined), and any other pooled
// transaction spending the same output is invalidated alongside them.
// Coinbase is skipped (spec.md §4.5: mempool never holds coinbase txs).
func (p *Pool) SpendBlock(txs []*txtypes.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, tx := range txs {
		if i == 0 {
			continue // coinbase
		}
		p.spendTxLocked(tx)
	}
	poolSizeGauge.Update(int64(len(p.storage)))
}

// GetTop returns up to limit pooled transactions ordered by descending
// fee, for block assembly. NOTE (carried from the original): this does
// not exclude transactions that reference the same UTXO as one another,
// exactly like get_top in the original — the miner/validate_block path
// is the one place that is expected to filter those out.
func (p *Pool) GetTop(limit uint64) []*txtypes.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res []*txtypes.Transaction
	p.order.Descend(func(item btree.Item) bool {
		if uint64(len(res)) >= limit {
			return false
		}
		res = append(res, item.(*feeKey).tx)
		return true
	})
	return res
}

// GetTx returns the pooled transaction with the given TXID, if any.
func (p *Pool) GetTx(txid hashutil.Hash) (*txtypes.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.storage[txid]
	return tx, ok
}

// Exists reports whether txid is currently pooled.
func (p *Pool) Exists(txid hashutil.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.storage[txid]
	return ok
}

// RemoveTx drops tx from the pool without touching any other
// transaction (used when a tx is discovered invalid on its own, e.g.
// expired or double-signed, rather than because it conflicts with a
// newly mined block).
func (p *Pool) RemoveTx(tx *txtypes.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.removeTxLocked(tx)
	poolSizeGauge.Update(int64(len(p.storage)))
	return ok
}

// Len reports how many transactions are currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.storage)
}

// ListTXIDs returns every pooled TXID, used to answer ListTransactions
// wire requests (spec.md §5).
func (p *Pool) ListTXIDs() []hashutil.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]hashutil.Hash, 0, len(p.storage))
	for id := range p.storage {
		res = append(res, id)
	}
	return res
}
