// Package miner implements block construction and proof binding (spec.md
// §4.7/L): coinbase synthesis, per-computation binding and proof
// generation against a shared cooperative stop flag, and the
// stop-flag-observed cancellation contract. Modeled on the teacher's
// work/worker.go and work/agent.go mining-loop idiom, cross-checked
// against other_examples/...d37dd630_IGSON2-berith_log__miner-worker.go.go
// and other_examples/...67cf45e0_n42blockchain-N42__internal-miner-worker.go.go.
package miner

import (
	"sync/atomic"
	"time"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/fhenode/fhenode/wallet"
	"github.com/rcrowley/go-metrics"
)

var logger = log.NewModuleLogger(log.Miner)

var (
	proofsAttempted = metrics.NewRegisteredCounter("miner/proofs/attempted", nil)
	proofsCancelled = metrics.NewRegisteredCounter("miner/proofs/cancelled", nil)
	blocksMined     = metrics.NewRegisteredCounter("miner/blocks", nil)
)

// Result is what Mine returns: either a fully proved block, or
// HaveResult=false if the shared stop flag fired mid-proof (spec.md §4.7
// step 5: "no partial block").
type Result struct {
	Block      *block.Block
	HaveResult bool
}

// Mine builds a block at height atop prevHeader paying reward+fees to
// wallet.PubKey(), binds and proves every computation in comps against
// the block's header, and returns the finished block. stopFlag is
// installed into every computation before proof work begins and polled
// cooperatively; any computation observing it during proof work aborts
// the whole round with no partial result (spec.md §4.7, §5).
func Mine(prevHeader *block.Header, height uint32, difficulty uint32, reward uint64, txs []*txtypes.Transaction, comps []compute.Computation, w *wallet.Wallet, stopFlag *int32) Result {
	var allowedFee uint64
	for _, tx := range txs {
		allowedFee += tx.Fee()
	}

	cb := &txtypes.Transaction{
		Inputs:  []*txtypes.TransactionInput{txtypes.NewCoinbaseInput(height)},
		Outputs: []*txtypes.TransactionOutput{{Amount: reward + allowedFee, PubKey: w.PubKey()}},
	}

	allTxs := make([]*txtypes.Transaction, 0, len(txs)+1)
	allTxs = append(allTxs, cb)
	allTxs = append(allTxs, txs...)

	leaves := make([]hashutil.Hash, len(allTxs))
	for i, tx := range allTxs {
		leaves[i] = tx.MustTXID()
	}

	header := &block.Header{
		PrevHash:     prevHeader.Hash(),
		PrevHeader:   prevHeader,
		MerkleRoot:   hashutil.MerkleRoot(leaves),
		Timestamp:    uint64(nowUnix()),
		Difficulty:   difficulty,
		Computations: comps,
	}

	// Lower the flag once per round, before any computation starts: a
	// cancellation raised mid-round must hold across every computation
	// still to come in this round (spec.md §5 "it re-lowers the flag
	// before starting the next mining round").
	atomic.StoreInt32(stopFlag, 0)
	for i, c := range comps {
		c.SetStopFlag(stopFlag)
		preimage := header.BindingPreimage(i)
		c.Bind(preimage)

		proofsAttempted.Inc(1)
		if err := c.GenerateProof(); err != nil {
			if err == compute.ErrCancelled {
				proofsCancelled.Inc(1)
				logger.Info("mining cancelled by stop flag", "computation_index", i)
				return Result{HaveResult: false}
			}
			logger.Error("proof generation failed", "computation_index", i, "err", err)
			return Result{HaveResult: false}
		}
	}

	blk := &block.Block{Header: header, Transactions: allTxs}
	blocksMined.Inc(1)
	return Result{Block: blk, HaveResult: true}
}

// nowUnix is split out so tests can deterministically control the header
// timestamp without monkeypatching time.Now.
var nowUnix = func() int64 { return time.Now().Unix() }
