// Package wallet implements the node's own keypair, coin tracking and
// transaction construction (spec.md §4/M), plus the gen_keys-style
// bootstrap and base64-JSON persistence spec.md §12 supplements from
// original_source/src/gen_keys.cpp (wallet key material only — this does
// not conflict with the "no persistent storage" Non-goal, which scopes
// the four shared chain stores, not key custody).
package wallet

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"github.com/fhenode/fhenode/chainstate"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

var logger = log.NewModuleLogger(log.Wallet)

// ErrInsufficientFunds is surfaced to the RPC layer as 402 (spec.md §7).
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// Coin is a UTXO this wallet believes it owns.
type Coin struct {
	TXID   hashutil.Hash
	Vout   uint64
	Amount uint64
}

// Wallet tracks one ed25519 keypair and the set of coins currently known
// to pay to it.
type Wallet struct {
	mu sync.Mutex

	priv ed25519.PrivateKey
	pub  txtypes.PubKey

	coins map[chainstate.Key]Coin
}

// New generates a fresh ed25519 keypair, matching the original's
// gen_keys bootstrap step.
func New() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: generate keypair")
	}
	w := &Wallet{priv: priv, coins: make(map[chainstate.Key]Coin)}
	copy(w.pub[:], pub)
	return w, nil
}

// walletFile is the on-disk JSON shape: base64 keys, matching the
// original's key-provisioning step.
type walletFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Load reads a previously saved keypair from path.
func Load(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wallet: open %s", path)
	}
	defer f.Close()

	var wf walletFile
	if err := json.NewDecoder(f).Decode(&wf); err != nil {
		return nil, errors.Wrapf(err, "wallet: decode %s", path)
	}
	privBytes, err := base64.StdEncoding.DecodeString(wf.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "wallet: decode private key")
	}
	w := &Wallet{priv: ed25519.PrivateKey(privBytes), coins: make(map[chainstate.Key]Coin)}
	copy(w.pub[:], w.priv.Public().(ed25519.PublicKey))
	return w, nil
}

// Save writes this wallet's keypair to path as base64-encoded JSON.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	wf := walletFile{
		PublicKey:  base64.StdEncoding.EncodeToString(w.pub[:]),
		PrivateKey: base64.StdEncoding.EncodeToString(w.priv),
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "wallet: create %s", path)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(wf)
}

// PubKey returns this wallet's public key.
func (w *Wallet) PubKey() txtypes.PubKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pub
}

// Balance sums every coin this wallet currently believes it owns.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total uint64
	for _, c := range w.coins {
		total += c.Amount
	}
	return total
}

// Coins returns a snapshot of the currently tracked coins.
func (w *Wallet) Coins() []Coin {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Coin, 0, len(w.coins))
	for _, c := range w.coins {
		out = append(out, c)
	}
	return out
}

// ObserveBlock updates coin tracking for one accepted block: every output
// paying this wallet's pubkey becomes a tracked coin, and every
// non-coinbase input this block spends removes the matching tracked coin
// (spec.md §4 "M Wallet: coin tracking").
func (w *Wallet) ObserveBlock(txs []*txtypes.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	isCoinbase := true
	for _, tx := range txs {
		txid := tx.MustTXID()
		for vout, out := range tx.Outputs {
			if out.PubKey == w.pub {
				k := chainstate.MakeKey(txid, uint64(vout))
				w.coins[k] = Coin{TXID: txid, Vout: uint64(vout), Amount: out.Amount}
			}
		}
		if !isCoinbase {
			for _, in := range tx.Inputs {
				delete(w.coins, chainstate.MakeKey(in.TXID, in.Vout))
			}
		}
		isCoinbase = false
	}
}

// Rescan rebuilds the tracked coin set from scratch against the given
// chainstate, using FilterByPubKey — the path spec.md §9 notes is not used
// on any fast path, only for wallet rescan after a reorg rewrote the main
// chain (spec.md §4.3 "Finally rescan the wallet").
func (w *Wallet) Rescan(cs *chainstate.Chainstate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fresh := make(map[chainstate.Key]Coin)
	for _, op := range cs.FilterByPubKey(w.pub) {
		rec, ok := cs.Get(op.TXID, op.Vout)
		if !ok {
			continue
		}
		fresh[chainstate.MakeKey(op.TXID, op.Vout)] = Coin{TXID: op.TXID, Vout: op.Vout, Amount: rec.Amount}
	}
	w.coins = fresh
	logger.Info("wallet rescanned", "coins", len(w.coins), "balance", sum(fresh))
}

func sum(coins map[chainstate.Key]Coin) uint64 {
	var total uint64
	for _, c := range coins {
		total += c.Amount
	}
	return total
}

// BuildTransaction selects coins to cover amount+fee, builds a
// single-recipient transaction with change returned to this wallet, and
// signs every input (spec.md §4 "M Wallet: transaction construction").
// Returns ErrInsufficientFunds if the tracked coins cannot cover the
// total.
func (w *Wallet) BuildTransaction(recipient txtypes.PubKey, amount, fee uint64) (*txtypes.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	need := amount + fee
	var selected []Coin
	var total uint64
	for _, c := range w.coins {
		selected = append(selected, c)
		total += c.Amount
		if total >= need {
			break
		}
	}
	if total < need {
		return nil, ErrInsufficientFunds
	}

	tx := &txtypes.Transaction{
		Outputs: []*txtypes.TransactionOutput{{Amount: amount, PubKey: recipient}},
	}
	if change := total - need; change > 0 {
		tx.Outputs = append(tx.Outputs, &txtypes.TransactionOutput{Amount: change, PubKey: w.pub})
	}

	pubkeys := make([]txtypes.PubKey, len(selected))
	for i, c := range selected {
		tx.Inputs = append(tx.Inputs, &txtypes.TransactionInput{
			TXID:        c.TXID,
			Vout:        c.Vout,
			InputAmount: c.Amount,
			InputPubKey: w.pub,
		})
		pubkeys[i] = w.pub
	}
	for i := range tx.Inputs {
		txtypes.SignInput(tx, i, w.priv, pubkeys)
	}
	return tx, nil
}
