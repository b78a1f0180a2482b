package block

import (
	"errors"

	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/txtypes"
)

var ErrEmptyBlock = errors.New("block: transaction list is empty")
var ErrFirstTxNotCoinbase = errors.New("block: first transaction is not a coinbase")
var ErrCoinbaseNoOutput = errors.New("block: coinbase carries no outputs")

// Block is a header plus its ordered transactions. Block hash = header
// hash (spec.md §3).
type Block struct {
	Header       *Header
	Transactions []*txtypes.Transaction
}

// Hash returns the block's identity: its header's hash.
func (b *Block) Hash() hashutil.Hash { return b.Header.Hash() }

// Coinbase returns the block's first transaction, which must be a
// coinbase per spec.md §3/§4.1.
func (b *Block) Coinbase() *txtypes.Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

// CheckShape validates the three structural invariants that don't require
// chainstate access: non-empty, first-is-coinbase (spec.md §4.1 steps 1-2)
// and a coinbase with at least one output.
func (b *Block) CheckShape() error {
	if len(b.Transactions) == 0 {
		return ErrEmptyBlock
	}
	if !b.Transactions[0].IsCoinbase() {
		return ErrFirstTxNotCoinbase
	}
	if len(b.Transactions[0].Outputs) == 0 {
		return ErrCoinbaseNoOutput
	}
	return nil
}

// ComputeMerkleRoot recomputes the merkle root over this block's TXIDs,
// for comparison against Header.MerkleRoot during validation.
func (b *Block) ComputeMerkleRoot() (hashutil.Hash, error) {
	leaves := make([]hashutil.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		id, err := tx.TXID()
		if err != nil {
			return hashutil.Hash{}, err
		}
		leaves[i] = id
	}
	return hashutil.MerkleRoot(leaves), nil
}

// Serialize writes the canonical wire form: header | tx_count[u64] |
// transactions (spec.md §6). The header is always serialized with proofs
// on the wire.
func (b *Block) Serialize() []byte {
	buf := append([]byte(nil), b.Header.SerializeWithProofs()...)
	buf = hashutil.PutUint64(buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		buf = append(buf, tx.Serialize()...)
	}
	return buf
}

// Deserialize reads a Block from the front of data, returning the
// remaining bytes.
func Deserialize(data []byte) (*Block, []byte, error) {
	h, rest, err := DeserializeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < 8 {
		return nil, nil, errShortHeaderBuffer
	}
	txCount := hashutil.Uint64(rest)
	rest = rest[8:]

	// txCount is attacker-controlled; capacity grows with actual decoded
	// content rather than the claimed count.
	var txs []*txtypes.Transaction
	for i := uint64(0); i < txCount; i++ {
		tx, remaining, err := txtypes.Deserialize(rest)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
		rest = remaining
	}
	return &Block{Header: h, Transactions: txs}, rest, nil
}
