// Package wire implements the node-to-node framing and message types of
// spec.md §4.9/N: an 8-byte header (u32_be length, u32_be type) followed
// by a typed payload, and the closed message-type enum the gossip and
// sync state machines dispatch on. Modeled on the teacher's
// networks/p2p wire-framing idiom, generalized to this protocol's
// message set.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/hashutil"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/pkg/errors"
)

// Type is the closed enum of wire message types (spec.md §4.9).
type Type uint32

const (
	TypeHello Type = iota
	TypeGetAddr
	TypeAddr
	TypeInvalid
	TypeInvBlock
	TypeGetBlock
	TypeInfoBlock
	TypeInvTransaction
	TypeGetTransaction
	TypeInfoTransaction
	TypeInvComputation
	TypeGetComputation
	TypeInfoComputation
	TypeSyncBlock
	TypeSyncTransactions
	TypeListTransactions
)

var typeNames = map[Type]string{
	TypeHello:            "HELLO",
	TypeGetAddr:          "GET_ADDR",
	TypeAddr:             "ADDR",
	TypeInvalid:          "INVALID",
	TypeInvBlock:         "INV_BLOCK",
	TypeGetBlock:         "GET_BLOCK",
	TypeInfoBlock:        "INFO_BLOCK",
	TypeInvTransaction:   "INV_TRANSACTION",
	TypeGetTransaction:   "GET_TRANSACTION",
	TypeInfoTransaction:  "INFO_TRANSACTION",
	TypeInvComputation:   "INV_COMPUTATION",
	TypeGetComputation:   "GET_COMPUTATION",
	TypeInfoComputation:  "INFO_COMPUTATION",
	TypeSyncBlock:        "SYNC_BLOCK",
	TypeSyncTransactions: "SYNC_TRANSACTIONS",
	TypeListTransactions: "LIST_TRANSACTIONS",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Valid reports whether t is a known message type. Invalid types close
// the connection (spec.md §6).
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ErrMalformed is returned by the Decode functions on a truncated or
// otherwise unparsable payload (DecodeInfoBlock and DecodeInfoTransaction
// wrap the block or transaction decoder's error instead); either way the
// connection simply reads the next frame (spec.md §7 "Malformed").
var ErrMalformed = errors.New("wire: malformed message payload")

// Message is one length-prefixed, typed frame.
type Message struct {
	Type    Type
	Payload []byte
}

// MaxFrameLength bounds a single frame's payload so a malicious or buggy
// peer can't force an unbounded allocation.
const MaxFrameLength = 64 << 20 // 64 MiB

// WriteMessage frames and writes msg to w: u32_be length | u32_be type |
// payload (spec.md §6).
func WriteMessage(w io.Writer, msg Message) error {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(msg.Payload)))
	binary.BigEndian.PutUint32(header[4:8], uint32(msg.Type))
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "wire: write frame header")
	}
	if len(msg.Payload) > 0 {
		if _, err := w.Write(msg.Payload); err != nil {
			return errors.Wrap(err, "wire: write frame payload")
		}
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	typ := Type(binary.BigEndian.Uint32(header[4:8]))
	if length > MaxFrameLength {
		return Message{}, errors.New("wire: frame length exceeds maximum")
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, errors.Wrap(err, "wire: read frame payload")
		}
	}
	return Message{Type: typ, Payload: payload}, nil
}

// --- payload codecs ---
//
// Every payload codec below is a thin, self-contained big-endian
// encoding; none depend on each other so the router can decode exactly
// the payload a given Type implies.

// Hello is the peer handshake payload: protocol version and the chain
// height the sender claims.
type Hello struct {
	Version uint32
	Height  uint32
}

func (h Hello) Encode() []byte {
	buf := make([]byte, 0, 8)
	buf = hashutil.PutUint32(buf, h.Version)
	buf = hashutil.PutUint32(buf, h.Height)
	return buf
}

func DecodeHello(b []byte) (Hello, error) {
	if len(b) < 8 {
		return Hello{}, ErrMalformed
	}
	return Hello{Version: hashutil.Uint32(b), Height: hashutil.Uint32(b[4:])}, nil
}

// Addr carries a list of "address:port" strings.
type Addr struct {
	Peers []string
}

func (a Addr) Encode() []byte {
	buf := hashutil.PutUint64(nil, uint64(len(a.Peers)))
	for _, p := range a.Peers {
		buf = hashutil.PutUint64(buf, uint64(len(p)))
		buf = append(buf, []byte(p)...)
	}
	return buf
}

func DecodeAddr(b []byte) (Addr, error) {
	if len(b) < 8 {
		return Addr{}, ErrMalformed
	}
	count := hashutil.Uint64(b)
	b = b[8:]
	a := Addr{}
	for i := uint64(0); i < count; i++ {
		if len(b) < 8 {
			return Addr{}, ErrMalformed
		}
		n := hashutil.Uint64(b)
		b = b[8:]
		if uint64(len(b)) < n {
			return Addr{}, ErrMalformed
		}
		a.Peers = append(a.Peers, string(b[:n]))
		b = b[n:]
	}
	return a, nil
}

// HashPayload is the shared shape of Inv(hash) / Get(hash) for any of
// block/transaction/computation (spec.md §4.9 gossip state machine).
type HashPayload struct {
	Hash hashutil.Hash
}

func (p HashPayload) Encode() []byte { return append([]byte(nil), p.Hash[:]...) }

func DecodeHashPayload(b []byte) (HashPayload, error) {
	if len(b) < hashutil.Size {
		return HashPayload{}, ErrMalformed
	}
	var p HashPayload
	copy(p.Hash[:], b[:hashutil.Size])
	return p, nil
}

// InfoBlock answers GetBlock (unsolicited, keyed by height during sync)
// with the block at the requested height, or OutOfRange if the sender's
// chain is not that tall (spec.md §4.9 "Sync sub-protocol").
type InfoBlock struct {
	OutOfRange bool
	Block      *block.Block
}

func (p InfoBlock) Encode() []byte {
	if p.OutOfRange {
		return []byte{1}
	}
	buf := []byte{0}
	buf = append(buf, p.Block.Serialize()...)
	return buf
}

func DecodeInfoBlock(b []byte) (InfoBlock, error) {
	if len(b) < 1 {
		return InfoBlock{}, ErrMalformed
	}
	if b[0] == 1 {
		return InfoBlock{OutOfRange: true}, nil
	}
	blk, _, err := block.Deserialize(b[1:])
	if err != nil {
		return InfoBlock{}, errors.Wrap(err, "wire: decode InfoBlock")
	}
	return InfoBlock{Block: blk}, nil
}

// InfoTransaction carries a full transaction, answering GetTransaction.
type InfoTransaction struct {
	Tx *txtypes.Transaction
}

func (p InfoTransaction) Encode() []byte { return p.Tx.Serialize() }

func DecodeInfoTransaction(b []byte) (InfoTransaction, error) {
	tx, _, err := txtypes.Deserialize(b)
	if err != nil {
		return InfoTransaction{}, errors.Wrap(err, "wire: decode InfoTransaction")
	}
	return InfoTransaction{Tx: tx}, nil
}

// InfoComputation carries a full computation wire form, answering
// GetComputation.
type InfoComputation struct {
	Wire []byte
}

func (p InfoComputation) Encode() []byte { return append([]byte(nil), p.Wire...) }

func DecodeInfoComputation(b []byte) (InfoComputation, error) {
	return InfoComputation{Wire: append([]byte(nil), b...)}, nil
}

// SyncBlock requests the block at the given height during initial chain
// download (spec.md §4.9 "Sync sub-protocol").
type SyncBlock struct {
	Height uint64
}

func (p SyncBlock) Encode() []byte { return hashutil.PutUint64(nil, p.Height) }

func DecodeSyncBlock(b []byte) (SyncBlock, error) {
	if len(b) < 8 {
		return SyncBlock{}, ErrMalformed
	}
	return SyncBlock{Height: hashutil.Uint64(b)}, nil
}

// SyncTransactions requests mempool gossip: the receiver replies with
// ListTransactions.
type SyncTransactions struct{}

func (p SyncTransactions) Encode() []byte { return nil }

// ListTransactions carries the sender's mempool TXIDs for the receiver to
// diff against its own and GetTransaction the unknowns.
type ListTransactions struct {
	TXIDs []hashutil.Hash
}

func (p ListTransactions) Encode() []byte {
	buf := hashutil.PutUint64(nil, uint64(len(p.TXIDs)))
	for _, id := range p.TXIDs {
		buf = append(buf, id[:]...)
	}
	return buf
}

func DecodeListTransactions(b []byte) (ListTransactions, error) {
	if len(b) < 8 {
		return ListTransactions{}, ErrMalformed
	}
	count := hashutil.Uint64(b)
	b = b[8:]
	// Division-form bound check: count*Size would overflow for a hostile
	// count and wrap past the real payload length.
	if count > uint64(len(b))/hashutil.Size {
		return ListTransactions{}, ErrMalformed
	}
	lt := ListTransactions{}
	for i := uint64(0); i < count; i++ {
		var h hashutil.Hash
		copy(h[:], b[:hashutil.Size])
		b = b[hashutil.Size:]
		lt.TXIDs = append(lt.TXIDs, h)
	}
	return lt, nil
}
