package node

import (
	"net"
	"sync"

	"github.com/fhenode/fhenode/common"
	"github.com/fhenode/fhenode/wire"
	"github.com/hashicorp/go-uuid"
)

// knownCacheSize bounds each peer's known-inventory caches, the way the
// teacher's per-peer LRU sets bound memory without touching the
// authoritative stores (spec.md §11 DOMAIN STACK, hashicorp/golang-lru).
const knownCacheSize = 4096

// Peer is one connection's local bookkeeping: its id (for logging/dedup,
// matching the teacher/go-ethereum idiom of a random node id), the
// underlying socket, and what it's known to already have seen.
//
// Reads happen on the peer's own goroutine and are totally ordered
// (spec.md §5): only one message from this peer is ever being handled at
// a time. Writes can come concurrently from gossip broadcasts on other
// goroutines, so writes are serialized by writeMu.
type Peer struct {
	ID      string
	Conn    net.Conn
	Address string

	writeMu sync.Mutex

	KnownBlocks       *common.KnownSet
	KnownTransactions *common.KnownSet
	KnownComputations *common.KnownSet

	Outbound bool

	// IsSyncPeer marks the single outbound peer this node is driving
	// initial chain download against (spec.md §4.9 "Sync sub-protocol").
	IsSyncPeer bool
}

// NewPeer wraps conn with a random id and fresh known-inventory caches.
func NewPeer(conn net.Conn, outbound bool) (*Peer, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	kb, err := common.NewKnownSet(knownCacheSize)
	if err != nil {
		return nil, err
	}
	kt, err := common.NewKnownSet(knownCacheSize)
	if err != nil {
		return nil, err
	}
	kc, err := common.NewKnownSet(knownCacheSize)
	if err != nil {
		return nil, err
	}
	return &Peer{
		ID:                id,
		Conn:              conn,
		Address:           conn.RemoteAddr().String(),
		Outbound:          outbound,
		KnownBlocks:       kb,
		KnownTransactions: kt,
		KnownComputations: kc,
	}, nil
}

// Send writes one framed message to the peer, serialized against
// concurrent broadcasts.
func (p *Peer) Send(msg wire.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wire.WriteMessage(p.Conn, msg)
}
