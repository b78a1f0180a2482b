// Package node implements the connection manager and peer gossip/sync
// state machine of spec.md §4.9/O: an accept goroutine, one goroutine per
// connection running that peer's serialized read loop, and the
// Inv/Get/Info gossip handlers plus initial chain/mempool
// sync. Modeled on the teacher's networks/p2p connection-manager idiom,
// generalized to this protocol's message set.
package node

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fhenode/fhenode/block"
	"github.com/fhenode/fhenode/blockstore"
	"github.com/fhenode/fhenode/chainmanager"
	"github.com/fhenode/fhenode/compstore"
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/config"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/mempool"
	"github.com/fhenode/fhenode/txtypes"
	"github.com/fhenode/fhenode/wallet"
	"github.com/fhenode/fhenode/wire"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

var logger = log.NewModuleLogger(log.Node)

var messagesReceived = metrics.NewRegisteredCounter("node/messages/received", nil)

// Node is the connection manager: it owns every peer connection and
// drives the gossip and sync state machines against the shared chain
// manager, mempool and computation store. Accepting, dialing and each
// connection's read loop run on separate goroutines; there is no single
// event-loop thread, and RPC is served outside the Node.
type Node struct {
	mu    sync.Mutex
	peers map[string]*Peer

	cfg config.Net

	Manager    *chainmanager.Manager
	Mempool    *mempool.Pool
	Compstore  *compstore.Store
	Blockstore *blockstore.Store
	Wallet     *wallet.Wallet

	router   *wire.Router
	listener net.Listener

	syncPeer       *Peer
	nextSyncHeight uint64
	isSynced       int32 // atomic bool

	// StopFlag is the single shared cancellation channel plumbed into the
	// miner and, through it, every active computation (spec.md §5, §9).
	StopFlag *int32
}

// New wires a Node around its shared collaborators and registers every
// message handler with the router.
func New(cfg config.Net, mgr *chainmanager.Manager, mp *mempool.Pool, cst *compstore.Store, bs *blockstore.Store, w *wallet.Wallet) *Node {
	n := &Node{
		peers:      make(map[string]*Peer),
		cfg:        cfg,
		Manager:    mgr,
		Mempool:    mp,
		Compstore:  cst,
		Blockstore: bs,
		Wallet:     w,
		StopFlag:   new(int32),
	}
	// A node with no sync in progress is trivially synced (e.g. the first
	// node on a fresh network, or once maybeStartSync has nothing to do).
	n.isSynced = 1
	n.router = wire.NewRouter()
	n.registerHandlers()
	return n
}

func (n *Node) registerHandlers() {
	n.router.Handle(wire.TypeHello, wrap(n.onHello))
	n.router.Handle(wire.TypeGetAddr, wrap(n.onGetAddr))
	n.router.Handle(wire.TypeAddr, wrap(n.onAddr))

	n.router.Handle(wire.TypeInvBlock, wrap(n.onInvBlock))
	n.router.Handle(wire.TypeGetBlock, wrap(n.onGetBlock))
	n.router.Handle(wire.TypeInfoBlock, wrap(n.onInfoBlock))

	n.router.Handle(wire.TypeInvTransaction, wrap(n.onInvTransaction))
	n.router.Handle(wire.TypeGetTransaction, wrap(n.onGetTransaction))
	n.router.Handle(wire.TypeInfoTransaction, wrap(n.onInfoTransaction))

	n.router.Handle(wire.TypeInvComputation, wrap(n.onInvComputation))
	n.router.Handle(wire.TypeGetComputation, wrap(n.onGetComputation))
	n.router.Handle(wire.TypeInfoComputation, wrap(n.onInfoComputation))

	n.router.Handle(wire.TypeSyncBlock, wrap(n.onSyncBlock))
	n.router.Handle(wire.TypeSyncTransactions, wrap(n.onSyncTransactions))
	n.router.Handle(wire.TypeListTransactions, wrap(n.onListTransactions))
}

// wrap adapts a (*Peer, wire.Message) handler to wire.Handler's opaque-ctx
// signature.
func wrap(f func(p *Peer, msg wire.Message) error) wire.Handler {
	return func(ctx interface{}, msg wire.Message) error {
		return f(ctx.(*Peer), msg)
	}
}

// Start opens the listener, dials the configured bootstrap peers, and
// begins accepting inbound connections. Matches the original's
// constructor-time bootstrap dial (spec.md §12).
func (n *Node) Start() error {
	addr := net.JoinHostPort(n.cfg.Address, strconv.Itoa(int(n.cfg.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "node: listen on %s", addr)
	}
	n.listener = ln

	for _, bp := range n.cfg.Bootstrap {
		go n.dial(net.JoinHostPort(bp.Address, strconv.Itoa(int(bp.Port))))
	}

	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			logger.Error("accept failed", "err", err)
			return
		}
		n.mu.Lock()
		full := len(n.inboundPeersLocked()) >= n.cfg.InboundPeersLimit
		n.mu.Unlock()
		if full {
			conn.Close()
			continue
		}
		go n.handleConn(conn, false)
	}
}

func (n *Node) inboundPeersLocked() []*Peer {
	var out []*Peer
	for _, p := range n.peers {
		if !p.Outbound {
			out = append(out, p)
		}
	}
	return out
}

// dial connects outbound to addr and starts its read loop.
func (n *Node) dial(addr string) {
	n.mu.Lock()
	count := 0
	for _, p := range n.peers {
		if p.Outbound {
			count++
		}
	}
	full := count >= n.cfg.OutboundPeersLimit
	n.mu.Unlock()
	if full {
		return
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.Warn("dial failed", "addr", addr, "err", err)
		return
	}
	n.handleConn(conn, true)
}

// handleConn registers the peer and runs its read loop until the
// connection closes or an invalid message is seen (spec.md §6 "Invalid
// types close the connection").
func (n *Node) handleConn(conn net.Conn, outbound bool) {
	p, err := NewPeer(conn, outbound)
	if err != nil {
		conn.Close()
		return
	}

	n.mu.Lock()
	n.peers[p.ID] = p
	n.mu.Unlock()
	logger.Info("peer connected", "id", p.ID, "addr", p.Address, "outbound", outbound)

	defer func() {
		n.mu.Lock()
		delete(n.peers, p.ID)
		if n.syncPeer == p {
			n.syncPeer = nil
		}
		n.mu.Unlock()
		conn.Close()
		logger.Info("peer disconnected", "id", p.ID)
	}()

	if outbound {
		_ = p.Send(wire.Message{Type: wire.TypeHello, Payload: wire.Hello{Version: 1, Height: n.Manager.Main.Height()}.Encode()})
		n.maybeStartSync(p)
	}

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		messagesReceived.Inc(1)
		if err := n.router.Dispatch(p, msg); err != nil {
			logger.Debug("message handling failed, closing connection", "id", p.ID, "type", msg.Type.String(), "err", err)
			return
		}
	}
}

// Broadcast sends msg to every connected peer except (optionally) one.
func (n *Node) Broadcast(msg wire.Message, except *Peer) {
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p != except {
			peers = append(peers, p)
		}
	}
	n.mu.Unlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			logger.Debug("broadcast send failed", "id", p.ID, "err", err)
		}
	}
}

func (n *Node) IsSynced() bool { return atomic.LoadInt32(&n.isSynced) != 0 }

func (n *Node) setSynced() { atomic.StoreInt32(&n.isSynced, 1) }

// AcceptNewBlock runs an externally-produced block through the chain
// manager and gossips it on acceptance, mirroring the Info-handler's "on
// first-time acceptance broadcast Inv(hash) to all peers" rule (spec.md
// §4.9).
func (n *Node) AcceptNewBlock(blk *block.Block) (bool, error) {
	accepted, _, err := n.Manager.AddBlock(blk, false)
	if err != nil {
		return false, err
	}
	if accepted {
		n.interruptMiner()
		n.Broadcast(wire.Message{Type: wire.TypeInvBlock, Payload: wire.HashPayload{Hash: blk.Hash()}.Encode()}, nil)
	}
	return accepted, nil
}

// AcceptMinedBlock admits a block this node's own miner just produced: the
// miner already ran full construction-time validation, so the trusted
// append path applies (spec.md §4.3 step 1), followed by the same Inv
// broadcast any first-time acceptance triggers.
func (n *Node) AcceptMinedBlock(blk *block.Block) error {
	if _, _, err := n.Manager.AddBlock(blk, true); err != nil {
		return err
	}
	n.Broadcast(wire.Message{Type: wire.TypeInvBlock, Payload: wire.HashPayload{Hash: blk.Hash()}.Encode()}, nil)
	return nil
}

// interruptMiner raises the shared stop flag: a competing block was just
// accepted, so the miner's in-flight round is building atop a stale tip
// and must abort at its next poll (spec.md §2, §5). The miner re-lowers
// the flag itself at the start of its next round.
func (n *Node) interruptMiner() {
	atomic.StoreInt32(n.StopFlag, 1)
}

// AcceptNewTransaction validates tx against current chainstate and pools
// it, gossiping on first-time acceptance.
func (n *Node) AcceptNewTransaction(tx *txtypes.Transaction) (bool, error) {
	if err := n.validateMempoolTx(tx); err != nil {
		return false, err
	}
	txid := tx.MustTXID()
	if !n.Mempool.AddValidTx(tx) {
		return false, nil
	}
	n.Broadcast(wire.Message{Type: wire.TypeInvTransaction, Payload: wire.HashPayload{Hash: txid}.Encode()}, nil)
	return true, nil
}

func (n *Node) validateMempoolTx(tx *txtypes.Transaction) error {
	if tx.IsCoinbase() {
		return errCoinbaseInMempool
	}
	if len(tx.Inputs) == 0 {
		return errNoInputs
	}
	var pubkeys []txtypes.PubKey
	var inSum, outSum uint64
	for _, in := range tx.Inputs {
		rec, ok := n.Manager.Main.Chainstate.Get(in.TXID, in.Vout)
		if !ok {
			return errUnknownInput
		}
		in.InputAmount = rec.Amount
		in.InputPubKey = rec.PubKey
		pubkeys = append(pubkeys, rec.PubKey)
		inSum += rec.Amount
	}
	for _, out := range tx.Outputs {
		outSum += out.Amount
	}
	if outSum > inSum {
		return errOverspend
	}
	for i := range tx.Inputs {
		if err := txtypes.VerifyInput(tx, i, pubkeys); err != nil {
			return errBadMempoolSignature
		}
	}
	return nil
}

// AcceptNewComputation stores a client-submitted computation and gossips
// it on first-time acceptance.
func (n *Node) AcceptNewComputation(c compute.Computation) bool {
	if !n.Compstore.StoreComputation(c) {
		return false
	}
	n.Broadcast(wire.Message{Type: wire.TypeInvComputation, Payload: wire.HashPayload{Hash: c.Hash()}.Encode()}, nil)
	return true
}

var (
	errCoinbaseInMempool   = errors.New("node: coinbase transactions cannot enter the mempool")
	errNoInputs            = errors.New("node: transaction has no inputs")
	errUnknownInput        = errors.New("node: referenced input is not an unspent output")
	errOverspend           = errors.New("node: transaction outputs exceed its inputs")
	errBadMempoolSignature = errors.New("node: transaction signature verification failed")
)
