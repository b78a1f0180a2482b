package node

import (
	"sync/atomic"

	"github.com/fhenode/fhenode/wire"
)

// Sync sub-protocol (spec.md §4.9): a freshly-dialed outbound peer is
// chosen as the sync peer. We request blocks one height at a time
// starting just past our own tip via SyncBlock; the peer answers with
// InfoBlock, either the block at that height or OutOfRange once its
// chain is shorter. Reaching OutOfRange flips us to synced and we move
// on to mempool sync via SyncTransactions/ListTransactions.

// maybeStartSync claims p as the sync peer if none is active yet and
// kicks off block download from our current tip.
func (n *Node) maybeStartSync(p *Peer) {
	n.mu.Lock()
	if n.syncPeer != nil {
		n.mu.Unlock()
		return
	}
	n.syncPeer = p
	p.IsSyncPeer = true
	n.nextSyncHeight = uint64(n.Manager.Main.Height()) + 1
	height := n.nextSyncHeight
	n.mu.Unlock()

	atomic.StoreInt32(&n.isSynced, 0)
	logger.Info("starting sync", "peer", p.ID, "from_height", height)
	if err := p.Send(wire.Message{Type: wire.TypeSyncBlock, Payload: wire.SyncBlock{Height: height}.Encode()}); err != nil {
		logger.Warn("sync request failed", "peer", p.ID, "err", err)
		n.abandonSync(p)
	}
}

// abandonSync releases p as the sync peer, re-synced or not: a
// disconnect mid-sync just means we retry against the next outbound
// peer we connect to.
func (n *Node) abandonSync(p *Peer) {
	n.mu.Lock()
	if n.syncPeer == p {
		n.syncPeer = nil
	}
	n.mu.Unlock()
}

// onSyncBlock answers a peer's SyncBlock(height) request with the block
// at that height, or OutOfRange if our chain isn't that tall.
func (n *Node) onSyncBlock(p *Peer, msg wire.Message) error {
	sb, err := wire.DecodeSyncBlock(msg.Payload)
	if err != nil {
		return err
	}
	if sb.Height == 0 || sb.Height > uint64(n.Manager.Main.Height()) {
		return p.Send(wire.Message{Type: wire.TypeInfoBlock, Payload: wire.InfoBlock{OutOfRange: true}.Encode()})
	}
	header := n.Manager.Main.HeaderAt(int(sb.Height))
	blk, ok := n.Blockstore.GetBlock(header.Hash())
	if !ok {
		return p.Send(wire.Message{Type: wire.TypeInfoBlock, Payload: wire.InfoBlock{OutOfRange: true}.Encode()})
	}
	return p.Send(wire.Message{Type: wire.TypeInfoBlock, Payload: wire.InfoBlock{Block: blk}.Encode()})
}

// handleInfoBlockSync is onInfoBlock's pre-sync path: InfoBlock replies
// are interpreted against nextSyncHeight instead of as gossip.
func (n *Node) handleInfoBlockSync(p *Peer, msg wire.Message) error {
	n.mu.Lock()
	isSyncPeer := n.syncPeer == p
	n.mu.Unlock()
	if !isSyncPeer {
		return nil
	}

	ib, err := wire.DecodeInfoBlock(msg.Payload)
	if err != nil {
		return err
	}

	if ib.OutOfRange || ib.Block == nil {
		n.finishBlockSync(p)
		return nil
	}

	if _, _, err := n.Manager.AddBlock(ib.Block, false); err != nil {
		logger.Warn("sync block rejected, abandoning sync peer", "peer", p.ID, "err", err)
		n.abandonSync(p)
		return nil
	}
	n.interruptMiner()

	n.mu.Lock()
	n.nextSyncHeight++
	height := n.nextSyncHeight
	n.mu.Unlock()

	return p.Send(wire.Message{Type: wire.TypeSyncBlock, Payload: wire.SyncBlock{Height: height}.Encode()})
}

// finishBlockSync marks the chain caught up and moves on to mempool
// sync against the same peer.
func (n *Node) finishBlockSync(p *Peer) {
	atomic.StoreInt32(&n.isSynced, 1)
	logger.Info("block sync complete", "peer", p.ID, "height", n.Manager.Main.Height())
	if err := p.Send(wire.Message{Type: wire.TypeSyncTransactions, Payload: wire.SyncTransactions{}.Encode()}); err != nil {
		logger.Debug("mempool sync request failed", "peer", p.ID, "err", err)
	}
}

// onSyncTransactions answers a peer's mempool sync request with our
// full set of pooled TXIDs.
func (n *Node) onSyncTransactions(p *Peer, msg wire.Message) error {
	return p.Send(wire.Message{Type: wire.TypeListTransactions, Payload: wire.ListTransactions{TXIDs: n.Mempool.ListTXIDs()}.Encode()})
}

// onListTransactions diffs the peer's pooled TXIDs against our own and
// requests whichever we don't already have.
func (n *Node) onListTransactions(p *Peer, msg wire.Message) error {
	lt, err := wire.DecodeListTransactions(msg.Payload)
	if err != nil {
		return err
	}
	for _, txid := range lt.TXIDs {
		if n.Mempool.Exists(txid) {
			continue
		}
		p.KnownTransactions.Add(txid)
		if err := p.Send(wire.Message{Type: wire.TypeGetTransaction, Payload: wire.HashPayload{Hash: txid}.Encode()}); err != nil {
			return err
		}
	}
	return nil
}
