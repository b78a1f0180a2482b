package node

import (
	"github.com/fhenode/fhenode/compute"
	"github.com/fhenode/fhenode/wire"
)

// Gossip state machine for an object O in {block, tx, computation}
// (spec.md §4.9):
//   On Inv(hash):  if not known locally, reply Get(hash); else reply empty.
//   On Get(hash):  if known, reply Info(object); else reply empty.
//   On Info(obj):  verify/accept; on first-time acceptance broadcast
//                  Inv(hash) to all peers.

func (n *Node) onHello(p *Peer, msg wire.Message) error {
	_, err := wire.DecodeHello(msg.Payload)
	if err != nil {
		return err
	}
	return nil
}

func (n *Node) onGetAddr(p *Peer, msg wire.Message) error {
	n.mu.Lock()
	addrs := make([]string, 0, len(n.peers))
	for _, other := range n.peers {
		if other != p {
			addrs = append(addrs, other.Address)
		}
	}
	n.mu.Unlock()
	return p.Send(wire.Message{Type: wire.TypeAddr, Payload: wire.Addr{Peers: addrs}.Encode()})
}

func (n *Node) onAddr(p *Peer, msg wire.Message) error {
	addr, err := wire.DecodeAddr(msg.Payload)
	if err != nil {
		return err
	}
	for _, a := range addr.Peers {
		go n.dial(a)
	}
	return nil
}

// --- block gossip ---

func (n *Node) onInvBlock(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	p.KnownBlocks.Add(hp.Hash)
	if n.Blockstore.Exists(hp.Hash) {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeGetBlock, Payload: hp.Encode()})
}

func (n *Node) onGetBlock(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	blk, ok := n.Blockstore.GetBlock(hp.Hash)
	if !ok {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeInfoBlock, Payload: wire.InfoBlock{Block: blk}.Encode()})
}

func (n *Node) onInfoBlock(p *Peer, msg wire.Message) error {
	if !n.IsSynced() {
		return n.handleInfoBlockSync(p, msg)
	}
	ib, err := wire.DecodeInfoBlock(msg.Payload)
	if err != nil {
		return err
	}
	if ib.OutOfRange || ib.Block == nil {
		return nil
	}
	hash := ib.Block.Hash()
	firstTime := !n.Blockstore.Exists(hash)
	accepted, _, err := n.Manager.AddBlock(ib.Block, false)
	if err != nil {
		return nil // Invalid: not a protocol violation, peer is not banned (spec.md §7)
	}
	p.KnownBlocks.Add(hash)
	if accepted {
		n.interruptMiner()
		if firstTime {
			n.Broadcast(wire.Message{Type: wire.TypeInvBlock, Payload: wire.HashPayload{Hash: hash}.Encode()}, p)
		}
	}
	return nil
}

// --- transaction gossip ---

func (n *Node) onInvTransaction(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	p.KnownTransactions.Add(hp.Hash)
	if n.Mempool.Exists(hp.Hash) {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeGetTransaction, Payload: hp.Encode()})
}

func (n *Node) onGetTransaction(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	tx, ok := n.Mempool.GetTx(hp.Hash)
	if !ok {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeInfoTransaction, Payload: wire.InfoTransaction{Tx: tx}.Encode()})
}

func (n *Node) onInfoTransaction(p *Peer, msg wire.Message) error {
	it, err := wire.DecodeInfoTransaction(msg.Payload)
	if err != nil {
		return err
	}
	txid := it.Tx.MustTXID()
	p.KnownTransactions.Add(txid)
	if n.Mempool.Exists(txid) {
		return nil
	}
	accepted, err := n.AcceptNewTransaction(it.Tx)
	if err != nil || !accepted {
		return nil // Invalid tx: not a protocol violation
	}
	return nil
}

// --- computation gossip ---

func (n *Node) onInvComputation(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	p.KnownComputations.Add(hp.Hash)
	if n.Compstore.Exists(hp.Hash) {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeGetComputation, Payload: hp.Encode()})
}

func (n *Node) onGetComputation(p *Peer, msg wire.Message) error {
	hp, err := wire.DecodeHashPayload(msg.Payload)
	if err != nil {
		return err
	}
	c, ok := n.Compstore.GetComputation(hp.Hash)
	if !ok {
		return nil
	}
	return p.Send(wire.Message{Type: wire.TypeInfoComputation, Payload: wire.InfoComputation{Wire: c.ToWire()}.Encode()})
}

func (n *Node) onInfoComputation(p *Peer, msg wire.Message) error {
	ic, err := wire.DecodeInfoComputation(msg.Payload)
	if err != nil {
		return err
	}
	c, err := compute.FromWire(ic.Wire)
	if err != nil {
		return nil // Malformed: read the next frame, don't drop the connection
	}
	hash := c.Hash()
	p.KnownComputations.Add(hash)
	n.AcceptNewComputation(c)
	return nil
}
