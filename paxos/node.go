package paxos

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go-paxos-sim/paxos/messages"
)

// Node plays the three roles behind a single mailbox.
// Messages are handled one at a time by Run: a handler runs to completion before the next message is received,
// so the role state needs no locking.
type Node struct {
	id      messages.NodeID
	inbox   *Mailbox
	peers   []*Mailbox
	clients []*Mailbox
	timeout time.Duration

	acceptor *acceptor
	proposer *proposer
	learner  *learner

	local []messages.Message // messages the node sent to itself, handled before the mailbox

	observe  func(messages.NodeID, messages.Message)
	received [messages.KindCount]atomic.Uint64
	running  atomic.Bool

	mu  sync.Mutex
	err error
}

// ID returns the node id.
func (n *Node) ID() messages.NodeID {
	return n.id
}

// Running reports whether the node is still processing messages.
func (n *Node) Running() bool {
	return n.running.Load()
}

// Err returns the error that stopped the node, nil if it is running or was terminated.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Received returns how many messages of kind @k the node has taken out of its mailbox.
func (n *Node) Received(k messages.Kind) uint64 {
	if k < 0 || k >= messages.KindCount {
		return 0
	}
	return n.received[k].Load()
}

// Run is the node's worker loop. It returns nil on Terminate, or the fatal error that aborted the node.
// Either way the mailbox is marked done so that later messages to this node are dropped.
func (n *Node) Run() error {
	n.running.Store(true)
	defer func() {
		n.running.Store(false)
		n.inbox.close()
	}()

	log.Printf("[NODE %d] -> Up and running.", n.id)
	for {
		var m messages.Message
		if len(n.local) > 0 {
			m, n.local = n.local[0], n.local[1:]
		} else {
			m = <-n.inbox.ch
		}

		if m.Kind >= 0 && m.Kind < messages.KindCount {
			n.received[m.Kind].Add(1)
		}
		if n.observe != nil {
			n.observe(n.id, m)
		}
		if m.Kind == messages.Terminate {
			log.Printf("[NODE %d] -> Received TERMINATE.", n.id)
			return nil
		}
		if err := n.handle(m); err != nil {
			err = fmt.Errorf("node %d: %w", n.id, err)
			log.Printf("[NODE %d] -> Aborting: %v", n.id, err)
			n.mu.Lock()
			n.err = err
			n.mu.Unlock()
			return err
		}
	}
}

// handle routes @m to the role responsible for it.
func (n *Node) handle(m messages.Message) error {
	switch m.Kind {
	case messages.Consensus, messages.StableConsensus:
		return n.deliver(n.proposer.handleRequest(m))
	case messages.Prepare:
		return n.deliver([]envelope{n.acceptor.handlePrepare(m)})
	case messages.Propose:
		return n.deliver([]envelope{n.acceptor.handlePropose(m)})
	case messages.Promise:
		return n.deliver(n.proposer.handlePromise(m))
	case messages.Accept:
		if m.Learn {
			return n.learner.record(m, n.deliver)
		}
		return n.deliver(n.proposer.handleAccept(m))
	case messages.RoundNumber:
		return n.deliver(n.proposer.updateRoundNumber(m))
	case messages.Reset:
		n.acceptor.reset(m.Round)
		return nil
	case messages.Fail:
		return n.deliver(n.proposer.handleFail(m))
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, m)
	}
}

// deliver sends the envelopes produced by a handler.
// Messages to the node itself are queued locally: the node is the only reader of its mailbox and
// must never wait on it. Announcements to clients never block either, clients may stop listening.
func (n *Node) deliver(envs []envelope) error {
	for _, e := range envs {
		switch e.route {
		case toNode:
			if int(e.to) >= len(n.peers) {
				return fmt.Errorf("%w: %d", ErrUnknownNode, e.to)
			}
			if err := n.sendTo(e.to, e.msg); err != nil {
				return err
			}
		case toAll:
			for i := range n.peers {
				if err := n.sendTo(messages.NodeID(i), e.msg); err != nil {
					return err
				}
			}
		case toClients:
			for _, c := range n.clients {
				announce(c, e.msg)
			}
		case toSelf:
			if e.delay <= 0 {
				n.local = append(n.local, e.msg)
				continue
			}
			m := e.msg
			time.AfterFunc(e.delay, func() {
				if err := send(n.inbox, m, n.timeout); err != nil {
					log.Printf("[NODE %d] -> Could not deliver delayed %s: %v", n.id, m, err)
				}
			})
		}
	}
	return nil
}

func (n *Node) sendTo(to messages.NodeID, m messages.Message) error {
	if to == n.id {
		n.local = append(n.local, m)
		return nil
	}
	return send(n.peers[to], m, n.timeout)
}
