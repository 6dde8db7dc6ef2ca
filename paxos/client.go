package paxos

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go-paxos-sim/paxos/messages"
)

// Client issues consensus requests to nodes and listens for stable leader announcements on its own mailbox.
// The leader it learns is advisory: nothing stops the client from talking to any node.
type Client struct {
	id      uint64
	inbox   *Mailbox
	nodes   []*Mailbox
	timeout time.Duration

	mu     sync.Mutex
	leader *messages.NodeID
}

// ID returns the client id. It is the sender id of the requests of this client.
func (c *Client) ID() uint64 {
	return c.id
}

// Consensus asks node @target to run a full two-phase ballot for @value.
func (c *Client) Consensus(target messages.NodeID, value string) error {
	return c.request(messages.Consensus, target, value)
}

// SendToStableLeader asks node @target, believed to be the stable leader, to run phase 2 only for @value.
func (c *Client) SendToStableLeader(target messages.NodeID, value string) error {
	return c.request(messages.StableConsensus, target, value)
}

func (c *Client) request(kind messages.Kind, target messages.NodeID, value string) error {
	if int(target) >= len(c.nodes) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, target)
	}
	m := messages.Message{Kind: kind, SenderID: c.id, Value: value}
	log.Printf("[CLIENT %d] -> Sending %s to node %d.", c.id, m, target)
	return send(c.nodes[target], m, c.timeout)
}

// AwaitStableLeader blocks until a LeaderID message arrives, records it and returns the leader.
// Any other message is reported as a protocol violation and skipped.
func (c *Client) AwaitStableLeader(ctx context.Context) (messages.NodeID, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case m := <-c.inbox.ch:
			if m.Kind != messages.LeaderID {
				log.Printf("[CLIENT %d] -> !!!WARNING!!! Protocol violation, expected a LeaderID and received %s.", c.id, m)
				continue
			}
			c.mu.Lock()
			leader := m.LeaderID
			c.leader = &leader
			c.mu.Unlock()
			log.Printf("[CLIENT %d] -> Stable leader is node %d.", c.id, leader)
			return leader, nil
		}
	}
}

// Leader returns the last announced leader, if any.
func (c *Client) Leader() (messages.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leader == nil {
		return 0, false
	}
	return *c.leader, true
}

// Pending returns how many messages wait in the client's mailbox.
func (c *Client) Pending() int {
	return c.inbox.Len()
}

// Discard drops the messages waiting in the client's mailbox, stale announcements included, and returns how many there were.
func (c *Client) Discard() int {
	n := 0
	for {
		select {
		case <-c.inbox.ch:
			n++
		default:
			return n
		}
	}
}
