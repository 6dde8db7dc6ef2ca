package paxos

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"go-paxos-sim/paxos/config"
	"go-paxos-sim/paxos/ledger"
	"go-paxos-sim/paxos/messages"
)

// Cluster wires N nodes and the clients in a full mesh and supervises the node workers.
type Cluster struct {
	conf    config.Conf
	nodes   []*Node
	clients []*Client
	ledger  *ledger.Guarded
	group   errgroup.Group
	started bool
}

// NewCluster builds the nodes and clients described by @conf around @store. Nothing runs until Start.
func NewCluster(conf config.Conf, store ledger.Ledger) (*Cluster, error) {
	conf.FillEmptyFields()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	c := &Cluster{conf: conf, ledger: ledger.NewGuarded(store)}

	inboxes := make([]*Mailbox, conf.Nodes)
	for i := range inboxes {
		inboxes[i] = newMailbox(fmt.Sprintf("node %d", i), conf.ChannelCapacity)
	}
	clientBoxes := make([]*Mailbox, len(conf.ClientIDs))
	for i, id := range conf.ClientIDs {
		clientBoxes[i] = newMailbox(fmt.Sprintf("client %d", id), conf.ChannelCapacity)
		c.clients = append(c.clients, &Client{
			id:      id,
			inbox:   clientBoxes[i],
			nodes:   inboxes,
			timeout: conf.SendTimeout,
		})
	}

	seed := uint64(time.Now().UnixNano())
	for i := 0; i < conf.Nodes; i++ {
		id := messages.NodeID(i)
		c.nodes = append(c.nodes, &Node{
			id:       id,
			inbox:    inboxes[i],
			peers:    inboxes,
			clients:  clientBoxes,
			timeout:  conf.SendTimeout,
			acceptor: newAcceptor(id),
			proposer: newProposer(id, conf.Nodes, conf.Quorum, conf.RetryMax,
				newBackoff(conf.RetryBaseWait, conf.RetryMaxWait, seed+uint64(i))),
			learner: newLearner(id, c.ledger),
		})
	}
	return c, nil
}

// Observe registers @fn to be called by every node with each message it takes out of its mailbox.
// It must be called before Start. @fn runs on the node workers, concurrently.
func (c *Cluster) Observe(fn func(to messages.NodeID, m messages.Message)) {
	for _, n := range c.nodes {
		n.observe = fn
	}
}

// Start launches one worker per node.
func (c *Cluster) Start() {
	if c.started {
		return
	}
	c.started = true
	for _, n := range c.nodes {
		n := n
		c.group.Go(n.Run)
	}
	log.Printf("[CLUSTER] -> Started %d nodes (quorum %d) and %d clients.", len(c.nodes), c.conf.Quorum, len(c.clients))
}

// Terminate delivers Terminate to every node and waits for all the workers to stop.
// Messages queued before Terminate are still handled. The first fatal node error, if any, is returned.
func (c *Cluster) Terminate(ctx context.Context) error {
	for _, n := range c.nodes {
		if err := send(n.inbox, messages.Message{Kind: messages.Terminate}, c.conf.SendTimeout); err != nil {
			log.Printf("[CLUSTER] -> Could not terminate node %d: %v", n.id, err)
		}
	}
	if !c.started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conf returns the configuration the cluster was built with, defaults filled in.
func (c *Cluster) Conf() config.Conf {
	return c.conf
}

// Node returns the node with id @i.
func (c *Cluster) Node(i int) *Node {
	return c.nodes[i]
}

// Nodes returns every node.
func (c *Cluster) Nodes() []*Node {
	return c.nodes
}

// Client returns the @i-th client.
func (c *Cluster) Client(i int) *Client {
	return c.clients[i]
}

// Clients returns every client.
func (c *Cluster) Clients() []*Client {
	return c.clients
}

// ClientByID returns the client whose id is @id.
func (c *Cluster) ClientByID(id uint64) (*Client, bool) {
	for _, cl := range c.clients {
		if cl.id == id {
			return cl, true
		}
	}
	return nil, false
}

// Ledger returns the learnt values in order.
func (c *Cluster) Ledger() ([]ledger.Entry, error) {
	return c.ledger.Entries()
}

// Lookup returns the value learnt for @round.
func (c *Cluster) Lookup(round uint64) (string, bool, error) {
	return c.ledger.Get(round)
}

// Close releases the ledger. Call it after Terminate.
func (c *Cluster) Close() error {
	return c.ledger.Close()
}
