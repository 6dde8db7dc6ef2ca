package paxos

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-paxos-sim/paxos/config"
	"go-paxos-sim/paxos/ledger"
	"go-paxos-sim/paxos/messages"
	"go-paxos-sim/paxos/proposal"
)

const testTimeout = 5 * time.Second

func newTestCluster(t *testing.T, conf config.Conf) *Cluster {
	t.Helper()
	c, err := NewCluster(conf, ledger.NewMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// awaitLeader waits for every client to hear about the stable leader and checks they agree.
func awaitLeader(t *testing.T, c *Cluster) messages.NodeID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var leader messages.NodeID
	for i, cl := range c.Clients() {
		l, err := cl.AwaitStableLeader(ctx)
		require.NoError(t, err, "client %d", cl.ID())
		if i == 0 {
			leader = l
		}
		assert.Equal(t, leader, l, "client %d", cl.ID())
	}
	return leader
}

func terminate(t *testing.T, c *Cluster) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.Terminate(ctx))
}

func TestClusterConsensus(t *testing.T) {
	c := newTestCluster(t, config.Default())
	c.Start()

	require.NoError(t, c.Client(0).Consensus(0, "values"))
	assert.Equal(t, messages.NodeID(0), awaitLeader(t, c))

	terminate(t, c)
	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "values"}}, entries)

	v, ok, err := c.Lookup(0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "values", v)

	for _, n := range c.Nodes() {
		assert.False(t, n.Running())
		assert.NoError(t, n.Err())
		assert.Equal(t, uint64(1), n.Received(messages.Prepare))
	}
}

func TestClusterAnnouncesLeaderOnce(t *testing.T) {
	conf := config.Default()
	conf.ClientIDs = []uint64{0, 10}
	c := newTestCluster(t, conf)
	c.Start()

	require.NoError(t, c.Client(0).Consensus(0, "values"))
	awaitLeader(t, c)
	terminate(t, c)

	for _, cl := range c.Clients() {
		leader, ok := cl.Leader()
		assert.True(t, ok)
		assert.Equal(t, messages.NodeID(0), leader)
		assert.Zero(t, cl.Pending(), "client %d got more than one announcement", cl.ID())
	}
}

func TestClusterStableLeaderSkipsPrepare(t *testing.T) {
	conf := config.Default()
	conf.ClientIDs = []uint64{0, 10}
	c := newTestCluster(t, conf)

	var mu sync.Mutex
	phase1 := map[uint64]int{}
	c.Observe(func(_ messages.NodeID, m messages.Message) {
		if m.Kind == messages.Prepare || m.Kind == messages.Promise {
			mu.Lock()
			phase1[m.Round]++
			mu.Unlock()
		}
	})
	c.Start()

	require.NoError(t, c.Client(0).Consensus(0, "values"))
	leader := awaitLeader(t, c)

	client, ok := c.ClientByID(10)
	require.True(t, ok)
	require.NoError(t, client.SendToStableLeader(leader, "wabbit"))
	assert.Equal(t, leader, awaitLeader(t, c))
	terminate(t, c)

	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "values"}, {Round: 1, Learnt: "wabbit"}}, entries)

	mu.Lock()
	defer mu.Unlock()
	assert.NotZero(t, phase1[0])
	assert.Zero(t, phase1[1])
}

func TestClusterSequentialStableRequests(t *testing.T) {
	conf := config.Default()
	conf.ClientIDs = []uint64{0, 10}
	c := newTestCluster(t, conf)
	c.Start()

	require.NoError(t, c.Client(0).Consensus(0, "values"))
	leader := awaitLeader(t, c)

	client, _ := c.ClientByID(10)
	for _, v := range []string{"wabbit", "wabb2it", "wabitual"} {
		require.NoError(t, client.SendToStableLeader(leader, v))
		leader = awaitLeader(t, c)
	}
	terminate(t, c)

	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{
		{Round: 0, Learnt: "values"},
		{Round: 1, Learnt: "wabbit"},
		{Round: 2, Learnt: "wabb2it"},
		{Round: 3, Learnt: "wabitual"},
	}, entries)
}

func TestClusterConcurrentProposersAgree(t *testing.T) {
	conf := config.Default()
	conf.ClientIDs = []uint64{0, 1, 2}
	conf.RetryMax = 20
	conf.RetryBaseWait = time.Millisecond
	conf.RetryMaxWait = 20 * time.Millisecond
	c := newTestCluster(t, conf)
	c.Start()

	var wg sync.WaitGroup
	for i, cl := range c.Clients() {
		wg.Add(1)
		go func(i int, cl *Client) {
			defer wg.Done()
			assert.NoError(t, cl.Consensus(messages.NodeID(i), fmt.Sprintf("v%d", i)))
		}(i, cl)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		entries, err := c.Ledger()
		return err == nil && len(entries) == 3
	}, 10*time.Second, 10*time.Millisecond)
	terminate(t, c)

	entries, err := c.Ledger()
	require.NoError(t, err)
	rounds := map[uint64]bool{}
	values := map[string]bool{}
	for _, e := range entries {
		assert.False(t, rounds[e.Round], "round %d learnt twice", e.Round)
		rounds[e.Round] = true
		values[e.Learnt] = true
	}
	assert.Equal(t, map[string]bool{"v0": true, "v1": true, "v2": true}, values)
}

func TestClusterUnexpectedMessageStopsNode(t *testing.T) {
	c := newTestCluster(t, config.Default())
	c.Start()

	require.NoError(t, send(c.Node(0).inbox, messages.Message{Kind: messages.LeaderID, LeaderID: 2}, time.Second))
	require.Eventually(t, func() bool { return c.Node(0).Err() != nil }, testTimeout, time.Millisecond)
	assert.True(t, errors.Is(c.Node(0).Err(), ErrUnexpectedMessage))

	// the two survivors still form a quorum
	require.NoError(t, c.Client(0).Consensus(1, "after-crash"))
	assert.Equal(t, messages.NodeID(1), awaitLeader(t, c))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := c.Terminate(ctx)
	assert.True(t, errors.Is(err, ErrUnexpectedMessage))

	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "after-crash"}}, entries)
}

func TestClusterSQLiteLedger(t *testing.T) {
	conf := config.Default()
	conf.LedgerType = config.LedgerSQLite
	conf.DBPath = filepath.Join(t.TempDir(), "ledger.db")

	store, err := ledger.Open(conf)
	require.NoError(t, err)
	c, err := NewCluster(conf, store)
	require.NoError(t, err)
	c.Start()

	require.NoError(t, c.Client(0).Consensus(2, "values"))
	assert.Equal(t, messages.NodeID(2), awaitLeader(t, c))
	terminate(t, c)
	require.NoError(t, c.Close())

	reopened, err := ledger.NewSQLite(conf.DBPath)
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.Entries()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "values"}}, entries)
}

func TestNewClusterRejectsMinorityQuorum(t *testing.T) {
	conf := config.Default()
	conf.Quorum = 1
	_, err := NewCluster(conf, ledger.NewMemory())
	assert.Error(t, err)
}

func TestTerminateBeforeStart(t *testing.T) {
	c := newTestCluster(t, config.Default())
	assert.NoError(t, c.Terminate(context.Background()))
}

func TestClusterProposerBehindByOneRound(t *testing.T) {
	c := newTestCluster(t, config.Default())

	// round 0 is decided and every acceptor moved on, but proposer 1 never heard of round 1
	decided := proposal.Number{Round: 0, Seq: 1, Pid: 0}
	for _, n := range c.Nodes() {
		n.acceptor.handlePropose(propose(decided, "values"))
		n.acceptor.reset(1)
	}
	_, err := c.ledger.AppendThen(0, "values", nil)
	require.NoError(t, err)
	c.Start()

	require.NoError(t, c.Client(0).Consensus(1, "x"))
	assert.Equal(t, messages.NodeID(1), awaitLeader(t, c))
	terminate(t, c)

	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "values"}, {Round: 1, Learnt: "x"}}, entries)
	for _, n := range c.Nodes() {
		assert.NoError(t, n.Err())
	}
}

func TestClusterSmallMailboxes(t *testing.T) {
	conf := config.Default()
	conf.ChannelCapacity = conf.Nodes
	conf.ClientIDs = []uint64{0, 10}
	c := newTestCluster(t, conf)
	c.Start()

	require.NoError(t, c.Client(0).Consensus(1, "values"))
	leader := awaitLeader(t, c)
	client, _ := c.ClientByID(10)
	require.NoError(t, client.SendToStableLeader(leader, "wabbit"))
	awaitLeader(t, c)
	terminate(t, c)

	for _, n := range c.Nodes() {
		assert.NoError(t, n.Err())
	}
	entries, err := c.Ledger()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{{Round: 0, Learnt: "values"}, {Round: 1, Learnt: "wabbit"}}, entries)
}
