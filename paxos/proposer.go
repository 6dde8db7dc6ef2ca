/*

# Prepare(n):
1. A proposer chooses a new ballot numbered n and sends a prepare request to
every acceptor, asking each to respond with:

	(a) A promise never again to accept a ballot numbered less than n;
	---AND---
	(b) The proposal with the highest number less than n that it has
	accepted, if any.

# Propose(n, v):
2. If the proposer receives promises from a majority of the acceptors, then it
can issue a propose request with number n and value v, where v is the value of
the highest-numbered proposal among the promises, or its own value if the
promises reported none.

# Learn(v):
3. Once a majority of acceptors accepted the same value, the proposer tells
every learner.

A stable leader may skip step 1 and issue step 2 directly.

*/

package paxos

import (
	"log"

	"go-paxos-sim/paxos/messages"
	"go-paxos-sim/paxos/proposal"
	"go-paxos-sim/paxos/quorum"
)

// request is a client request waiting for, or driving, a ballot.
type request struct {
	senderID uint64
	value    string
	stable   bool
	attempt  int
}

// pendingProposal is the single in-flight ballot of a proposer.
type pendingProposal struct {
	request
	ballot    proposal.Number
	preparing bool // still collecting promises

	promises   []quorum.Promise
	promisedBy map[messages.NodeID]bool
	accepts    *quorum.Tally
	fails      map[messages.NodeID]bool
	highest    proposal.Number // highest promised number reported by a fail
}

// proposer is the state of the proposer role of a node.
type proposer struct {
	id        messages.NodeID
	nodes     int
	threshold int

	counter uint64
	round   uint64

	pending  *pendingProposal
	learning *pendingProposal // last ballot that won with its own value, until the learners take it
	backlog  []request

	retryMax int
	retry    backoff
}

func newProposer(id messages.NodeID, nodes, threshold, retryMax int, retry backoff) *proposer {
	return &proposer{
		id:        id,
		nodes:     nodes,
		threshold: threshold,
		retryMax:  retryMax,
		retry:     retry,
	}
}

// handleRequest handles Consensus and StableConsensus messages.
// When a ballot is already in flight the request waits in the backlog.
func (p *proposer) handleRequest(m messages.Message) []envelope {
	req := request{
		senderID: m.SenderID,
		value:    m.Value,
		stable:   m.Kind == messages.StableConsensus,
		attempt:  m.Attempt,
	}
	if p.pending != nil {
		log.Printf("[PROPOSER %d] -> Ballot %s still in flight; queueing '%s' (%d waiting).", p.id, p.pending.ballot, m.Value, len(p.backlog)+1)
		p.backlog = append(p.backlog, req)
		return nil
	}
	return p.start(req)
}

// start derives a fresh ballot and sends either a prepare (full ballot) or a propose (stable leader) to every acceptor.
// The sequence number is counter + 1 + senderID, the node id breaks ties between proposers.
func (p *proposer) start(req request) []envelope {
	p.counter += 1 + req.senderID
	ballot := proposal.Number{Round: p.round, Seq: p.counter, Pid: uint64(p.id)}

	p.pending = &pendingProposal{
		request:    req,
		ballot:     ballot,
		preparing:  !req.stable,
		promisedBy: make(map[messages.NodeID]bool),
		accepts:    quorum.NewTally(),
		fails:      make(map[messages.NodeID]bool),
	}

	kind := messages.Prepare
	if req.stable {
		kind = messages.Propose
	}
	log.Printf("[PROPOSER %d] -> Sending %s requests with ballot %s for '%s' in round %d.", p.id, kind, ballot, req.value, p.round)
	return []envelope{broadcast(messages.Message{
		Kind:     kind,
		Ballot:   ballot,
		LeaderID: p.id,
		Round:    p.round,
		Value:    req.value,
	})}
}

// handlePromise collects promises for the in-flight ballot. On quorum it picks the safe value and sends the propose requests.
func (p *proposer) handlePromise(m messages.Message) []envelope {
	pp := p.pending
	if pp == nil || !pp.preparing || !m.Ballot.IsEqualTo(pp.ballot) {
		log.Printf("[PROPOSER %d] -> Ignoring promise for %s from %d, not the ballot being prepared.", p.id, m.Ballot, m.From)
		return nil
	}
	if pp.promisedBy[m.From] {
		return nil
	}
	pp.promisedBy[m.From] = true
	pp.promises = append(pp.promises, quorum.Promise{
		From:     uint64(m.From),
		Ballot:   m.Ballot,
		Accepted: m.Accepted,
		Value:    m.Value,
	})

	if len(pp.promises) < p.threshold {
		return nil
	}

	v, _ := quorum.SafeValue(pp.promises)
	log.Printf("[PROPOSER %d] -> Quorum has been reached (%d/%d) for prepare request %s; proposing '%s'.", p.id, len(pp.promises), p.nodes, pp.ballot, v)
	pp.preparing = false
	pp.promises = nil
	pp.promisedBy = make(map[messages.NodeID]bool)

	return []envelope{broadcast(messages.Message{
		Kind:     messages.Propose,
		Ballot:   pp.ballot,
		LeaderID: p.id,
		Round:    pp.ballot.Round,
		Value:    v,
	})}
}

// handleAccept tallies the acceptors' answers by value. Once a value reaches quorum the learners are told,
// and the next request of the backlog waits for the round to advance.
func (p *proposer) handleAccept(m messages.Message) []envelope {
	pp := p.pending
	if pp == nil || pp.preparing || !m.Ballot.IsEqualTo(pp.ballot) {
		log.Printf("[PROPOSER %d] -> Ignoring accept for %s from %d, not the ballot being proposed.", p.id, m.Ballot, m.From)
		return nil
	}
	pp.accepts.Add(uint64(m.From), m.Value)

	winner, ok := pp.accepts.Winner(p.threshold)
	if !ok {
		return nil
	}

	log.Printf("[PROPOSER %d] -> Accept quorum reached (%d/%d) for %s; sending '%s' to the learners.", p.id, pp.accepts.Count(winner), p.nodes, pp.ballot, winner)
	p.pending = nil
	p.learning = nil
	if winner != pp.value {
		// an older value was carried forward, the request itself still has to be learnt in a later round
		log.Printf("[PROPOSER %d] -> '%s' was not the requested value, retrying '%s' in the next round.", p.id, winner, pp.value)
		p.backlog = append([]request{pp.request}, p.backlog...)
	} else {
		p.learning = pp
	}

	return []envelope{broadcast(messages.Message{
		Kind:     messages.Accept,
		Ballot:   pp.ballot,
		LeaderID: p.id,
		Round:    m.Round,
		Value:    winner,
		Learn:    true,
	})}
}

// handleFail counts rejections of the in-flight ballot. When a quorum can no longer be reached
// the ballot is abandoned and the request is retried with a fresh ballot after a backoff.
// A fail from a round ahead of ours moves the proposer to that round first.
func (p *proposer) handleFail(m messages.Message) []envelope {
	if m.Learn {
		return p.handleRefusedLearn(m)
	}
	if m.Round > p.round {
		log.Printf("[PROPOSER %d] -> Acceptor %d already moved to round %d.", p.id, m.From, m.Round)
		return p.updateRoundNumber(messages.Message{Kind: messages.RoundNumber, Round: m.Round})
	}
	pp := p.pending
	if pp == nil || !m.Ballot.IsEqualTo(pp.ballot) {
		log.Printf("[PROPOSER %d] -> Received fail for '%s' (%s), no ballot of ours in flight.", p.id, m.Value, m.Ballot)
		return nil
	}
	pp.fails[m.From] = true
	pp.highest = proposal.Max(pp.highest, m.Promised)

	if len(pp.fails) <= p.nodes-p.threshold {
		return nil
	}

	p.pending = nil
	if pp.highest.Round == p.round && pp.highest.Seq > p.counter {
		p.counter = pp.highest.Seq
	}

	var out []envelope
	if pp.attempt < p.retryMax {
		wait := p.retry.wait(pp.attempt)
		log.Printf("[PROPOSER %d] -> Ballot %s rejected by %d acceptors; retrying '%s' in %s.", p.id, pp.ballot, len(pp.fails), pp.value, wait)
		out = append(out, envelope{
			route: toSelf,
			delay: wait,
			msg: messages.Message{
				Kind:     messages.Consensus,
				SenderID: pp.senderID,
				Value:    pp.value,
				Attempt:  pp.attempt + 1,
			},
		})
	} else {
		log.Printf("[PROPOSER %d] -> Ballot %s rejected; giving up on '%s' after %d attempts.", p.id, pp.ballot, pp.value, pp.attempt+1)
	}
	return append(out, p.next()...)
}

// handleRefusedLearn handles a learner refusing the value of our last ballot because its round already holds another one.
// The request goes back to the head of the backlog, and the proposer moves past the refused round.
func (p *proposer) handleRefusedLearn(m messages.Message) []envelope {
	l := p.learning
	if l == nil || !m.Ballot.IsEqualTo(l.ballot) {
		return nil
	}
	p.learning = nil
	log.Printf("[PROPOSER %d] -> Round %d already holds another value; retrying '%s' in a later round.", p.id, m.Round, l.value)
	p.backlog = append([]request{l.request}, p.backlog...)
	if m.Round >= p.round {
		return p.updateRoundNumber(messages.Message{Kind: messages.RoundNumber, Round: m.Round + 1})
	}
	return p.next()
}

// updateRoundNumber moves the proposer to @m.Round and asks every acceptor to reset.
// A ballot of an older round still in flight is abandoned and its request restarted in the new round.
func (p *proposer) updateRoundNumber(m messages.Message) []envelope {
	if m.Round <= p.round {
		return nil
	}
	log.Printf("[PROPOSER %d] -> Moving from round %d to round %d.", p.id, p.round, m.Round)
	p.round = m.Round

	out := []envelope{broadcast(messages.Message{Kind: messages.Reset, Round: p.round})}

	if p.pending != nil && p.pending.ballot.Round < p.round {
		log.Printf("[PROPOSER %d] -> Ballot %s belongs to an older round; restarting '%s'.", p.id, p.pending.ballot, p.pending.value)
		p.backlog = append([]request{p.pending.request}, p.backlog...)
		p.pending = nil
	}
	return append(out, p.next()...)
}

// next starts the first request of the backlog if no ballot is in flight.
func (p *proposer) next() []envelope {
	if p.pending != nil || len(p.backlog) == 0 {
		return nil
	}
	req := p.backlog[0]
	p.backlog = p.backlog[1:]
	return p.start(req)
}
