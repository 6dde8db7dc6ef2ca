/*

An acceptor can receive two kinds of requests from proposers:
prepare requests and propose requests.
(1) It answers a prepare request numbered n with a promise IFF n is strictly higher
    than any number it has already promised.
(2) It accepts a propose request numbered n IFF it has not promised not to do so,
    i.e. n is higher than anything it promised, or n is exactly the number it promised.

An acceptor needs to remember only the highest number it has promised and the
highest-numbered proposal it has accepted. The accepted proposal belongs to a round:
when the cluster moves to a new round the accepted proposal is forgotten, the highest
promised number is not. Once the accepted proposal of a round is forgotten, that round
is closed: any request still numbered in it is answered with a fail.

*/

// Package paxos implements the roles of the Paxos consensus algorithm and the nodes and clients of a simulated cluster.
package paxos

import (
	"log"

	"go-paxos-sim/paxos/messages"
	"go-paxos-sim/paxos/proposal"
)

// acceptor is the state of the acceptor role of a node.
type acceptor struct {
	id messages.NodeID

	maxPromised proposal.Number // highest number seen in a prepare or accepted in a propose. Never cleared.
	promised    proposal.Number // number actually promised in phase 1.
	round       uint64          // rounds below this one are closed.

	accepted         bool
	acceptedValue    string
	acceptedProposal proposal.Number
}

func newAcceptor(id messages.NodeID) *acceptor {
	return &acceptor{id: id}
}

// advanceRound closes every round older than @round and clears the accepted proposal if it belongs to one of them.
func (a *acceptor) advanceRound(round uint64) {
	if round > a.round {
		a.round = round
	}
	if a.accepted && a.acceptedProposal.Round < a.round {
		a.accepted = false
		a.acceptedValue = ""
		a.acceptedProposal = proposal.Number{}
	}
}

// handlePrepare implements the acceptor's behaviour when receiving a prepare request.
// It answers with a promise when the ballot is STRICTLY higher than the highest promised one, otherwise with a fail.
// The promise reports the previously accepted proposal and value, if any; otherwise it echoes the candidate value.
func (a *acceptor) handlePrepare(m messages.Message) envelope {
	a.advanceRound(m.Ballot.Round)

	if m.Ballot.Round < a.round {
		return reply(m.LeaderID, a.closedRound(m))
	}
	if !m.Ballot.IsGreaterThan(a.maxPromised) {
		log.Printf("[ACCEPTOR %d] -> %s is not strictly higher than the current highest promise %s; sending back a fail.", a.id, m.Ballot, a.maxPromised)
		return reply(m.LeaderID, a.fail(m))
	}

	a.maxPromised = m.Ballot
	a.promised = m.Ballot

	promise := messages.Message{
		Kind:     messages.Promise,
		From:     a.id,
		Ballot:   m.Ballot,
		LeaderID: m.LeaderID,
		Round:    m.Round,
		Value:    m.Value,
	}
	if a.accepted {
		accepted := a.acceptedProposal
		promise.Accepted = &accepted
		promise.Value = a.acceptedValue
		log.Printf("[ACCEPTOR %d] -> Promising %s, reporting '%s' accepted with %s.", a.id, m.Ballot, a.acceptedValue, accepted)
	} else {
		log.Printf("[ACCEPTOR %d] -> %s is the highest proposal so far; sending back a promise.", a.id, m.Ballot)
	}
	return reply(m.LeaderID, promise)
}

// handlePropose implements the acceptor's behaviour when receiving a propose request.
// A ballot higher than the highest promised one is accepted (a stable leader skipping phase 1);
// a ballot equal to it is accepted only if it is the ballot this acceptor promised.
func (a *acceptor) handlePropose(m messages.Message) envelope {
	a.advanceRound(m.Ballot.Round)

	if m.Ballot.Round < a.round {
		return reply(m.LeaderID, a.closedRound(m))
	}
	ok := m.Ballot.IsGreaterThan(a.maxPromised) ||
		(m.Ballot.IsEqualTo(a.maxPromised) && m.Ballot.IsEqualTo(a.promised))
	if !ok {
		log.Printf("[ACCEPTOR %d] -> %s is not higher than (or the promised) %s; sending back a fail.", a.id, m.Ballot, a.maxPromised)
		return reply(m.LeaderID, a.fail(m))
	}

	a.maxPromised = m.Ballot
	a.accepted = true
	a.acceptedValue = m.Value
	a.acceptedProposal = m.Ballot
	log.Printf("[ACCEPTOR %d] -> Accepting '%s' with %s for round %d.", a.id, m.Value, m.Ballot, m.Round)

	return reply(m.LeaderID, messages.Message{
		Kind:     messages.Accept,
		From:     a.id,
		Ballot:   m.Ballot,
		LeaderID: m.LeaderID,
		Round:    m.Round,
		Value:    m.Value,
	})
}

// reset closes the rounds older than @round and forgets their accepted proposal. maxPromised is left untouched.
func (a *acceptor) reset(round uint64) {
	a.advanceRound(round)
}

// closedRound answers a request numbered in a closed round. The fail carries the acceptor's round so that the proposer can catch up.
func (a *acceptor) closedRound(m messages.Message) messages.Message {
	log.Printf("[ACCEPTOR %d] -> %s belongs to round %d, which is closed (now %d); sending back a fail.", a.id, m.Ballot, m.Ballot.Round, a.round)
	f := a.fail(m)
	f.Round = a.round
	return f
}

func (a *acceptor) fail(m messages.Message) messages.Message {
	return messages.Message{
		Kind:     messages.Fail,
		From:     a.id,
		Ballot:   m.Ballot,
		LeaderID: m.LeaderID,
		Round:    m.Round,
		Promised: a.maxPromised,
		Value:    m.Value,
	}
}
