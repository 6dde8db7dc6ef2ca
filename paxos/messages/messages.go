// Package messages exposes the closed set of messages exchanged by nodes and clients.
// Messages travel by value over the node and client mailboxes; they are never shared after being sent.
package messages

import (
	"fmt"

	"go-paxos-sim/paxos/proposal"
)

// NodeID is the stable identity of a node. It is also the "leader id" carried in protocol messages.
type NodeID uint64

// Kind tells which variant a Message is.
type Kind int

const (
	Consensus       Kind = iota // client -> node: start a full two-phase ballot.
	StableConsensus             // client -> node: phase 2 only, addressed to an announced leader.
	Prepare                     // proposer -> acceptors: phase 1 request.
	Promise                     // acceptor -> proposer: phase 1 response.
	Propose                     // proposer -> acceptors: phase 2 request.
	Accept                      // acceptor -> proposer, or proposer -> learners when Learn is set.
	RoundNumber                 // learner -> all nodes: advance the round.
	Reset                       // node -> acceptors: clear accepted state of older rounds.
	Fail                        // acceptor -> proposer: ballot rejected. With Learn, learner -> proposer: value refused.
	LeaderID                    // learner -> clients: stable leader announcement.
	Terminate                   // supervisor -> node: graceful shutdown.

	// KindCount is the number of message kinds.
	KindCount
)

var kindNames = [...]string{
	Consensus:       "Consensus",
	StableConsensus: "StableConsensus",
	Prepare:         "Prepare",
	Promise:         "Promise",
	Propose:         "Propose",
	Accept:          "Accept",
	RoundNumber:     "RoundNumber",
	Reset:           "Reset",
	Fail:            "Fail",
	LeaderID:        "LeaderID",
	Terminate:       "Terminate",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText lets kinds show up by name when messages are rendered as json.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Message is the single envelope for every variant. Which fields are meaningful depends on Kind:
//
//	Consensus, StableConsensus  SenderID, Value (Attempt for retries)
//	Prepare, Propose            Ballot, LeaderID, Round, Value
//	Promise                     Ballot, LeaderID, Round, Accepted, Value, From
//	Accept                      Ballot, LeaderID, Round, Value, From (Learn for the consolidated notification)
//	RoundNumber, Reset          Round
//	Fail                        Ballot, LeaderID, Promised, Value, From (Learn when a learner refused the value)
//	LeaderID                    LeaderID
type Message struct {
	Kind     Kind             `json:"kind"`
	From     NodeID           `json:"from"`               // From is the node that produced a reply.
	SenderID uint64           `json:"sender_id"`          // SenderID is the client supplied id folded into the ballot.
	Ballot   proposal.Number  `json:"ballot"`             // Ballot is the proposal number of the ballot the message belongs to.
	LeaderID NodeID           `json:"leader_id"`          // LeaderID is the node driving the ballot, replies are routed to it.
	Round    uint64           `json:"round"`              // Round is the round the message refers to. A fail for a closed round carries the acceptor's round instead.
	Accepted *proposal.Number `json:"accepted,omitempty"` // Accepted is the number of a previously accepted value, if any.
	Promised proposal.Number  `json:"promised"`           // Promised is the highest number known to a rejecting acceptor.
	Value    string           `json:"value"`
	Learn    bool             `json:"learn,omitempty"`   // Learn marks the consolidated Accept sent to learners, and the Fail they send back.
	Attempt  int              `json:"attempt,omitempty"` // Attempt counts proposer retries of a request.
}

func (m Message) String() string {
	switch m.Kind {
	case Consensus, StableConsensus:
		return fmt.Sprintf("%s(%d, %q)", m.Kind, m.SenderID, m.Value)
	case Prepare, Propose:
		return fmt.Sprintf("%s(%s, %d, %d, %q)", m.Kind, m.Ballot, m.LeaderID, m.Round, m.Value)
	case Promise:
		accepted := "None"
		if m.Accepted != nil {
			accepted = m.Accepted.String()
		}
		return fmt.Sprintf("Promise(%s, %d, %d, %s, %q)", m.Ballot, m.LeaderID, m.Round, accepted, m.Value)
	case Accept:
		return fmt.Sprintf("Accept(%s, %d, %d, %q)", m.Ballot, m.LeaderID, m.Round, m.Value)
	case RoundNumber, Reset:
		return fmt.Sprintf("%s(%d)", m.Kind, m.Round)
	case Fail:
		return fmt.Sprintf("Fail(%q)", m.Value)
	case LeaderID:
		return fmt.Sprintf("LeaderID(%d)", m.LeaderID)
	default:
		return m.Kind.String()
	}
}
