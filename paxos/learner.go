package paxos

import (
	"errors"
	"log"

	"go-paxos-sim/paxos/ledger"
	"go-paxos-sim/paxos/messages"
)

// learner is the learner role of a node. The ledger it writes to is shared by the learners of every node.
type learner struct {
	id     messages.NodeID
	ledger *ledger.Guarded
}

func newLearner(id messages.NodeID, l *ledger.Guarded) *learner {
	return &learner{id: id, ledger: l}
}

// record implements the learner's behaviour when receiving the consolidated accept of a ballot.
// If (round, value) has not been learnt yet it gets learnt immediately, every node is moved to the next round
// and every client is told who the stable leader is. The announcements are delivered while the ledger is
// still locked, so no other learner can act on the same round in between.
// If the pair has already been learnt no action is performed.
// If the round already holds another value the proposer is told with a fail, so that it can retry its request.
func (l *learner) record(m messages.Message, deliver func([]envelope) error) error {
	log.Printf("[LEARNER %d] -> Recording '%s' with proposal number %s for round %d.", l.id, m.Value, m.Ballot, m.Round)

	inserted, err := l.ledger.AppendThen(m.Round, m.Value, func() error {
		return deliver([]envelope{
			broadcast(messages.Message{Kind: messages.RoundNumber, Round: m.Round + 1}),
			{route: toClients, msg: messages.Message{Kind: messages.LeaderID, LeaderID: m.LeaderID}},
		})
	})
	switch {
	case errors.Is(err, ledger.ErrRoundConflict):
		// a stable leader skipped phase 1 over a value already chosen for this round
		log.Printf("[LEARNER %d] -> !!!WARNING!!! %v", l.id, err)
		return deliver([]envelope{reply(m.LeaderID, messages.Message{
			Kind:     messages.Fail,
			From:     l.id,
			Ballot:   m.Ballot,
			LeaderID: m.LeaderID,
			Round:    m.Round,
			Value:    m.Value,
			Learn:    true,
		})})
	case err != nil:
		return err
	case inserted:
		log.Printf("[LEARNER %d] -> Learnt '%s' for round %d; announcing leader %d.", l.id, m.Value, m.Round, m.LeaderID)
	default:
		log.Printf("[LEARNER %d] -> Value '%s' has already been learnt for round %d. Don't need to learn that again.", l.id, m.Value, m.Round)
	}
	return nil
}
