// Package quorum implements the majority policy: the threshold for a cluster of a given size,
// the value a proposer must carry into phase 2, and the per-value tally of phase 2 answers.
package quorum

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go-paxos-sim/paxos/proposal"
)

// Threshold returns the majority of a cluster of @n acceptors, i.e. floor(n/2)+1.
// Any two sets of Threshold(n) acceptors intersect.
func Threshold(n int) int {
	return n/2 + 1
}

// Promise is one phase 1 answer as seen by the proposer.
type Promise struct {
	From     uint64           // From is the acceptor that sent the promise.
	Ballot   proposal.Number  // Ballot is the number being promised.
	Accepted *proposal.Number // Accepted is the number of the value the acceptor accepted before, nil if none.
	Value    string           // Value is the accepted value, or the candidate value echoed back when Accepted is nil.
}

// SafeValue returns the value a proposer may send in phase 2 once @promises reached quorum.
// If any promise reports a previously accepted value, the value attached to the highest accepted number wins,
// so that a value that may have been chosen is never overturned.
// Otherwise the value of the first promise is used, which is the proposer's own candidate.
func SafeValue(promises []Promise) (string, bool) {
	if len(promises) == 0 {
		return "", false
	}

	var highest *Promise
	for i := range promises {
		p := &promises[i]
		if p.Accepted == nil {
			continue
		}
		if highest == nil || p.Accepted.IsGreaterThan(*highest.Accepted) {
			highest = p
		}
	}

	if highest != nil {
		return highest.Value, true
	}
	return promises[0].Value, true
}

// Tally counts phase 2 answers per value. Each voter is counted once.
type Tally struct {
	counts map[string]int
	voters map[uint64]bool
}

// NewTally returns an empty Tally.
func NewTally() *Tally {
	return &Tally{
		counts: make(map[string]int),
		voters: make(map[uint64]bool),
	}
}

// Add records that @voter answered @value and returns the current count for that value.
// A second answer from the same voter is ignored.
func (t *Tally) Add(voter uint64, value string) int {
	if t.voters[voter] {
		return t.counts[value]
	}
	t.voters[voter] = true
	t.counts[value]++
	return t.counts[value]
}

// Count returns how many voters answered @value.
func (t *Tally) Count(value string) int {
	return t.counts[value]
}

// Winner returns the value that reached @threshold, if any.
// Values are visited in sorted order so the result does not depend on map iteration.
func (t *Tally) Winner(threshold int) (string, bool) {
	values := maps.Keys(t.counts)
	slices.Sort(values)
	for _, v := range values {
		if t.counts[v] >= threshold {
			return v, true
		}
	}
	return "", false
}
