// Package proposal exposes the Number type (the ballot) and its comparison methods.
package proposal

import "fmt"

// Number implements the ballot used by proposers and acceptors.
// A number is the tuple n = (round, seq, pid) and is compared lexicographically: the round first, so a ballot
// of a newer round always wins, then the sequence number, then the PID of the proposing node to break ties.
// Since PIDs are unique, two proposers can never produce the same Number.
// The zero Number is the null ballot, lower than any ballot a proposer can issue.
type Number struct {
	Round uint64 `json:"round"` // Round is the round (log position) the ballot was issued for.
	Seq   uint64 `json:"seq"`   // Seq is the proposer's sequence number. 0 is null sequence number
	Pid   uint64 `json:"pid"`   // Pid is the identifier of the proposing node.
}

// IsGreaterThan overrides the ">" operator for Number objects.
func (p Number) IsGreaterThan(other Number) bool {
	if p.Round != other.Round {
		return p.Round > other.Round
	}
	return p.Seq > other.Seq || (p.Seq == other.Seq && p.Pid > other.Pid)
}

// IsLowerThan overrides the "<" operator for Number objects.
func (p Number) IsLowerThan(other Number) bool {
	return other.IsGreaterThan(p)
}

// IsEqualTo overrides the "==" operator for Number objects.
func (p Number) IsEqualTo(other Number) bool {
	return p == other
}

// IsGEThan overrides the ">=" operator for Number objects.
func (p Number) IsGEThan(other Number) bool {
	return p.IsGreaterThan(other) || p.IsEqualTo(other)
}

// IsLEThan overrides the "<=" operator for Number objects.
func (p Number) IsLEThan(other Number) bool {
	return p.IsLowerThan(other) || p.IsEqualTo(other)
}

// IsZero reports whether @p is the null ballot.
func (p Number) IsZero() bool {
	return p == Number{}
}

func (p Number) String() string {
	return fmt.Sprintf("%d.%d@%d", p.Round, p.Seq, p.Pid)
}

// Max returns the highest of the two numbers.
func Max(a, b Number) Number {
	if a.IsGreaterThan(b) {
		return a
	}
	return b
}
