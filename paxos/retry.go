package paxos

import (
	"time"

	"golang.org/x/exp/rand"
)

// backoff computes exponentially growing, randomized waits between ballot retries.
type backoff struct {
	base time.Duration
	max  time.Duration
	rng  *rand.Rand
}

func newBackoff(base, max time.Duration, seed uint64) backoff {
	return backoff{base: base, max: max, rng: rand.New(rand.NewSource(seed))}
}

// wait returns the delay before retry number @attempt (0 based).
// The delay doubles at each attempt, gets up to 100% random jitter and never exceeds max.
func (b backoff) wait(attempt int) time.Duration {
	d := b.base
	if d <= 0 {
		d = time.Millisecond
	}
	for i := 0; i < attempt && d < b.max; i++ {
		d *= 2
	}
	d += time.Duration(b.rng.Int63n(int64(d) + 1))
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}
