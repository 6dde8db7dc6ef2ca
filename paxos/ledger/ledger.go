// Package ledger implements the record of learnt values shared by every learner of the cluster.
// The ledger is append-only: each round gets at most one value and a round, once learnt, never changes.
// Backends (memory, sqlite, redis) are selected through the configuration.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"go-paxos-sim/paxos/config"
)

// ErrRoundConflict is returned when a value different from the learnt one is appended for a round.
// It can only happen if some node is not respecting the algorithm.
var ErrRoundConflict = errors.New("a different value has already been learnt for this round")

// ErrUnknownType is returned by Open for a ledger type it does not know.
var ErrUnknownType = errors.New("unknown ledger type")

// Entry is one learnt value, tagged with the round it was learnt for.
type Entry struct {
	Round  uint64 `json:"round"`
	Learnt string `json:"learnt"`
}

// Ledger is the storage of the learnt values.
type Ledger interface {
	// TryAppend inserts (@round, @v). It returns true only for the first insertion of the pair.
	// Appending the same pair again is a no-op returning false; appending another value for a
	// learnt round returns ErrRoundConflict.
	TryAppend(round uint64, v string) (bool, error)
	// Get returns the value learnt for @round, if any.
	Get(round uint64) (string, bool, error)
	// Entries returns all the learnt values in insertion order.
	Entries() ([]Entry, error)
	Close() error
}

// Open returns the backend selected by @conf.LedgerType.
func Open(conf config.Conf) (Ledger, error) {
	switch conf.LedgerType {
	case config.LedgerMemory, "":
		return NewMemory(), nil
	case config.LedgerSQLite:
		return NewSQLite(conf.DBPath)
	case config.LedgerRedis:
		return NewRedis(RedisOptions{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
			Prefix:   conf.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, conf.LedgerType)
	}
}

// Guarded serializes every access to a Ledger.
// AppendThen keeps the lock for the whole insert-decide-notify sequence, so two learners can
// never both observe a round as missing and both announce it.
type Guarded struct {
	mu    sync.Mutex
	store Ledger
}

// NewGuarded wraps @store.
func NewGuarded(store Ledger) *Guarded {
	return &Guarded{store: store}
}

// AppendThen appends (@round, @v) and, only when the pair was actually inserted, calls @then before releasing the lock.
// The error of @then is returned together with inserted = true.
func (g *Guarded) AppendThen(round uint64, v string, then func() error) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inserted, err := g.store.TryAppend(round, v)
	if err != nil || !inserted {
		return inserted, err
	}
	if then != nil {
		return true, then()
	}
	return true, nil
}

// Get returns the value learnt for @round.
func (g *Guarded) Get(round uint64) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Get(round)
}

// Entries returns a copy of the learnt values in order.
func (g *Guarded) Entries() ([]Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Entries()
}

// Close closes the underlying store.
func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Close()
}

func conflict(round uint64, learnt, proposed string) error {
	return fmt.Errorf("%w: round %d has '%s', refusing '%s'", ErrRoundConflict, round, learnt, proposed)
}
