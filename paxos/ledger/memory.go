package ledger

import "sync"

// Memory keeps the ledger in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	byRound map[uint64]string
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{byRound: make(map[uint64]string)}
}

func (m *Memory) TryAppend(round uint64, v string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if learnt, ok := m.byRound[round]; ok {
		if learnt == v {
			return false, nil
		}
		return false, conflict(round, learnt, v)
	}
	m.byRound[round] = v
	m.entries = append(m.entries, Entry{Round: round, Learnt: v})
	return true, nil
}

func (m *Memory) Get(round uint64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byRound[round]
	return v, ok, nil
}

func (m *Memory) Entries() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *Memory) Close() error { return nil }
