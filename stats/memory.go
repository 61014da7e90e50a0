package stats

import (
	"sync"
	"time"

	"github.com/JellyTony/poolboard/protocol"
)

// MemoryStore keeps poll counters and window snapshots in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]map[time.Time]int
	windows map[string][]protocol.BlockRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]map[time.Time]int),
		windows: make(map[string][]protocol.BlockRecord),
	}
}

func (s *MemoryStore) Increment(key string, minute time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := minute.Truncate(time.Minute)
	u, ok := s.data[key]
	if !ok {
		u = make(map[time.Time]int)
		s.data[key] = u
	}
	u[m] = u[m] + 1
	return nil
}

func (s *MemoryStore) Get(key string, minute time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := minute.Truncate(time.Minute)
	u, ok := s.data[key]
	if !ok {
		return 0, nil
	}
	return u[m], nil
}

func (s *MemoryStore) SaveWindow(series string, recs []protocol.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[series] = append([]protocol.BlockRecord(nil), recs...)
	return nil
}

func (s *MemoryStore) LoadWindow(series string) ([]protocol.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.BlockRecord(nil), s.windows[series]...), nil
}

func (s *MemoryStore) Close() error { return nil }
