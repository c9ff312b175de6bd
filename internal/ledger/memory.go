package ledger

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and dry runs. Same atomicity
// contract as the SQLite store: one mutex-guarded write per entry.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]map[string]Entry // workspace -> repo -> entry
	log     []Entry
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory ledger.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]map[string]Entry)}
}

func (s *MemStore) Get(_ context.Context, workspace, repo string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[workspace][repo]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *MemStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[e.Workspace] == nil {
		s.entries[e.Workspace] = make(map[string]Entry)
	}
	s.entries[e.Workspace][e.Repo] = e
	return nil
}

func (s *MemStore) List(_ context.Context, workspace string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	for _, e := range s.entries[workspace] {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MemStore) Archive(_ context.Context, workspace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[workspace] {
		s.log = append(s.log, e)
	}
	delete(s.entries, workspace)
	return nil
}

func (s *MemStore) Clear(_ context.Context, workspace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workspace)
	return nil
}

// Archived returns entries moved to the historical log, for assertions.
func (s *MemStore) Archived() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.log))
	copy(out, s.log)
	return out
}
