package baseline

import (
	"context"
	"sync"
)

// MemStore keeps the baseline in memory. Entries survive Close and reopen.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	open    bool

	// FailPut, when set, is returned by every Put. Used to simulate store failure.
	FailPut error
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*Entry)}
}

func (s *MemStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrAlreadyOpen
	}
	s.open = true
	return nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.open = false
	return nil
}

func (s *MemStore) Get(ctx context.Context, path string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	e, ok := s.entries[path]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (s *MemStore) Put(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if s.FailPut != nil {
		return s.FailPut
	}
	c := *e
	s.entries[e.Path] = &c
	return nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	delete(s.entries, path)
	return nil
}

func (s *MemStore) ListAll(ctx context.Context) (map[string]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	out := make(map[string]*Entry, len(s.entries))
	for p, e := range s.entries {
		c := *e
		out[p] = &c
	}
	return out, nil
}

func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return 0, ErrNotOpen
	}
	return len(s.entries), nil
}

func (s *MemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.entries = make(map[string]*Entry)
	return nil
}
