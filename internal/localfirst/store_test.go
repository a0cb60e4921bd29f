package localfirst

import (
	"context"
	"errors"
	"sync"
)

type memEntry struct {
	userID int64
	kind   string
	entry  Entry
}

type memStore struct {
	mu      sync.Mutex
	entries []memEntry
	failOps bool
}

func (s *memStore) Append(_ context.Context, userID int64, kind string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps {
		return errors.New("store unavailable")
	}
	s.entries = append(s.entries, memEntry{userID: userID, kind: kind, entry: entry})
	return nil
}

func (s *memStore) List(_ context.Context, userID int64, kind string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps {
		return nil, errors.New("store unavailable")
	}
	var out []Entry
	for _, e := range s.entries {
		if e.userID == userID && e.kind == kind {
			out = append(out, e.entry)
		}
	}
	return out, nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.entry.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

type memPersister[K comparable, V any] struct {
	mu    sync.Mutex
	saved map[K]V
	saves int
	err   error
}

func (p *memPersister[K, V]) Load(context.Context) (map[K]V, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[K]V, len(p.saved))
	for k, v := range p.saved {
		out[k] = v
	}
	return out, nil
}

func (p *memPersister[K, V]) Save(_ context.Context, items map[K]V) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saved = items
	p.saves++
	return nil
}
