package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs tests and local runs without Firestore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	var current *Entry
	if entry, ok := s.entries[id]; ok {
		current = &entry
	}
	outcome, entry, write, err := reserve(current, key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return 0, Entry{}, err
	}
	if write {
		s.entries[id] = entry
	}
	return outcome, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(entry.Key)
	if current, ok := s.entries[id]; ok && current.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	entry.Completed = true
	entry.Body = append([]byte(nil), entry.Body...)
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, documentID(key))
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
