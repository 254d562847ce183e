package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Expired challenges are dropped
// lazily: on read once past retention, and in a sweep on every write.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]Challenge),
		now:        time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Put(ctx context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.challenges[c.Email] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, email string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[email]
	if !ok {
		return nil, nil
	}
	if s.stale(c) {
		delete(s.challenges, email)
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	delete(s.challenges, email)
	s.mu.Unlock()
	return nil
}

// Len returns the number of challenges held, stale ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

func (s *MemoryStore) stale(c Challenge) bool {
	return s.now().After(c.ExpiresAt.Add(Retention))
}

func (s *MemoryStore) sweepLocked() {
	for email, c := range s.challenges {
		if s.stale(c) {
			delete(s.challenges, email)
		}
	}
}
