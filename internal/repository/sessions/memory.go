package sessions

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"tglink/internal/repository"
)

// Closer is what the store tears down when an entry leaves it.
type Closer interface {
	Close()
}

type entry[T Closer] struct {
	value     T
	expiresAt time.Time
}

// Store keeps live sessions in memory. Every Get slides the expiry forward.
type Store[T Closer] struct {
	mu    sync.Mutex
	items map[string]*entry[T]
	ttl   time.Duration
	clock clock.Clock
}

func New[T Closer](ttl time.Duration, clk clock.Clock) *Store[T] {
	if clk == nil {
		clk = clock.New()
	}

	return &Store[T]{
		items: make(map[string]*entry[T]),
		ttl:   ttl,
		clock: clk,
	}
}

func (s *Store[T]) Put(id string, value T) {
	s.mu.Lock()
	prev, ok := s.items[id]
	s.items[id] = &entry[T]{value: value, expiresAt: s.clock.Now().Add(s.ttl)}
	s.mu.Unlock()

	if ok {
		prev.value.Close()
	}
}

func (s *Store[T]) Get(id string) (T, error) {
	const op = "sessions.Get"

	var zero T

	s.mu.Lock()
	e, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return zero, fmt.Errorf("%s: %w", op, repository.ErrSessionNotFound)
	}

	now := s.clock.Now()
	if !now.Before(e.expiresAt) {
		delete(s.items, id)
		s.mu.Unlock()
		e.value.Close()
		return zero, fmt.Errorf("%s: %w", op, repository.ErrSessionExpired)
	}

	e.expiresAt = now.Add(s.ttl)
	s.mu.Unlock()

	return e.value, nil
}

// Delete removes and closes the session. It reports whether it was present.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if ok {
		e.value.Close()
	}

	return ok
}

// DeleteExpired closes every expired session and returns how many it removed.
func (s *Store[T]) DeleteExpired() int {
	now := s.clock.Now()

	var expired []T

	s.mu.Lock()
	for id, e := range s.items {
		if !now.Before(e.expiresAt) {
			expired = append(expired, e.value)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, v := range expired {
		v.Close()
	}

	return len(expired)
}

// CloseAll empties the store, used on shutdown.
func (s *Store[T]) CloseAll() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*entry[T])
	s.mu.Unlock()

	for _, e := range items {
		e.value.Close()
	}
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}
