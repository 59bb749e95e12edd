// Package memory provides an in-memory event store for tests.
package memory

import (
	"context"
	"sync"

	"stitchd/internal/event"
)

type Store struct {
	mu     sync.Mutex
	events []event.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Save(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) URIsForUser(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var uris []string
	for _, ev := range s.events {
		if ev.UserID != userID {
			continue
		}
		if _, ok := seen[ev.URI]; ok {
			continue
		}
		seen[ev.URI] = struct{}{}
		uris = append(uris, ev.URI)
	}
	return uris, nil
}

// All returns the saved events, for test assertions.
func (s *Store) All() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}
