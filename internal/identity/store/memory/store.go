// Package memory provides an in-memory identity store for unit tests and
// local development. It favors clarity over performance.
package memory

import (
	"context"
	"fmt"
	"sync"

	"stitchd/internal/identity"
	"stitchd/pkg/platform/sentinel"
)

type Store struct {
	mu         sync.Mutex
	nextID     int64
	identities map[int64]identity.Identity

	// scripted errors returned by the next mutating calls, in order; lets
	// tests exercise the transient-conflict retry path without Postgres.
	scripted []error
}

func New() *Store {
	return &Store{
		nextID:     1,
		identities: make(map[int64]identity.Identity),
	}
}

// FailNext scripts errors for upcoming mutating calls (Insert, MergeUpdate).
// Each call consumes one scripted error before touching state.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted = append(s.scripted, errs...)
}

func (s *Store) consumeScripted() error {
	if len(s.scripted) == 0 {
		return nil
	}
	err := s.scripted[0]
	s.scripted = s.scripted[1:]
	return err
}

func (s *Store) FindIntersecting(_ context.Context, probe identity.Identity) ([]identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []identity.Identity
	for id := int64(1); id < s.nextID; id++ {
		stored, ok := s.identities[id]
		if !ok {
			continue
		}
		if stored.Intersects(probe) {
			matches = append(matches, stored)
		}
	}
	return matches, nil
}

func (s *Store) Insert(_ context.Context, ident identity.Identity) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeScripted(); err != nil {
		return identity.Identity{}, err
	}

	ident = ident.Normalize()
	ident.ID = s.nextID
	s.nextID++
	s.identities[ident.ID] = ident
	return ident, nil
}

func (s *Store) MergeUpdate(_ context.Context, survivorID int64, sets identity.Identity, absorbed []int64) (identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeScripted(); err != nil {
		return identity.Identity{}, err
	}

	survivor, ok := s.identities[survivorID]
	if !ok {
		return identity.Identity{}, fmt.Errorf("identity %d: %w", survivorID, sentinel.ErrNotFound)
	}

	// Union, never overwrite: concurrent merges converge regardless of
	// commit order.
	merged := identity.Union(survivor, sets)
	s.identities[survivorID] = merged

	for _, id := range absorbed {
		delete(s.identities, id)
	}
	return merged, nil
}

// Get returns a stored identity by id, for test assertions.
func (s *Store) Get(id int64) (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	return ident, ok
}

// Len returns the number of stored identities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}
