// Package memory provides an in-memory score store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"stitchd/internal/placement"
	"stitchd/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.RWMutex
	scores map[string]placement.Score
}

func New() *Store {
	return &Store{scores: make(map[string]placement.Score)}
}

func (s *Store) Get(_ context.Context, uri string) (placement.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if score, ok := s.scores[uri]; ok {
		return score, nil
	}
	return placement.Score{}, fmt.Errorf("score %s: %w", uri, sentinel.ErrNotFound)
}

func (s *Store) Save(_ context.Context, score placement.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.URI] = score
	return nil
}
