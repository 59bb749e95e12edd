// Package stitch resolves events to durable identities: it orchestrates the
// read, match, and persist sequence and the retry discipline around it.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stitchd/internal/event"
	"stitchd/internal/identity"
	"stitchd/internal/platform/metrics"
)

// ErrUnknownUser marks an event carrying no identifier values in any type.
// There is nothing to stitch on; the error is never retried.
var ErrUnknownUser = errors.New("event carries no user identifiers")

type Stitcher struct {
	store   identity.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Stitcher)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stitcher) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stitcher) {
		s.metrics = m
	}
}

func New(store identity.Store, opts ...Option) (*Stitcher, error) {
	if store == nil {
		return nil, fmt.Errorf("identity store is required")
	}

	s := &Stitcher{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Stitch resolves one event to the authoritative identity: build a candidate
// from the event's identifiers, fetch intersecting stored identities, let
// the matcher decide, persist the outcome, and return the identity together
// with the event resolved to it.
//
// Transient store conflicts propagate as sentinel.ErrTransientConflict for
// the retry policy; everything else is terminal for this event.
func (s *Stitcher) Stitch(ctx context.Context, ev event.Event) (identity.Identity, event.Event, error) {
	candidate := ev.Identifiers
	if candidate.Empty() {
		return identity.Identity{}, ev, ErrUnknownUser
	}

	candidates, err := s.store.FindIntersecting(ctx, candidate)
	if err != nil {
		return identity.Identity{}, ev, fmt.Errorf("fetch candidate identities: %w", err)
	}

	result := identity.Match(candidate, candidates)
	if s.metrics != nil {
		s.metrics.StitchOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	}

	var resolved identity.Identity
	switch result.Outcome {
	case identity.OutcomeCreate, identity.OutcomeAmbiguous:
		resolved, err = s.store.Insert(ctx, result.Identity)
		if err != nil {
			return identity.Identity{}, ev, fmt.Errorf("insert identity: %w", err)
		}
	case identity.OutcomeMergeOne, identity.OutcomeMergeMany:
		resolved, err = s.store.MergeUpdate(ctx, result.Identity.ID, result.Identity, result.Absorbed)
		if err != nil {
			return identity.Identity{}, ev, fmt.Errorf("merge identity %d: %w", result.Identity.ID, err)
		}
	default:
		return identity.Identity{}, ev, fmt.Errorf("unexpected match outcome %q", result.Outcome)
	}

	s.logger.DebugContext(ctx, "event stitched",
		"event_id", ev.ID,
		"outcome", string(result.Outcome),
		"user_id", resolved.ID,
		"candidates", len(candidates),
		"absorbed", len(result.Absorbed),
	)

	return resolved, ev.Resolved(resolved.ID), nil
}
