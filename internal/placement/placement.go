// Package placement derives a behavioral engagement classification for an
// identity from the scored content it has interacted with.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stitchd/internal/identity"
	"stitchd/pkg/platform/sentinel"
)

// Level is the ordinal engagement classification.
type Level int

const (
	LevelUnaware Level = iota
	LevelCurious
	LevelFollower
	LevelGuide
)

func (l Level) String() string {
	switch l {
	case LevelUnaware:
		return "unaware"
	case LevelCurious:
		return "curious"
	case LevelFollower:
		return "follower"
	case LevelGuide:
		return "guide"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Score is the editorial scoring of one content URI: how strongly an
// interaction with it signals each engagement level, plus the scorer's
// confidence (0-100).
type Score struct {
	URI        string `json:"uri"`
	Unaware    int    `json:"unaware"`
	Curious    int    `json:"curious"`
	Follower   int    `json:"follower"`
	Guide      int    `json:"guide"`
	Confidence int    `json:"confidence"`
}

func (s Score) weight(l Level) int {
	switch l {
	case LevelUnaware:
		return s.Unaware
	case LevelCurious:
		return s.Curious
	case LevelFollower:
		return s.Follower
	case LevelGuide:
		return s.Guide
	}
	return 0
}

// Placement is the derived per-identity classification pushed to the global
// registry.
type Placement struct {
	UserID          int64
	MasterPersonIDs []string
	Level           Level
	Confidence      int
	CalculatedAt    time.Time
}

// EventURIs lists the distinct content URIs an identity has interacted
// with. Satisfied by the event store.
type EventURIs interface {
	URIsForUser(ctx context.Context, userID int64) ([]string, error)
}

type Calculator struct {
	scores ScoreStore
	events EventURIs
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Calculator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		c.now = now
	}
}

func NewCalculator(scores ScoreStore, events EventURIs, opts ...Option) (*Calculator, error) {
	if scores == nil {
		return nil, fmt.Errorf("score store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event uri source is required")
	}

	c := &Calculator{scores: scores, events: events, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Eligible reports whether an event at the given URI contributes to
// scoring, i.e. whether a score row exists for it.
func (c *Calculator) Eligible(ctx context.Context, uri string) (bool, error) {
	_, err := c.scores.Get(ctx, uri)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check score for %s: %w", uri, err)
	}
	return true, nil
}

// Calculate aggregates the score rows of the identity's event URIs into one
// placement. The level is the arg-max of summed level weights, ties
// resolving to the higher engagement level; confidence is the mean of the
// contributing rows' confidences. An identity with no scored interactions
// places as unaware with zero confidence.
func (c *Calculator) Calculate(ctx context.Context, ident identity.Identity) (Placement, error) {
	uris, err := c.events.URIsForUser(ctx, ident.ID)
	if err != nil {
		return Placement{}, fmt.Errorf("list event uris for user %d: %w", ident.ID, err)
	}

	var (
		weights      [4]int
		confSum      int
		contributing int
	)
	for _, uri := range uris {
		score, err := c.scores.Get(ctx, uri)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return Placement{}, fmt.Errorf("load score for %s: %w", uri, err)
		}
		for l := LevelUnaware; l <= LevelGuide; l++ {
			weights[l] += score.weight(l)
		}
		confSum += score.Confidence
		contributing++
	}

	p := Placement{
		UserID:          ident.ID,
		MasterPersonIDs: ident.MasterPersonID,
		Level:           LevelUnaware,
		CalculatedAt:    c.now().UTC(),
	}
	if contributing == 0 {
		return p, nil
	}

	for l := LevelCurious; l <= LevelGuide; l++ {
		if weights[l] >= weights[p.Level] {
			p.Level = l
		}
	}
	if weights[p.Level] == 0 {
		p.Level = LevelUnaware
	}
	p.Confidence = confSum / contributing

	c.logger.DebugContext(ctx, "placement calculated",
		"user_id", ident.ID,
		"level", p.Level.String(),
		"confidence", p.Confidence,
		"scored_uris", contributing,
	)
	return p, nil
}
