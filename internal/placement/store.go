package placement

import "context"

// ScoreStore persists per-URI content scores. Get returns
// sentinel.ErrNotFound (wrapped) when the URI has no score, which doubles
// as the scoring-eligibility signal for events.
type ScoreStore interface {
	Get(ctx context.Context, uri string) (Score, error)
	Save(ctx context.Context, score Score) error
}
