// Package postgres implements the score store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stitchd/internal/placement"
	"stitchd/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, uri string) (placement.Score, error) {
	var score placement.Score
	err := s.db.QueryRowContext(ctx, `
		SELECT uri, unaware, curious, follower, guide, confidence
		FROM scores
		WHERE uri = $1
	`, uri).Scan(
		&score.URI,
		&score.Unaware,
		&score.Curious,
		&score.Follower,
		&score.Guide,
		&score.Confidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return placement.Score{}, fmt.Errorf("score %s: %w", uri, sentinel.ErrNotFound)
	}
	if err != nil {
		return placement.Score{}, fmt.Errorf("query score: %w", err)
	}
	return score, nil
}

func (s *Store) Save(ctx context.Context, score placement.Score) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scores (uri, unaware, curious, follower, guide, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uri) DO UPDATE SET
			unaware = EXCLUDED.unaware,
			curious = EXCLUDED.curious,
			follower = EXCLUDED.follower,
			guide = EXCLUDED.guide,
			confidence = EXCLUDED.confidence,
			updated_at = now()
	`,
		score.URI,
		score.Unaware,
		score.Curious,
		score.Follower,
		score.Guide,
		score.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}
