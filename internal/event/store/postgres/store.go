// Package postgres implements the event store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"stitchd/internal/event"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const saveQuery = `
	INSERT INTO events (id, uri, useragent, user_id, occurred_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id
`

// Save upserts the event row. Replays of the same record (consumer
// redelivery, stitch retries) converge on the latest resolved user id.
func (s *Store) Save(ctx context.Context, ev event.Event) error {
	_, err := s.db.ExecContext(ctx, saveQuery,
		ev.ID,
		ev.URI,
		ev.UserAgent,
		ev.UserID,
		ev.OccurredAt,
		ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) URIsForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT uri FROM events WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query event uris: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan event uri: %w", err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event uris: %w", err)
	}
	return uris, nil
}
