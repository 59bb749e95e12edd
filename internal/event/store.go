package event

import "context"

// Store persists resolved events. Event persistence is the pipeline's job,
// not the stitcher's: the stitch commits first, the event row follows.
type Store interface {
	Save(ctx context.Context, ev Event) error
	// URIsForUser returns the distinct page URIs of a user's events, the
	// input to placement calculation.
	URIsForUser(ctx context.Context, userID int64) ([]string, error)
}
