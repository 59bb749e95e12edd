package identity

import "context"

// Store is the persistence port for identities. Implementations surface
// concurrent-writer collisions as sentinel.ErrTransientConflict so the
// stitch retry policy can distinguish them from permanent failures.
type Store interface {
	// FindIntersecting returns every stored identity whose identifier sets
	// intersect the probe's on at least one value, ordered by ascending id.
	FindIntersecting(ctx context.Context, probe Identity) ([]Identity, error)

	// Insert persists a new identity and returns it with its assigned id.
	Insert(ctx context.Context, ident Identity) (Identity, error)

	// MergeUpdate replaces the survivor's identifier sets with the unioned
	// sets and removes the absorbed records in the same transaction,
	// re-pointing their events at the survivor so identifiers are never
	// duplicated in downstream reads.
	MergeUpdate(ctx context.Context, survivorID int64, sets Identity, absorbed []int64) (Identity, error)
}
