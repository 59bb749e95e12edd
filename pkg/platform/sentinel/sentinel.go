package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrTransientConflict: concurrent writers collided (deadlock or
//   serialization failure); the whole operation is safe to retry
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
//
// The stitch retry policy keys off ErrTransientConflict alone. Store adapters
// own the mapping from driver-specific failures to it; nothing above the store
// layer inspects error strings.
var (
	ErrNotFound          = errors.New("not found")
	ErrTransientConflict = errors.New("transient conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrUnavailable       = errors.New("unavailable")
)
