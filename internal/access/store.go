package access

import (
	"context"
	"time"

	"captrack/pkg/domain"
)

// Store persists access grants. Implementations must return only grants
// whose expiry is nil or strictly after the given instant, ordered by
// GrantedAt descending. Ordering does not affect allow decisions (grants are
// additive) but keeps audit and display output deterministic.
type Store interface {
	// Insert stores a new grant. sentinel.ErrConflict when the id exists.
	Insert(ctx context.Context, g Grant) error

	// Get returns a grant by id regardless of expiry.
	// sentinel.ErrNotFound when absent.
	Get(ctx context.Context, id domain.GrantID) (Grant, error)

	// Delete hard-removes a grant. sentinel.ErrNotFound when absent, so a
	// double revoke is always visible to the caller.
	Delete(ctx context.Context, id domain.GrantID) error

	// ListForRecord returns the active grants on one record.
	ListForRecord(ctx context.Context, ref domain.Ref, at time.Time) ([]Grant, error)

	// ListForRecords batch-loads active grants for many records in one
	// round-trip, for listing authorization.
	ListForRecords(ctx context.Context, refs []domain.Ref, at time.Time) (map[domain.Ref][]Grant, error)
}
