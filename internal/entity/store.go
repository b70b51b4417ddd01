package entity

import (
	"context"

	"captrack/pkg/domain"
)

// Store persists entity records. The engine treats table shape as an external
// concern; this interface is what the resolver, decision wiring, and the
// record service need from whatever storage the host application uses.
type Store interface {
	// Insert stores a new record. sentinel.ErrConflict when the id exists.
	Insert(ctx context.Context, rec Record) error

	// Update replaces an existing record. sentinel.ErrNotFound when absent.
	Update(ctx context.Context, rec Record) error

	// Delete removes a record. sentinel.ErrNotFound when absent.
	Delete(ctx context.Context, ref domain.Ref) error

	// Find returns the full record. sentinel.ErrNotFound when absent.
	Find(ctx context.Context, ref domain.Ref) (Record, error)

	// FindMeta returns just the authorization meta.
	FindMeta(ctx context.Context, ref domain.Ref) (domain.Meta, error)

	// List returns every record of one type, unfiltered. Callers must pass
	// the result through access filtering before exposing it.
	List(ctx context.Context, t domain.RecordType) ([]Record, error)
}
