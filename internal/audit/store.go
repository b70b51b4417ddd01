package audit

import "context"

// Store is the append-only sink. There is deliberately no update or delete:
// the interface itself forbids rewriting history.
type Store interface {
	// Append writes one entry. A failure here must fail the mutating
	// operation it belongs to; no silent unaudited mutation.
	Append(ctx context.Context, e Entry) error

	// Query returns entries matching the filter, timestamp descending.
	// Re-running the same filter yields a consistent snapshot as of query
	// time.
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Exporter streams committed entries to an external sink (SIEM). Export must
// never block or fail the commit path; the store remains the source of
// truth.
type Exporter interface {
	Export(e Entry)
}
