package audit

import (
	"context"
	"log/slog"

	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/requestcontext"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Gate answers whether a principal may use the administrative surface.
// Implemented by the access decider; declared here to keep this package free
// of the engine's types.
type Gate interface {
	AllowAdmin(ctx context.Context, p domain.Principal) (bool, error)
}

// Service exposes audit queries to the administrative surface. The log
// itself is append-only; this is a read-only window onto it.
type Service struct {
	store  Store
	gate   Gate
	logger *slog.Logger
}

func NewService(store Store, gate Gate, logger *slog.Logger) *Service {
	return &Service{store: store, gate: gate, logger: logger}
}

// Query returns matching entries, newest first. Admin surface only.
func (s *Service) Query(ctx context.Context, p domain.Principal, f Filter) ([]Entry, error) {
	allowed, err := s.gate.AllowAdmin(ctx, p)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.WarnContext(ctx, "audit query denied",
			slog.String("actor_id", p.UserID.String()),
			slog.String("role", string(p.Role)),
			slog.String("request_id", requestcontext.RequestID(ctx)))
		return nil, dErrors.New(dErrors.CodeForbidden, "access denied")
	}

	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}

	entries, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit query failed")
	}
	return entries, nil
}
