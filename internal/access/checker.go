package access

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"captrack/internal/audit"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/sentinel"
	"captrack/pkg/requestcontext"
)

// metaLookupConcurrency bounds parallel metadata loads in batch filtering.
const metaLookupConcurrency = 8

// RecordFinder resolves a record reference to its access metadata. Satisfied
// by the entity store; declared here so the engine does not depend on the
// record schemas.
type RecordFinder interface {
	FindMeta(ctx context.Context, ref domain.Ref) (domain.Meta, error)
}

// Checker is the advisory decision surface: answer "may X do Y to Z" without
// performing Y. Mutating checks are audited like the mutation itself would
// be, so a probe and a blocked attempt look the same in the log.
type Checker struct {
	records RecordFinder
	decider *Decider
	audits  audit.Store
	logger  *slog.Logger
}

func NewChecker(records RecordFinder, decider *Decider, audits audit.Store, logger *slog.Logger) *Checker {
	return &Checker{records: records, decider: decider, audits: audits, logger: logger}
}

// Check evaluates one action against one record. The record must exist;
// create checks pass a zero record id and skip the lookup since there is no
// record yet to inspect.
func (c *Checker) Check(ctx context.Context, p domain.Principal, action Action, ref domain.Ref) (Decision, error) {
	var meta domain.Meta
	if action == ActionCreate || action == ActionAdminPanel {
		meta = domain.Meta{Type: ref.Type, ID: ref.ID}
	} else {
		var err error
		meta, err = c.records.FindMeta(ctx, ref)
		if errors.Is(err, sentinel.ErrNotFound) {
			return Decision{}, dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		if err != nil {
			return Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
		}
	}

	dec, err := c.decider.Decide(ctx, p, action, meta)
	if err != nil {
		return Decision{}, err
	}

	if auditAction, ok := auditActionFor(action); ok {
		entry := audit.NewEntry(ctx, p.UserID, auditAction, auditOutcome(dec), ref)
		entry.Reason = string(dec.Reason)
		if err := c.audits.Append(ctx, entry); err != nil {
			c.logger.ErrorContext(ctx, "audit append failed for access check",
				slog.String("record_type", string(ref.Type)),
				slog.String("request_id", requestcontext.RequestID(ctx)),
				slog.String("error", err.Error()))
			return Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit write failed")
		}
	}
	return dec, nil
}

// FilterReadableRefs returns the refs the principal may read, preserving the
// input order. Refs that no longer resolve are dropped rather than erroring:
// a record deleted mid-listing is simply not visible.
func (c *Checker) FilterReadableRefs(ctx context.Context, p domain.Principal, refs []domain.Ref) ([]domain.Ref, error) {
	// Each goroutine writes its own slot, so no lock is needed.
	metas := make([]*domain.Meta, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metaLookupConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			m, err := c.records.FindMeta(gctx, ref)
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
			}
			metas[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make([]domain.Meta, 0, len(refs))
	for _, m := range metas {
		if m != nil {
			found = append(found, *m)
		}
	}

	readable, err := c.decider.FilterReadable(ctx, p, found)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Ref, 0, len(readable))
	for _, m := range readable {
		out = append(out, m.Ref())
	}
	return out, nil
}

// auditActionFor maps a mutating access action to its audit action. Reads
// and admin panel checks are not audited.
func auditActionFor(a Action) (audit.Action, bool) {
	switch a {
	case ActionCreate:
		return audit.ActionCreate, true
	case ActionUpdate:
		return audit.ActionUpdate, true
	case ActionDelete:
		return audit.ActionDelete, true
	default:
		return "", false
	}
}

func auditOutcome(dec Decision) audit.Outcome {
	if dec.Allowed {
		return audit.OutcomeAllow
	}
	return audit.OutcomeDeny
}
