package access

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"captrack/internal/access/metrics"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/requestcontext"
)

const outcomeErrReason = "store_error"

// Decider answers allow/deny for one (principal, action, record) triple. It
// owns the grant lookup; the evaluation itself is the pure Evaluate function.
// A grant store failure is an error, never a default-allow and never a
// default-deny dressed up as a policy outcome.
type Decider struct {
	grants  Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewDecider(grants Store, m *metrics.Metrics, logger *slog.Logger) *Decider {
	return &Decider{
		grants:  grants,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("captrack/access"),
	}
}

// Decide evaluates one action against one record's metadata. All grant expiry
// comparisons use the request-pinned time so a request observes one instant.
func (d *Decider) Decide(ctx context.Context, p domain.Principal, action Action, meta domain.Meta) (Decision, error) {
	ctx, span := d.tracer.Start(ctx, "access.Decide", trace.WithAttributes(
		attribute.String("access.action", string(action)),
		attribute.String("record.type", string(meta.Type)),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	timer := d.metrics.DecideTimer()
	defer timer.ObserveDuration()

	var grants []Grant
	if needsGrantLookup(p, action, meta) {
		var err error
		grants, err = d.grants.ListForRecord(ctx, meta.Ref(), now)
		if err != nil {
			d.metrics.IncDecision(string(action), "error", outcomeErrReason)
			d.logger.ErrorContext(ctx, "grant lookup failed",
				slog.String("record_type", string(meta.Type)),
				slog.String("record_id", meta.ID.String()),
				slog.String("request_id", requestcontext.RequestID(ctx)),
				slog.String("error", err.Error()))
			return Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "grant lookup failed")
		}
	}

	dec := Evaluate(p, action, meta, grants, now)
	span.SetAttributes(
		attribute.Bool("access.allowed", dec.Allowed),
		attribute.String("access.reason", string(dec.Reason)),
	)
	d.metrics.IncDecision(string(action), outcomeLabel(dec), string(dec.Reason))
	return dec, nil
}

// FilterReadable returns the subset of metas the principal may read, in the
// input order. One batched grant lookup covers every record that needs one.
func (d *Decider) FilterReadable(ctx context.Context, p domain.Principal, metas []domain.Meta) ([]domain.Meta, error) {
	ctx, span := d.tracer.Start(ctx, "access.FilterReadable", trace.WithAttributes(
		attribute.Int("record.count", len(metas)),
	))
	defer span.End()

	now := requestcontext.Now(ctx)

	var needLookup []domain.Ref
	for _, m := range metas {
		if needsGrantLookup(p, ActionRead, m) {
			needLookup = append(needLookup, m.Ref())
		}
	}

	grantsByRef := map[domain.Ref][]Grant{}
	if len(needLookup) > 0 {
		var err error
		grantsByRef, err = d.grants.ListForRecords(ctx, needLookup, now)
		if err != nil {
			d.logger.ErrorContext(ctx, "batch grant lookup failed",
				slog.Int("record_count", len(needLookup)),
				slog.String("request_id", requestcontext.RequestID(ctx)),
				slog.String("error", err.Error()))
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "grant lookup failed")
		}
	}

	out := make([]domain.Meta, 0, len(metas))
	for _, m := range metas {
		dec := Evaluate(p, ActionRead, m, grantsByRef[m.Ref()], now)
		if dec.Allowed {
			out = append(out, m)
		}
	}
	span.SetAttributes(attribute.Int("record.visible", len(out)))
	return out, nil
}

// AllowAdmin reports whether the principal may use the administrative
// surface. Only the role matters; no record or grant is involved.
func (d *Decider) AllowAdmin(ctx context.Context, p domain.Principal) (bool, error) {
	dec, err := d.Decide(ctx, p, ActionAdminPanel, domain.Meta{})
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}

func outcomeLabel(dec Decision) string {
	if dec.Allowed {
		return "allow"
	}
	return "deny"
}
