// Package handler exposes the audit query surface. Admin only; the service
// enforces the gate.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"captrack/internal/audit"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/httputil"
	"captrack/pkg/requestcontext"
)

// Service queries the audit log.
type Service interface {
	Query(ctx context.Context, p domain.Principal, f audit.Filter) ([]audit.Entry, error)
}

type Handler struct {
	audits Service
	logger *slog.Logger
}

func New(audits Service, logger *slog.Logger) *Handler {
	return &Handler{audits: audits, logger: logger}
}

// Register attaches the audit routes. The router already carries the
// platform middleware chain including authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.handleQuery)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := requestcontext.Principal(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			slog.String("request_id", requestcontext.RequestID(ctx)))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.audits.Query(ctx, p, f)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeForbidden {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "audit query failed",
			slog.String("error", err.Error()),
			slog.String("request_id", requestcontext.RequestID(ctx)))
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	var f audit.Filter
	q := r.URL.Query()

	if raw := q.Get("actor_id"); raw != "" {
		id, err := domain.ParseUserID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		f.ActorID = &id
	}
	if raw := q.Get("record_type"); raw != "" {
		t, err := domain.ParseRecordType(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		f.RecordType = &t
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "from must be RFC 3339")
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "to must be RFC 3339")
		}
		f.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}
