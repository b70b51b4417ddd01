// Package handler exposes record CRUD over HTTP. Authorization happens in
// the record service; these handlers only parse, dispatch, and serialize.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"captrack/internal/entity"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/httputil"
	"captrack/pkg/requestcontext"
)

// maxBodyBytes bounds record payloads; nothing in the chain is remotely this
// large.
const maxBodyBytes = 1 << 20

// Service runs the record lifecycle.
type Service interface {
	Create(ctx context.Context, p domain.Principal, rec entity.Record) (entity.Record, error)
	Update(ctx context.Context, p domain.Principal, ref domain.Ref, rec entity.Record) (entity.Record, error)
	Delete(ctx context.Context, p domain.Principal, ref domain.Ref) error
	Get(ctx context.Context, p domain.Principal, ref domain.Ref) (entity.Record, error)
	List(ctx context.Context, p domain.Principal, t domain.RecordType) ([]entity.Record, error)
}

type Handler struct {
	records Service
	logger  *slog.Logger
}

func New(records Service, logger *slog.Logger) *Handler {
	return &Handler{records: records, logger: logger}
}

// Register attaches the record routes. The router already carries the
// platform middleware chain including authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post("/records/{type}", h.handleCreate)
	r.Get("/records/{type}", h.handleList)
	r.Get("/records/{type}/{id}", h.handleGet)
	r.Put("/records/{type}/{id}", h.handleUpdate)
	r.Delete("/records/{type}/{id}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	recordType, err := domain.ParseRecordType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, ok := h.decodeRecord(w, r, recordType)
	if !ok {
		return
	}

	created, err := h.records.Create(ctx, p, rec)
	if err != nil {
		h.writeServiceError(ctx, w, err, "record creation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	recordType, err := domain.ParseRecordType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.records.List(ctx, p, recordType)
	if err != nil {
		h.writeServiceError(ctx, w, err, "record listing failed")
		return
	}
	if records == nil {
		records = []entity.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	ref, err := recordRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.records.Get(ctx, p, ref)
	if err != nil {
		h.writeServiceError(ctx, w, err, "record fetch failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	ref, err := recordRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, ok := h.decodeRecord(w, r, ref.Type)
	if !ok {
		return
	}

	updated, err := h.records.Update(ctx, p, ref, rec)
	if err != nil {
		h.writeServiceError(ctx, w, err, "record update failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	ref, err := recordRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.records.Delete(ctx, p, ref); err != nil {
		h.writeServiceError(ctx, w, err, "record deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeRecord(w http.ResponseWriter, r *http.Request, t domain.RecordType) (entity.Record, bool) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return nil, false
	}
	rec, err := entity.Decode(t, body)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid record payload",
			slog.String("record_type", string(t)),
			slog.String("request_id", requestcontext.RequestID(ctx)),
			slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeForbidden, dErrors.CodeConflict:
		httputil.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, msg,
			slog.String("error", err.Error()),
			slog.String("request_id", requestcontext.RequestID(ctx)))
		httputil.WriteError(w, err)
	}
}

func recordRef(r *http.Request) (domain.Ref, error) {
	recordType, err := domain.ParseRecordType(chi.URLParam(r, "type"))
	if err != nil {
		return domain.Ref{}, err
	}
	id, err := domain.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		return domain.Ref{}, err
	}
	return domain.Ref{Type: recordType, ID: id}, nil
}

func principal(ctx context.Context, w http.ResponseWriter, logger *slog.Logger) (domain.Principal, bool) {
	p, ok := requestcontext.Principal(ctx)
	if !ok {
		logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			slog.String("request_id", requestcontext.RequestID(ctx)))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.Principal{}, false
	}
	return p, true
}
