// Package handler exposes the authorization surface over HTTP: advisory
// checks, read filtering, and grant management.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"captrack/internal/access"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/httputil"
	"captrack/pkg/requestcontext"
)

// Checker answers advisory access questions.
type Checker interface {
	Check(ctx context.Context, p domain.Principal, action access.Action, ref domain.Ref) (access.Decision, error)
	FilterReadableRefs(ctx context.Context, p domain.Principal, refs []domain.Ref) ([]domain.Ref, error)
}

// GrantService manages the grant lifecycle.
type GrantService interface {
	Grant(ctx context.Context, p domain.Principal, in access.GrantInput) (access.Grant, error)
	Revoke(ctx context.Context, p domain.Principal, id domain.GrantID) error
	List(ctx context.Context, p domain.Principal, ref domain.Ref) ([]access.Grant, error)
}

type Handler struct {
	checker Checker
	grants  GrantService
	logger  *slog.Logger
}

func New(checker Checker, grants GrantService, logger *slog.Logger) *Handler {
	return &Handler{checker: checker, grants: grants, logger: logger}
}

// Register attaches the access routes. The router already carries the
// platform middleware chain including authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post("/access/check", h.handleCheck)
	r.Post("/access/filter", h.handleFilter)
	r.Post("/records/{type}/{id}/grants", h.handleGrant)
	r.Get("/records/{type}/{id}/grants", h.handleListGrants)
	r.Delete("/grants/{grantID}", h.handleRevoke)
}

type checkRequest struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id,omitempty"`
	Action     string `json:"action"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[checkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	recordType, err := domain.ParseRecordType(req.RecordType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	action, err := access.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ref := domain.Ref{Type: recordType}
	// Create and admin_panel decisions read no existing record, so the id is
	// optional for them.
	if (action != access.ActionCreate && action != access.ActionAdminPanel) || req.RecordID != "" {
		ref.ID, err = domain.ParseRecordID(req.RecordID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	dec, err := h.checker.Check(ctx, p, action, ref)
	if err != nil {
		h.writeServiceError(ctx, w, err, "access check failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkResponse{Allowed: dec.Allowed, Reason: string(dec.Reason)})
}

type filterRequest struct {
	RecordType string   `json:"record_type"`
	RecordIDs  []string `json:"record_ids"`
}

type filterResponse struct {
	RecordIDs []string `json:"record_ids"`
}

func (h *Handler) handleFilter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[filterRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	recordType, err := domain.ParseRecordType(req.RecordType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	refs := make([]domain.Ref, 0, len(req.RecordIDs))
	for _, raw := range req.RecordIDs {
		id, err := domain.ParseRecordID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		refs = append(refs, domain.Ref{Type: recordType, ID: id})
	}

	readable, err := h.checker.FilterReadableRefs(ctx, p, refs)
	if err != nil {
		h.writeServiceError(ctx, w, err, "access filter failed")
		return
	}

	ids := make([]string, 0, len(readable))
	for _, ref := range readable {
		ids = append(ids, ref.ID.String())
	}
	httputil.WriteJSON(w, http.StatusOK, filterResponse{RecordIDs: ids})
}

type grantRequest struct {
	GranteeUserID  string `json:"grantee_user_id,omitempty"`
	GranteeGroupID string `json:"grantee_group_id,omitempty"`
	AccessLevel    string `json:"access_level"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
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

	req, ok := httputil.DecodeAndPrepare[grantRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	in := access.GrantInput{Record: ref}
	if req.GranteeUserID != "" {
		id, err := domain.ParseUserID(req.GranteeUserID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		in.GranteeUserID = &id
	}
	if req.GranteeGroupID != "" {
		id, err := domain.ParseGroupID(req.GranteeGroupID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		in.GranteeGroupID = &id
	}
	if in.Level, err = access.ParseLevel(req.AccessLevel); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expires_at must be RFC 3339"))
			return
		}
		in.ExpiresAt = &t
	}

	g, err := h.grants.Grant(ctx, p, in)
	if err != nil {
		h.writeServiceError(ctx, w, err, "grant creation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, g)
}

func (h *Handler) handleListGrants(w http.ResponseWriter, r *http.Request) {
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

	grants, err := h.grants.List(ctx, p, ref)
	if err != nil {
		h.writeServiceError(ctx, w, err, "grant listing failed")
		return
	}
	if grants == nil {
		grants = []access.Grant{}
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principal(ctx, w, h.logger)
	if !ok {
		return
	}

	id, err := domain.ParseGrantID(chi.URLParam(r, "grantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.grants.Revoke(ctx, p, id); err != nil {
		h.writeServiceError(ctx, w, err, "grant revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

// recordRef parses the {type}/{id} pair from the URL.
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

// principal pulls the authenticated principal out of the context. Absence is
// a wiring bug: RequireAuth must run before these handlers.
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
