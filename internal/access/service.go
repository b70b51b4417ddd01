package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"captrack/internal/access/metrics"
	"captrack/internal/audit"
	"captrack/internal/platform/txrunner"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/sentinel"
	"captrack/pkg/requestcontext"
)

// GrantInput carries the caller-supplied fields of a new grant. Exactly one
// of GranteeUserID/GranteeGroupID must be set.
type GrantInput struct {
	Record         domain.Ref
	GranteeUserID  *domain.UserID
	GranteeGroupID *domain.GroupID
	Level          Level
	ExpiresAt      *time.Time
}

// GrantService manages the grant lifecycle. Granting and revoking require
// effective write access to the record itself; a grantee with Read cannot
// re-share, while one with ReadWrite can. Every grant and revoke, allowed or
// denied, lands in the audit log; the allowed ones commit atomically with
// their audit entry.
type GrantService struct {
	grants   Store
	records  RecordFinder
	decider  *Decider
	audits   audit.Store
	tx       txrunner.Runner
	exporter audit.Exporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewGrantService(
	grants Store,
	records RecordFinder,
	decider *Decider,
	audits audit.Store,
	tx txrunner.Runner,
	exporter audit.Exporter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *GrantService {
	return &GrantService{
		grants:   grants,
		records:  records,
		decider:  decider,
		audits:   audits,
		tx:       tx,
		exporter: exporter,
		metrics:  m,
		logger:   logger,
	}
}

// Grant creates a new active grant on a record. The expiry, when present,
// must be strictly in the future at request time; "expires now" is already
// expired and is rejected rather than stored dead.
func (s *GrantService) Grant(ctx context.Context, p domain.Principal, in GrantInput) (Grant, error) {
	if (in.GranteeUserID == nil) == (in.GranteeGroupID == nil) {
		s.metrics.IncGrantOp("grant", "invalid")
		return Grant{}, dErrors.New(dErrors.CodeBadRequest, "exactly one of grantee_user_id and grantee_group_id required")
	}

	// The handler parses the level, but direct callers pass it as-is; a grant
	// with a level outside the closed set would satisfy no action at all.
	if _, err := ParseLevel(string(in.Level)); err != nil {
		s.metrics.IncGrantOp("grant", "invalid")
		return Grant{}, err
	}

	now := requestcontext.Now(ctx)
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		s.metrics.IncGrantOp("grant", "invalid")
		return Grant{}, dErrors.New(dErrors.CodeBadRequest, "expires_at must be in the future")
	}

	meta, err := s.records.FindMeta(ctx, in.Record)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncGrantOp("grant", "not_found")
		return Grant{}, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err != nil {
		return Grant{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	if err := s.requireWrite(ctx, p, meta, audit.ActionGrant); err != nil {
		s.metrics.IncGrantOp("grant", "denied")
		return Grant{}, err
	}

	g := Grant{
		ID:             domain.NewGrantID(),
		RecordType:     in.Record.Type,
		RecordID:       in.Record.ID,
		GranteeUserID:  in.GranteeUserID,
		GranteeGroupID: in.GranteeGroupID,
		Level:          in.Level,
		GrantedBy:      p.UserID,
		GrantedAt:      now,
		ExpiresAt:      in.ExpiresAt,
	}

	entry := audit.NewEntry(ctx, p.UserID, audit.ActionGrant, audit.OutcomeAllow, in.Record)
	entry.NewValue, err = json.Marshal(g)
	if err != nil {
		return Grant{}, fmt.Errorf("marshal grant snapshot: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.grants.Insert(ctx, g); err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		if err := s.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncGrantOp("grant", "error")
		return Grant{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "grant creation failed")
	}

	s.export(entry)
	s.metrics.IncGrantOp("grant", "ok")
	s.logger.InfoContext(ctx, "grant created",
		slog.String("grant_id", g.ID.String()),
		slog.String("record_type", string(g.RecordType)),
		slog.String("record_id", g.RecordID.String()),
		slog.String("level", string(g.Level)),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return g, nil
}

// Revoke hard-deletes a grant. Revoking an already-revoked or unknown grant
// is NotFound, never a silent success. If the underlying record is gone the
// grant is orphaned and only elevated roles can still clean it up.
func (s *GrantService) Revoke(ctx context.Context, p domain.Principal, id domain.GrantID) error {
	g, err := s.grants.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncGrantOp("revoke", "not_found")
		return dErrors.New(dErrors.CodeNotFound, "grant not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "grant lookup failed")
	}

	ref := domain.Ref{Type: g.RecordType, ID: g.RecordID}
	meta, err := s.records.FindMeta(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		meta = domain.Meta{Type: g.RecordType, ID: g.RecordID}
	} else if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	if err := s.requireWrite(ctx, p, meta, audit.ActionRevoke); err != nil {
		s.metrics.IncGrantOp("revoke", "denied")
		return err
	}

	entry := audit.NewEntry(ctx, p.UserID, audit.ActionRevoke, audit.OutcomeAllow, ref)
	entry.OldValue, err = json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal grant snapshot: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.grants.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete grant: %w", err)
		}
		if err := s.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		// Lost a race with a concurrent revoke.
		s.metrics.IncGrantOp("revoke", "not_found")
		return dErrors.New(dErrors.CodeNotFound, "grant not found")
	}
	if err != nil {
		s.metrics.IncGrantOp("revoke", "error")
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "grant revocation failed")
	}

	s.export(entry)
	s.metrics.IncGrantOp("revoke", "ok")
	s.logger.InfoContext(ctx, "grant revoked",
		slog.String("grant_id", id.String()),
		slog.String("record_type", string(g.RecordType)),
		slog.String("record_id", g.RecordID.String()),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return nil
}

// List returns the active grants on a record, visible to anyone who can read
// the record.
func (s *GrantService) List(ctx context.Context, p domain.Principal, ref domain.Ref) ([]Grant, error) {
	meta, err := s.records.FindMeta(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	dec, err := s.decider.Decide(ctx, p, ActionRead, meta)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "access denied")
	}

	grants, err := s.grants.ListForRecord(ctx, ref, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "grant lookup failed")
	}
	s.metrics.IncGrantOp("list", "ok")
	return grants, nil
}

// requireWrite checks effective update access and audits a denial under the
// given audit action.
func (s *GrantService) requireWrite(ctx context.Context, p domain.Principal, meta domain.Meta, action audit.Action) error {
	dec, err := s.decider.Decide(ctx, p, ActionUpdate, meta)
	if err != nil {
		return err
	}
	if dec.Allowed {
		return nil
	}

	entry := audit.NewEntry(ctx, p.UserID, action, audit.OutcomeDeny, meta.Ref())
	entry.Reason = string(dec.Reason)
	if err := s.audits.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit write failed")
	}
	s.export(entry)
	return dErrors.New(dErrors.CodeForbidden, "access denied")
}

func (s *GrantService) export(e audit.Entry) {
	if s.exporter != nil {
		s.exporter.Export(e)
	}
}
