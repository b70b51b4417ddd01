package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"captrack/internal/access"
	"captrack/internal/audit"
	"captrack/internal/platform/txrunner"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/sentinel"
	"captrack/pkg/requestcontext"
)

// Service runs the record lifecycle behind the authorization engine. Every
// mutation is decided, then committed together with its audit entry; a denied
// mutation is audited too and surfaces as a forbidden error without touching
// the record.
type Service struct {
	store    Store
	resolver *Resolver
	decider  *access.Decider
	audits   audit.Store
	tx       txrunner.Runner
	exporter audit.Exporter
	logger   *slog.Logger
}

func NewService(
	store Store,
	resolver *Resolver,
	decider *access.Decider,
	audits audit.Store,
	tx txrunner.Runner,
	exporter audit.Exporter,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		decider:  decider,
		audits:   audits,
		tx:       tx,
		exporter: exporter,
		logger:   logger,
	}
}

// Create stores a new record. The server assigns the id and creation stamp;
// the owner group comes from the resolver, which discards whatever group the
// caller put on a child record and validates the one on a root.
func (s *Service) Create(ctx context.Context, p domain.Principal, rec Record) (Record, error) {
	rec = rec.Clone()
	meta := rec.Meta()

	if err := s.requireAllowed(ctx, p, access.ActionCreate, meta, audit.ActionCreate); err != nil {
		return nil, err
	}

	ownerGroup, err := s.resolver.ResolveOwnerGroup(ctx, rec, p)
	if err != nil {
		return nil, err
	}

	core := rec.core()
	core.ID = domain.NewRecordID()
	core.OwnerGroupID = ownerGroup
	core.CreatedBy = p.UserID
	core.CreatedAt = requestcontext.Now(ctx)
	core.UpdatedBy = domain.UserID{}
	core.UpdatedAt = nil

	entry := audit.NewEntry(ctx, p.UserID, audit.ActionCreate, audit.OutcomeAllow, rec.Meta().Ref())
	entry.NewValue, err = json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record snapshot: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if err := s.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record creation failed")
	}

	s.export(entry)
	s.logger.InfoContext(ctx, "record created",
		slog.String("record_type", string(meta.Type)),
		slog.String("record_id", core.ID.String()),
		slog.String("owner_group_id", ownerGroup.String()),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return rec.Clone(), nil
}

// Update replaces the caller-editable fields of an existing record. The
// decision runs against the stored record, and ownership and provenance are
// copied from it: owner group, creator, and creation time cannot drift no
// matter what the caller sends.
func (s *Service) Update(ctx context.Context, p domain.Principal, ref domain.Ref, rec Record) (Record, error) {
	if rec.Meta().Type != ref.Type {
		return nil, dErrors.New(dErrors.CodeBadRequest, "record type does not match path")
	}

	old, err := s.store.Find(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	if err := s.requireAllowed(ctx, p, access.ActionUpdate, old.Meta(), audit.ActionUpdate); err != nil {
		return nil, err
	}

	rec = rec.Clone()
	oldCore := old.core()
	core := rec.core()
	core.ID = oldCore.ID
	core.OwnerGroupID = oldCore.OwnerGroupID
	core.CreatedBy = oldCore.CreatedBy
	core.CreatedAt = oldCore.CreatedAt
	core.UpdatedBy = p.UserID
	now := requestcontext.Now(ctx)
	core.UpdatedAt = &now

	entry := audit.NewEntry(ctx, p.UserID, audit.ActionUpdate, audit.OutcomeAllow, ref)
	if entry.OldValue, err = json.Marshal(old); err != nil {
		return nil, fmt.Errorf("marshal record snapshot: %w", err)
	}
	if entry.NewValue, err = json.Marshal(rec); err != nil {
		return nil, fmt.Errorf("marshal record snapshot: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if err := s.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record update failed")
	}

	s.export(entry)
	s.logger.InfoContext(ctx, "record updated",
		slog.String("record_type", string(ref.Type)),
		slog.String("record_id", ref.ID.String()),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return rec.Clone(), nil
}

// Delete removes a record. Scoped roles never reach this far (their role
// table has no delete), so only elevated roles can succeed.
func (s *Service) Delete(ctx context.Context, p domain.Principal, ref domain.Ref) error {
	old, err := s.store.Find(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	if err := s.requireAllowed(ctx, p, access.ActionDelete, old.Meta(), audit.ActionDelete); err != nil {
		return err
	}

	entry := audit.NewEntry(ctx, p.UserID, audit.ActionDelete, audit.OutcomeAllow, ref)
	if entry.OldValue, err = json.Marshal(old); err != nil {
		return fmt.Errorf("marshal record snapshot: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, ref); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if err := s.audits.Append(ctx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record deletion failed")
	}

	s.export(entry)
	s.logger.InfoContext(ctx, "record deleted",
		slog.String("record_type", string(ref.Type)),
		slog.String("record_id", ref.ID.String()),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return nil
}

// Get returns one record after a read decision. Reads are not audited.
func (s *Service) Get(ctx context.Context, p domain.Principal, ref domain.Ref) (Record, error) {
	rec, err := s.store.Find(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record lookup failed")
	}

	dec, err := s.decider.Decide(ctx, p, access.ActionRead, rec.Meta())
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "access denied")
	}
	return rec, nil
}

// List returns every record of one type the principal may read. The store
// list is unfiltered; visibility is decided here, record by record, with one
// batched grant lookup.
func (s *Service) List(ctx context.Context, p domain.Principal, t domain.RecordType) ([]Record, error) {
	records, err := s.store.List(ctx, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record listing failed")
	}

	metas := make([]domain.Meta, len(records))
	byID := make(map[domain.RecordID]Record, len(records))
	for i, rec := range records {
		metas[i] = rec.Meta()
		byID[metas[i].ID] = rec
	}

	readable, err := s.decider.FilterReadable(ctx, p, metas)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(readable))
	for _, m := range readable {
		out = append(out, byID[m.ID])
	}
	return out, nil
}

// requireAllowed runs the decision for a mutating action and audits a denial
// before converting it into a forbidden error.
func (s *Service) requireAllowed(ctx context.Context, p domain.Principal, action access.Action, meta domain.Meta, auditAction audit.Action) error {
	dec, err := s.decider.Decide(ctx, p, action, meta)
	if err != nil {
		return err
	}
	if dec.Allowed {
		return nil
	}

	entry := audit.NewEntry(ctx, p.UserID, auditAction, audit.OutcomeDeny, meta.Ref())
	entry.Reason = string(dec.Reason)
	if err := s.audits.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit write failed")
	}
	s.export(entry)
	s.logger.WarnContext(ctx, "mutation denied",
		slog.String("action", string(action)),
		slog.String("record_type", string(meta.Type)),
		slog.String("record_id", meta.ID.String()),
		slog.String("reason", string(dec.Reason)),
		slog.String("request_id", requestcontext.RequestID(ctx)))
	return dErrors.New(dErrors.CodeForbidden, "access denied")
}

func (s *Service) export(e audit.Entry) {
	if s.exporter != nil {
		s.exporter.Export(e)
	}
}
