package access

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"captrack/internal/audit"
	"captrack/internal/platform/txrunner"
	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/sentinel"
	"captrack/pkg/requestcontext"
)

type fakeRecordFinder struct {
	metas map[domain.Ref]domain.Meta
}

func (f *fakeRecordFinder) FindMeta(_ context.Context, ref domain.Ref) (domain.Meta, error) {
	meta, ok := f.metas[ref]
	if !ok {
		return domain.Meta{}, sentinel.ErrNotFound
	}
	return meta, nil
}

func (f *fakeRecordFinder) add(meta domain.Meta) {
	f.metas[meta.Ref()] = meta
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type GrantServiceSuite struct {
	suite.Suite
	grants  *InMemoryStore
	records *fakeRecordFinder
	audits  *audit.InMemoryStore
	svc     *GrantService
	ctx     context.Context
	now     time.Time
}

func (s *GrantServiceSuite) SetupTest() {
	s.grants = NewInMemoryStore()
	s.records = &fakeRecordFinder{metas: map[domain.Ref]domain.Meta{}}
	s.audits = audit.NewInMemoryStore()
	logger := discardLogger()
	decider := NewDecider(s.grants, nil, logger)
	s.svc = NewGrantService(s.grants, s.records, decider, s.audits, txrunner.NewMemory(), nil, nil, logger)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func TestGrantServiceSuite(t *testing.T) {
	suite.Run(t, new(GrantServiceSuite))
}

func (s *GrantServiceSuite) seedRecord(owner domain.GroupID) domain.Meta {
	meta := domain.Meta{
		Type:         domain.TypeBusinessCase,
		ID:           domain.NewRecordID(),
		OwnerGroupID: owner,
		CreatedBy:    domain.NewUserID(),
	}
	s.records.add(meta)
	return meta
}

func (s *GrantServiceSuite) TestGrantByOwnerGroupMember() {
	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	granter := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	grantee := domain.NewUserID()

	g, err := s.svc.Grant(s.ctx, granter, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().NoError(err)
	s.False(g.ID.IsNil())
	s.Equal(granter.UserID, g.GrantedBy)
	s.Equal(s.now, g.GrantedAt)

	s.Run("grant is active in the store", func() {
		grants, err := s.grants.ListForRecord(s.ctx, meta.Ref(), s.now)
		s.Require().NoError(err)
		s.Require().Len(grants, 1)
		s.Equal(g.ID, grants[0].ID)
	})

	s.Run("audited with snapshot", func() {
		entries, err := s.audits.Query(s.ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionGrant, entries[0].Action)
		s.Equal(audit.OutcomeAllow, entries[0].Outcome)
		s.NotEmpty(entries[0].NewValue)
	})
}

func (s *GrantServiceSuite) TestGrantValidation() {
	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	granter := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	user := domain.NewUserID()
	grp := domain.NewGroupID()

	s.Run("rejects both grantees", func() {
		_, err := s.svc.Grant(s.ctx, granter, GrantInput{
			Record:         meta.Ref(),
			GranteeUserID:  &user,
			GranteeGroupID: &grp,
			Level:          LevelRead,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects no grantee", func() {
		_, err := s.svc.Grant(s.ctx, granter, GrantInput{Record: meta.Ref(), Level: LevelRead})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects expiry at request time", func() {
		at := s.now
		_, err := s.svc.Grant(s.ctx, granter, GrantInput{
			Record:        meta.Ref(),
			GranteeUserID: &user,
			Level:         LevelRead,
			ExpiresAt:     &at,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown record is not found", func() {
		_, err := s.svc.Grant(s.ctx, granter, GrantInput{
			Record:        domain.Ref{Type: domain.TypeAsset, ID: domain.NewRecordID()},
			GranteeUserID: &user,
			Level:         LevelRead,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	// The handler parses levels before they reach the service, but direct
	// callers bypass that; a level outside the closed set must never persist.
	s.Run("rejects unknown access level", func() {
		_, err := s.svc.Grant(s.ctx, granter, GrantInput{
			Record:        meta.Ref(),
			GranteeUserID: &user,
			Level:         Level("Full"),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		grants, err := s.grants.ListForRecord(s.ctx, meta.Ref(), s.now)
		s.Require().NoError(err)
		s.Empty(grants, "nothing stored for a rejected level")
	})
}

func (s *GrantServiceSuite) TestGrantRequiresEffectiveWrite() {
	meta := s.seedRecord(domain.NewGroupID())
	reader := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser}
	s.Require().NoError(s.grants.Insert(s.ctx, Grant{
		ID:            domain.NewGrantID(),
		RecordType:    meta.Type,
		RecordID:      meta.ID,
		GranteeUserID: &reader.UserID,
		Level:         LevelRead,
		GrantedBy:     domain.NewUserID(),
		GrantedAt:     s.now.Add(-time.Hour),
	}))
	grantee := domain.NewUserID()

	_, err := s.svc.Grant(s.ctx, reader, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "read-level grantee cannot re-share")

	s.Run("denial is audited", func() {
		entries, err := s.audits.Query(s.ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionGrant, entries[0].Action)
		s.Equal(audit.OutcomeDeny, entries[0].Outcome)
	})
}

func (s *GrantServiceSuite) TestReadWriteGranteeCanReshare() {
	meta := s.seedRecord(domain.NewGroupID())
	writer := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser}
	s.Require().NoError(s.grants.Insert(s.ctx, Grant{
		ID:            domain.NewGrantID(),
		RecordType:    meta.Type,
		RecordID:      meta.ID,
		GranteeUserID: &writer.UserID,
		Level:         LevelReadWrite,
		GrantedBy:     domain.NewUserID(),
		GrantedAt:     s.now.Add(-time.Hour),
	}))
	grantee := domain.NewUserID()

	_, err := s.svc.Grant(s.ctx, writer, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().NoError(err)
}

func (s *GrantServiceSuite) TestRevoke() {
	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	granter := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	grantee := domain.NewUserID()

	g, err := s.svc.Grant(s.ctx, granter, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelReadWrite,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Revoke(s.ctx, granter, g.ID))

	s.Run("grant is gone", func() {
		grants, err := s.grants.ListForRecord(s.ctx, meta.Ref(), s.now)
		s.Require().NoError(err)
		s.Empty(grants)
	})

	s.Run("double revoke is not found", func() {
		err := s.svc.Revoke(s.ctx, granter, g.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("revoke audited with old snapshot", func() {
		entries, err := s.audits.Query(s.ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(audit.ActionRevoke, entries[0].Action, "newest entry first")
		s.Equal(audit.OutcomeAllow, entries[0].Outcome)
		s.NotEmpty(entries[0].OldValue)
	})
}

func (s *GrantServiceSuite) TestRevokeRequiresEffectiveWrite() {
	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	granter := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	grantee := domain.NewUserID()

	g, err := s.svc.Grant(s.ctx, granter, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().NoError(err)

	stranger := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser}
	err = s.svc.Revoke(s.ctx, stranger, g.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.Run("grantee with read level cannot revoke either", func() {
		holder := domain.Principal{UserID: grantee, Role: domain.RoleUser}
		err := s.svc.Revoke(s.ctx, holder, g.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin can revoke anywhere", func() {
		admin := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleAdmin}
		s.Require().NoError(s.svc.Revoke(s.ctx, admin, g.ID))
	})
}

func (s *GrantServiceSuite) TestList() {
	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	member := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	grantee := domain.NewUserID()

	_, err := s.svc.Grant(s.ctx, member, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().NoError(err)

	grants, err := s.svc.List(s.ctx, member, meta.Ref())
	s.Require().NoError(err)
	s.Len(grants, 1)

	s.Run("stranger cannot list", func() {
		stranger := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser}
		_, err := s.svc.List(s.ctx, stranger, meta.Ref())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("grantee can list via the grant itself", func() {
		holder := domain.Principal{UserID: grantee, Role: domain.RoleViewer}
		grants, err := s.svc.List(s.ctx, holder, meta.Ref())
		s.Require().NoError(err)
		s.Len(grants, 1)
	})
}

type recordingExporter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingExporter) Export(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingExporter) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// Committed grant mutations flow to the exporter after the transaction; a
// denied attempt exports its denial entry too.
func (s *GrantServiceSuite) TestExporterReceivesGrantLifecycle() {
	exporter := &recordingExporter{}
	logger := discardLogger()
	decider := NewDecider(s.grants, nil, logger)
	svc := NewGrantService(s.grants, s.records, decider, s.audits, txrunner.NewMemory(), exporter, nil, logger)

	group := domain.NewGroupID()
	meta := s.seedRecord(group)
	member := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser, Groups: []domain.GroupID{group}}
	grantee := domain.NewUserID()

	g, err := svc.Grant(s.ctx, member, GrantInput{
		Record:        meta.Ref(),
		GranteeUserID: &grantee,
		Level:         LevelRead,
	})
	s.Require().NoError(err)

	entries := exporter.all()
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionGrant, entries[0].Action)
	s.Equal(audit.OutcomeAllow, entries[0].Outcome)
	s.NotEmpty(entries[0].NewValue)

	s.Run("denied grant exports the denial", func() {
		stranger := domain.Principal{UserID: domain.NewUserID(), Role: domain.RoleUser}
		_, err := svc.Grant(s.ctx, stranger, GrantInput{
			Record:        meta.Ref(),
			GranteeUserID: &grantee,
			Level:         LevelRead,
		})
		s.Require().Error(err)

		entries := exporter.all()
		s.Require().Len(entries, 2)
		s.Equal(audit.OutcomeDeny, entries[1].Outcome)
		s.Empty(entries[1].NewValue, "denials carry no snapshot")
	})

	s.Run("revoke exports after commit", func() {
		s.Require().NoError(svc.Revoke(s.ctx, member, g.ID))
		entries := exporter.all()
		s.Require().Len(entries, 3)
		s.Equal(audit.ActionRevoke, entries[2].Action)
		s.Equal(audit.OutcomeAllow, entries[2].Outcome)
		s.NotEmpty(entries[2].OldValue)
	})
}
