//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"captrack/internal/audit"
	"captrack/internal/audit/store/postgres"
	"captrack/pkg/domain"
	"captrack/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_log")
	s.Require().NoError(err)
}

func newLoggedEntry(actor domain.UserID, ts time.Time) audit.Entry {
	return audit.Entry{
		ID:         domain.NewAuditID(),
		ActorID:    actor,
		Action:     audit.ActionUpdate,
		Outcome:    audit.OutcomeAllow,
		RecordType: domain.TypeAsset,
		RecordID:   domain.NewRecordID(),
		IP:         "203.0.113.9",
		UserAgent:  "Chrome/125.0 (Linux)",
		RequestID:  "req-1",
		Timestamp:  ts.UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresAuditStoreSuite) TestAppendQueryRoundTrip() {
	ctx := context.Background()
	actor := domain.NewUserID()
	e := newLoggedEntry(actor, time.Now())
	e.OldValue = json.RawMessage(`{"status": "active"}`)
	e.NewValue = json.RawMessage(`{"status": "retired"}`)

	s.Require().NoError(s.store.Append(ctx, e))

	entries, err := s.store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	got := entries[0]
	s.Equal(e.ID, got.ID)
	s.Equal(actor, got.ActorID)
	s.Equal(audit.ActionUpdate, got.Action)
	s.Equal(audit.OutcomeAllow, got.Outcome)
	s.JSONEq(string(e.OldValue), string(got.OldValue))
	s.JSONEq(string(e.NewValue), string(got.NewValue))
	s.Equal("203.0.113.9", got.IP)
	s.Equal("req-1", got.RequestID)
	s.True(e.Timestamp.Equal(got.Timestamp))
}

func (s *PostgresAuditStoreSuite) TestNullSnapshots() {
	ctx := context.Background()
	e := newLoggedEntry(domain.NewUserID(), time.Now())
	e.Outcome = audit.OutcomeDeny
	e.Reason = "role_insufficient"

	s.Require().NoError(s.store.Append(ctx, e))

	entries, err := s.store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Empty(entries[0].OldValue)
	s.Empty(entries[0].NewValue)
	s.Equal("role_insufficient", entries[0].Reason)
}

func (s *PostgresAuditStoreSuite) TestNewestFirstOrdering() {
	ctx := context.Background()
	actor := domain.NewUserID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	oldest := newLoggedEntry(actor, base.Add(-2*time.Hour))
	middle := newLoggedEntry(actor, base.Add(-time.Hour))
	newest := newLoggedEntry(actor, base)
	for _, e := range []audit.Entry{middle, newest, oldest} {
		s.Require().NoError(s.store.Append(ctx, e))
	}

	entries, err := s.store.Query(ctx, audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(newest.ID, entries[0].ID)
	s.Equal(middle.ID, entries[1].ID)
	s.Equal(oldest.ID, entries[2].ID)
}

func (s *PostgresAuditStoreSuite) TestFilters() {
	ctx := context.Background()
	alice := domain.NewUserID()
	bob := domain.NewUserID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	byAlice := newLoggedEntry(alice, base)
	byBob := newLoggedEntry(bob, base)
	wbsEntry := newLoggedEntry(alice, base)
	wbsEntry.RecordType = domain.TypeWBS
	early := newLoggedEntry(alice, base.Add(-48*time.Hour))
	for _, e := range []audit.Entry{byAlice, byBob, wbsEntry, early} {
		s.Require().NoError(s.store.Append(ctx, e))
	}

	s.Run("by actor", func() {
		entries, err := s.store.Query(ctx, audit.Filter{ActorID: &bob})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(byBob.ID, entries[0].ID)
	})

	s.Run("by record type", func() {
		wbs := domain.TypeWBS
		entries, err := s.store.Query(ctx, audit.Filter{RecordType: &wbs})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(wbsEntry.ID, entries[0].ID)
	})

	s.Run("half-open window", func() {
		from := base.Add(-time.Hour)
		to := base
		entries, err := s.store.Query(ctx, audit.Filter{From: &from, To: &to})
		s.Require().NoError(err)
		s.Empty(entries, "to bound is exclusive")

		to = base.Add(time.Second)
		entries, err = s.store.Query(ctx, audit.Filter{From: &from, To: &to})
		s.Require().NoError(err)
		s.Len(entries, 3)
	})

	s.Run("limit", func() {
		entries, err := s.store.Query(ctx, audit.Filter{Limit: 2})
		s.Require().NoError(err)
		s.Len(entries, 2)
	})
}
