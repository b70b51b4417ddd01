//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"captrack/internal/entity"
	"captrack/internal/entity/store/postgres"
	"captrack/internal/platform/txrunner"
	"captrack/pkg/domain"
	"captrack/pkg/platform/sentinel"
	"captrack/pkg/testutil/containers"
)

type PostgresRecordStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresRecordStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRecordStoreSuite))
}

func (s *PostgresRecordStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresRecordStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "records")
	s.Require().NoError(err)
}

func newStoredAsset() *entity.Asset {
	return &entity.Asset{
		RecordCore: entity.RecordCore{
			ID:           domain.NewRecordID(),
			OwnerGroupID: domain.NewGroupID(),
			CreatedBy:    domain.NewUserID(),
			CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		},
		WBSID:  domain.NewRecordID(),
		Code:   "AST-0001",
		Status: "active",
	}
}

func (s *PostgresRecordStoreSuite) TestInsertFindRoundTrip() {
	ctx := context.Background()
	asset := newStoredAsset()

	s.Require().NoError(s.store.Insert(ctx, asset))

	found, err := s.store.Find(ctx, asset.Meta().Ref())
	s.Require().NoError(err)
	s.Equal(asset, found, "payload survives the jsonb round trip")
}

func (s *PostgresRecordStoreSuite) TestFindMetaReadsColumnsOnly() {
	ctx := context.Background()
	asset := newStoredAsset()
	s.Require().NoError(s.store.Insert(ctx, asset))

	meta, err := s.store.FindMeta(ctx, asset.Meta().Ref())
	s.Require().NoError(err)
	s.Equal(asset.Meta(), meta)
}

func (s *PostgresRecordStoreSuite) TestDuplicateInsertConflicts() {
	ctx := context.Background()
	asset := newStoredAsset()
	s.Require().NoError(s.store.Insert(ctx, asset))
	s.ErrorIs(s.store.Insert(ctx, asset), sentinel.ErrConflict)
}

func (s *PostgresRecordStoreSuite) TestUpdateReplacesPayload() {
	ctx := context.Background()
	asset := newStoredAsset()
	s.Require().NoError(s.store.Insert(ctx, asset))

	asset.Status = "retired"
	now := time.Now().UTC().Truncate(time.Microsecond)
	asset.UpdatedAt = &now
	s.Require().NoError(s.store.Update(ctx, asset))

	found, err := s.store.Find(ctx, asset.Meta().Ref())
	s.Require().NoError(err)
	s.Equal(asset, found)
}

func (s *PostgresRecordStoreSuite) TestTypeScopedLookup() {
	ctx := context.Background()
	asset := newStoredAsset()
	s.Require().NoError(s.store.Insert(ctx, asset))

	// Same id, wrong type.
	_, err := s.store.Find(ctx, domain.Ref{Type: domain.TypeWBS, ID: asset.ID})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRecordStoreSuite) TestDeleteAndNotFound() {
	ctx := context.Background()
	asset := newStoredAsset()
	s.Require().NoError(s.store.Insert(ctx, asset))

	s.Require().NoError(s.store.Delete(ctx, asset.Meta().Ref()))
	s.ErrorIs(s.store.Delete(ctx, asset.Meta().Ref()), sentinel.ErrNotFound)

	_, err := s.store.Find(ctx, asset.Meta().Ref())
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.Update(ctx, asset), sentinel.ErrNotFound)
}

func (s *PostgresRecordStoreSuite) TestListScopedByType() {
	ctx := context.Background()
	a1 := newStoredAsset()
	a2 := newStoredAsset()
	other := &entity.WBS{
		RecordCore: entity.RecordCore{
			ID:           domain.NewRecordID(),
			OwnerGroupID: domain.NewGroupID(),
			CreatedBy:    domain.NewUserID(),
			CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		},
		LineItemID: domain.NewRecordID(),
		Code:       "WBS-1",
		Status:     "active",
	}
	s.Require().NoError(s.store.Insert(ctx, a1))
	s.Require().NoError(s.store.Insert(ctx, a2))
	s.Require().NoError(s.store.Insert(ctx, other))

	assets, err := s.store.List(ctx, domain.TypeAsset)
	s.Require().NoError(err)
	s.Len(assets, 2)
	for _, rec := range assets {
		s.Equal(domain.TypeAsset, rec.Meta().Type)
	}
}

// A failing step inside RunInTx must leave no trace of the earlier writes.
func (s *PostgresRecordStoreSuite) TestTransactionRollback() {
	ctx := context.Background()
	runner := txrunner.NewPostgres(s.postgres.DB)
	asset := newStoredAsset()
	boom := errors.New("boom")

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, asset); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Find(ctx, asset.Meta().Ref())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRecordStoreSuite) TestTransactionCommit() {
	ctx := context.Background()
	runner := txrunner.NewPostgres(s.postgres.DB)
	asset := newStoredAsset()

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Insert(ctx, asset)
	})
	s.Require().NoError(err)

	_, err = s.store.Find(ctx, asset.Meta().Ref())
	s.NoError(err)
}
