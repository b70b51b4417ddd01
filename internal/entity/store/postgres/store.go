// Package postgres persists entity records in a single records table. The
// variant payload lives in a jsonb column; the columns the authorization
// engine reads (type, owner group, creator) are first-class so FindMeta and
// listing never touch the payload.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"captrack/internal/entity"
	"captrack/pkg/domain"
	"captrack/pkg/platform/sentinel"
	txcontext "captrack/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Insert(ctx context.Context, rec entity.Record) error {
	meta := rec.Meta()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record payload: %w", err)
	}

	query := `
		INSERT INTO records (id, record_type, owner_group_id, created_by, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(meta.ID),
		string(meta.Type),
		uuid.UUID(meta.OwnerGroupID),
		uuid.UUID(meta.CreatedBy),
		payload,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Update replaces the payload only. Type, owner group, and creator columns
// are immutable; the service guarantees the payload agrees with them.
func (s *Store) Update(ctx context.Context, rec entity.Record) error {
	meta := rec.Meta()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record payload: %w", err)
	}

	query := `UPDATE records SET payload = $1 WHERE record_type = $2 AND id = $3`
	res, err := s.execer(ctx).ExecContext(ctx, query, payload, string(meta.Type), uuid.UUID(meta.ID))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) Delete(ctx context.Context, ref domain.Ref) error {
	query := `DELETE FROM records WHERE record_type = $1 AND id = $2`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(ref.Type), uuid.UUID(ref.ID))
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) Find(ctx context.Context, ref domain.Ref) (entity.Record, error) {
	query := `SELECT payload FROM records WHERE record_type = $1 AND id = $2`
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, string(ref.Type), uuid.UUID(ref.ID)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	rec, err := entity.Decode(ref.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return rec, nil
}

func (s *Store) FindMeta(ctx context.Context, ref domain.Ref) (domain.Meta, error) {
	query := `SELECT owner_group_id, created_by FROM records WHERE record_type = $1 AND id = $2`
	var ownerGroupID, createdBy uuid.UUID
	err := s.db.QueryRowContext(ctx, query, string(ref.Type), uuid.UUID(ref.ID)).Scan(&ownerGroupID, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Meta{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Meta{}, fmt.Errorf("query record meta: %w", err)
	}
	return domain.Meta{
		Type:         ref.Type,
		ID:           ref.ID,
		OwnerGroupID: domain.GroupID(ownerGroupID),
		CreatedBy:    domain.UserID(createdBy),
	}, nil
}

func (s *Store) List(ctx context.Context, t domain.RecordType) ([]entity.Record, error) {
	query := `SELECT payload FROM records WHERE record_type = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []entity.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := entity.Decode(t, payload)
		if err != nil {
			return nil, fmt.Errorf("decode record payload: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
