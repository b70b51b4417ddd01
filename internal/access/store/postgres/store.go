// Package postgres persists access grants in the record_access table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"captrack/internal/access"
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

const grantColumns = `
	id, record_type, record_id, grantee_user_id, grantee_group_id,
	access_level, granted_by, granted_at, expires_at
`

func (s *Store) Insert(ctx context.Context, g access.Grant) error {
	query := `
		INSERT INTO record_access (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(g.ID),
		string(g.RecordType),
		uuid.UUID(g.RecordID),
		nullableID((*uuid.UUID)(g.GranteeUserID)),
		nullableID((*uuid.UUID)(g.GranteeGroupID)),
		string(g.Level),
		uuid.UUID(g.GrantedBy),
		g.GrantedAt,
		g.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.GrantID) (access.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM record_access WHERE id = $1`
	g, err := scanGrant(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, sentinel.ErrNotFound
	}
	if err != nil {
		return access.Grant{}, fmt.Errorf("query grant: %w", err)
	}
	return g, nil
}

func (s *Store) Delete(ctx context.Context, id domain.GrantID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM record_access WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListForRecord(ctx context.Context, ref domain.Ref, at time.Time) ([]access.Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM record_access
		WHERE record_type = $1 AND record_id = $2
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY granted_at DESC, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(ref.Type), uuid.UUID(ref.ID), at)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) ListForRecords(ctx context.Context, refs []domain.Ref, at time.Time) (map[domain.Ref][]access.Grant, error) {
	if len(refs) == 0 {
		return map[domain.Ref][]access.Grant{}, nil
	}

	args := []any{at}
	pairs := make([]string, 0, len(refs))
	for _, ref := range refs {
		args = append(args, string(ref.Type), uuid.UUID(ref.ID))
		pairs = append(pairs, fmt.Sprintf("(record_type = $%d AND record_id = $%d)", len(args)-1, len(args)))
	}

	query := `
		SELECT ` + grantColumns + `
		FROM record_access
		WHERE (expires_at IS NULL OR expires_at > $1)
		  AND (` + strings.Join(pairs, " OR ") + `)
		ORDER BY granted_at DESC, id
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants, err := scanGrants(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Ref][]access.Grant, len(refs))
	for _, g := range grants {
		ref := domain.Ref{Type: g.RecordType, ID: g.RecordID}
		out[ref] = append(out[ref], g)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (access.Grant, error) {
	var (
		g              access.Grant
		id             uuid.UUID
		recordType     string
		recordID       uuid.UUID
		granteeUserID  *uuid.UUID
		granteeGroupID *uuid.UUID
		level          string
		grantedBy      uuid.UUID
	)
	err := row.Scan(
		&id, &recordType, &recordID, &granteeUserID, &granteeGroupID,
		&level, &grantedBy, &g.GrantedAt, &g.ExpiresAt,
	)
	if err != nil {
		return access.Grant{}, err
	}
	g.ID = domain.GrantID(id)
	g.RecordType = domain.RecordType(recordType)
	g.RecordID = domain.RecordID(recordID)
	g.GranteeUserID = (*domain.UserID)(granteeUserID)
	g.GranteeGroupID = (*domain.GroupID)(granteeGroupID)
	g.Level = access.Level(level)
	g.GrantedBy = domain.UserID(grantedBy)
	return g, nil
}

func scanGrants(rows *sql.Rows) ([]access.Grant, error) {
	var grants []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

// nullableID keeps a nil grantee as SQL NULL rather than the nil UUID.
func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
