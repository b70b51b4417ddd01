// Package postgres persists audit entries in the audit_log table. The table
// is insert-only; no code path issues UPDATE or DELETE against it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"captrack/internal/audit"
	"captrack/pkg/domain"
	txcontext "captrack/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer joins the transaction opened by the service when one is in the
// context, so the audit row commits with the mutation it describes.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	query := `
		INSERT INTO audit_log (
			id, actor_id, action, outcome, reason, record_type, record_id,
			old_value, new_value, ip_address, user_agent, request_id, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID),
		uuid.UUID(e.ActorID),
		string(e.Action),
		string(e.Outcome),
		e.Reason,
		string(e.RecordType),
		uuid.UUID(e.RecordID),
		nullableJSON(e.OldValue),
		nullableJSON(e.NewValue),
		e.IP,
		e.UserAgent,
		e.RequestID,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.ActorID != nil {
		conds = append(conds, "actor_id = "+arg(uuid.UUID(*f.ActorID)))
	}
	if f.RecordType != nil {
		conds = append(conds, "record_type = "+arg(string(*f.RecordType)))
	}
	if f.From != nil {
		conds = append(conds, "timestamp >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "timestamp < "+arg(*f.To))
	}

	query := `
		SELECT id, actor_id, action, outcome, reason, record_type, record_id,
		       old_value, new_value, ip_address, user_agent, request_id, timestamp
		FROM audit_log
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			id         uuid.UUID
			actorID    uuid.UUID
			action     string
			outcome    string
			recordType string
			recordID   uuid.UUID
			oldValue   []byte
			newValue   []byte
		)
		err := rows.Scan(
			&id, &actorID, &action, &outcome, &e.Reason, &recordType, &recordID,
			&oldValue, &newValue, &e.IP, &e.UserAgent, &e.RequestID, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = domain.AuditID(id)
		e.ActorID = domain.UserID(actorID)
		e.Action = audit.Action(action)
		e.Outcome = audit.Outcome(outcome)
		e.RecordType = domain.RecordType(recordType)
		e.RecordID = domain.RecordID(recordID)
		e.OldValue = oldValue
		e.NewValue = newValue
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

// nullableJSON maps an absent snapshot to SQL NULL instead of an empty
// string, which jsonb would reject.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
