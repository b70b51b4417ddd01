// Package audit provides the append-only log of mutating authorization
// outcomes. Entries are never updated or deleted, even internally: the log is
// the system's sole source of historical truth.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"captrack/pkg/domain"
	"captrack/pkg/requestcontext"
)

// Action names what the actor attempted.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Outcome records whether the attempt was allowed or denied. Denied attempts
// leave an entry too; a committed mutation has exactly one allow entry.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Entry is one audit log row. OldValue/NewValue hold JSON snapshots of the
// record before and after the mutation; either may be nil (creates have no
// old value, denials have neither). IP, UserAgent, and RequestID come from
// the request context when present.
type Entry struct {
	ID         domain.AuditID    `json:"id"`
	ActorID    domain.UserID     `json:"actor_id"`
	Action     Action            `json:"action"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	RecordType domain.RecordType `json:"record_type"`
	RecordID   domain.RecordID   `json:"record_id"`
	OldValue   json.RawMessage   `json:"old_value,omitempty"`
	NewValue   json.RawMessage   `json:"new_value,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewEntry builds an entry stamped with a fresh id, the request-scoped time,
// and whatever client metadata the context carries.
func NewEntry(ctx context.Context, actor domain.UserID, action Action, outcome Outcome, ref domain.Ref) Entry {
	return Entry{
		ID:         domain.NewAuditID(),
		ActorID:    actor,
		Action:     action,
		Outcome:    outcome,
		RecordType: ref.Type,
		RecordID:   ref.ID,
		IP:         requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Timestamp:  requestcontext.Now(ctx),
	}
}

// Filter narrows a query. Nil fields match everything. From is inclusive,
// To exclusive. Limit <= 0 means no limit.
type Filter struct {
	ActorID    *domain.UserID
	RecordType *domain.RecordType
	From       *time.Time
	To         *time.Time
	Limit      int
}

// Matches reports whether the entry passes the filter (time and identity
// fields only; Limit is applied by the store).
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.RecordType != nil && e.RecordType != *f.RecordType {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	return true
}
