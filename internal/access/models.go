// Package access implements the authorization engine: the static role
// policy, per-record access grants, and the decision function that combines
// role, ownership, and grants into one allow/deny result.
package access

import (
	"time"

	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
)

// Action is what the caller wants to do. Create/Read/Update/Delete operate on
// records; AdminPanel gates the administrative surface.
type Action string

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionAdminPanel Action = "admin_panel"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionAdminPanel:
		return Action(raw), nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown action: "+raw)
	}
}

// Mutating reports whether the action changes state. Mutating decisions are
// always audited, allow and deny alike; reads are not (volume trade-off).
func (a Action) Mutating() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Level is the access granted by an explicit record grant.
type Level string

const (
	LevelRead      Level = "Read"
	LevelReadWrite Level = "ReadWrite"
)

// ParseLevel validates a raw access level.
func ParseLevel(raw string) (Level, error) {
	switch Level(raw) {
	case LevelRead, LevelReadWrite:
		return Level(raw), nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown access level: "+raw)
	}
}

// Satisfies reports whether the level is sufficient for the action. Read
// needs Read or ReadWrite; Update needs ReadWrite. Grants never convey
// Delete or AdminPanel.
func (l Level) Satisfies(a Action) bool {
	switch a {
	case ActionRead:
		return l == LevelRead || l == LevelReadWrite
	case ActionUpdate:
		return l == LevelReadWrite
	default:
		return false
	}
}

// Grant is an explicit, possibly time-limited access override on one record
// for one user or one group. Grants are never mutated in place: revising a
// grant means revoking it and creating a new one, keeping the audit history
// unambiguous.
type Grant struct {
	ID             domain.GrantID    `json:"id"`
	RecordType     domain.RecordType `json:"record_type"`
	RecordID       domain.RecordID   `json:"record_id"`
	GranteeUserID  *domain.UserID    `json:"grantee_user_id,omitempty"`
	GranteeGroupID *domain.GroupID   `json:"grantee_group_id,omitempty"`
	Level          Level             `json:"access_level"`
	GrantedBy      domain.UserID     `json:"granted_by"`
	GrantedAt      time.Time         `json:"granted_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
}

// Active reports whether the grant is in force at the given instant. Expiry
// is a strict greater-than comparison: a grant expiring exactly at the
// evaluation time is void. A nil expiry never expires.
func (g Grant) Active(at time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(at)
}

// AppliesTo reports whether the grant names the principal, directly or via
// one of the principal's groups.
func (g Grant) AppliesTo(p domain.Principal) bool {
	if g.GranteeUserID != nil && *g.GranteeUserID == p.UserID {
		return true
	}
	if g.GranteeGroupID != nil && p.MemberOf(*g.GranteeGroupID) {
		return true
	}
	return false
}

// Reason explains a decision outcome.
type Reason string

const (
	// Allow reasons, in evaluation order.
	ReasonRoleAll        Reason = "role_all"
	ReasonBaseCapability Reason = "base_capability"
	ReasonOwnerGroup     Reason = "owner_group"
	ReasonCreator        Reason = "creator"
	ReasonGrant          Reason = "grant"

	// Deny reasons. Both are terminal: the caller sees "access denied" and
	// must not retry.
	ReasonRoleInsufficient           Reason = "role_insufficient"
	ReasonNoMatchingGrantOrOwnership Reason = "no_matching_grant_or_ownership"
)

// Decision is the result of evaluating one (principal, action, record)
// triple. Deny is a normal value, never an error: callers can always tell
// "not authorized" apart from "system failure" and must never default-allow
// on the latter.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func Allow(reason Reason) Decision { return Decision{Allowed: true, Reason: reason} }

func Deny(reason Reason) Decision { return Decision{Allowed: false, Reason: reason} }
