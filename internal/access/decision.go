package access

import (
	"time"

	"captrack/pkg/domain"
)

// Evaluate combines role policy, group ownership, creatorship, and explicit
// grants into one decision. Pure domain logic: no I/O, no side effects, all
// inputs injected. First match wins:
//
//  1. Role grants the action with "all" scope: allow, no record inspection.
//  2. Role lacks the action entirely: deny RoleInsufficient. This also covers
//     Delete for scoped roles, which never delete regardless of ownership.
//  3. Create is not tied to an existing record: allow once the role gate
//     passed.
//  4. The record's owner group contains the principal: allow.
//  5. The principal created the record: allow (creators keep scoped access to
//     their own records even outside the owning group).
//  6. An active grant names the principal (or one of its groups) with a
//     sufficient level: allow.
//  7. Deny NoMatchingGrantOrOwnership.
//
// Grant expiry is re-checked here against the injected evaluation time even
// though stores filter expired grants, so the function stays correct under
// any caller.
func Evaluate(p domain.Principal, action Action, meta domain.Meta, grants []Grant, now time.Time) Decision {
	scope := BaseCapabilities(p.Role)[action]
	if scope == ScopeAll {
		return Allow(ReasonRoleAll)
	}
	if scope == ScopeNone {
		return Deny(ReasonRoleInsufficient)
	}

	if action == ActionCreate {
		return Allow(ReasonBaseCapability)
	}

	if !meta.OwnerGroupID.IsNil() && p.MemberOf(meta.OwnerGroupID) {
		return Allow(ReasonOwnerGroup)
	}

	if !meta.CreatedBy.IsNil() && meta.CreatedBy == p.UserID {
		return Allow(ReasonCreator)
	}

	for _, g := range grants {
		if g.RecordType != meta.Type || g.RecordID != meta.ID {
			continue
		}
		if !g.Active(now) {
			continue
		}
		if g.AppliesTo(p) && g.Level.Satisfies(action) {
			return Allow(ReasonGrant)
		}
	}

	return Deny(ReasonNoMatchingGrantOrOwnership)
}

// needsGrantLookup reports whether Evaluate could reach the grant step, so
// the decider can skip the store round-trip for decisions settled earlier.
func needsGrantLookup(p domain.Principal, action Action, meta domain.Meta) bool {
	scope := BaseCapabilities(p.Role)[action]
	if scope != ScopeOwned || action == ActionCreate {
		return false
	}
	if !meta.OwnerGroupID.IsNil() && p.MemberOf(meta.OwnerGroupID) {
		return false
	}
	if !meta.CreatedBy.IsNil() && meta.CreatedBy == p.UserID {
		return false
	}
	return true
}
