package access

import "captrack/pkg/domain"

// Scope qualifies a capability in the role table.
type Scope int

const (
	// ScopeNone: the role lacks the capability outright.
	ScopeNone Scope = iota

	// ScopeOwned: the capability applies only to records the principal can
	// reach through ownership, creatorship, or an explicit grant.
	ScopeOwned

	// ScopeAll: the capability bypasses ownership and grant scoping.
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeOwned:
		return "scoped"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}

// CapabilitySet maps each action to its scope for one role. Shared and
// immutable; callers must not mutate the returned map.
type CapabilitySet map[Action]Scope

// rolePolicy is the static baseline table. Roles are fixed: there is no
// runtime role configuration, so the table is a literal rather than a store.
var rolePolicy = map[domain.Role]CapabilitySet{
	domain.RoleAdmin: {
		ActionCreate:     ScopeAll,
		ActionRead:       ScopeAll,
		ActionUpdate:     ScopeAll,
		ActionDelete:     ScopeAll,
		ActionAdminPanel: ScopeAll,
	},
	domain.RoleManager: {
		ActionCreate:     ScopeAll,
		ActionRead:       ScopeAll,
		ActionUpdate:     ScopeAll,
		ActionDelete:     ScopeAll,
		ActionAdminPanel: ScopeAll,
	},
	domain.RoleUser: {
		ActionCreate: ScopeOwned,
		ActionRead:   ScopeOwned,
		ActionUpdate: ScopeOwned,
	},
	domain.RoleViewer: {
		ActionCreate: ScopeOwned,
		ActionRead:   ScopeOwned,
	},
}

// BaseCapabilities returns the baseline capability set for a role. Pure
// lookup with no failure mode: the role enum is validated at principal
// construction.
func BaseCapabilities(role domain.Role) CapabilitySet {
	return rolePolicy[role]
}
