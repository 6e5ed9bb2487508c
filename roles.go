package strata

import (
	"time"

	"github.com/ProofOfReach/strata/events"
)

// Role is the closed enumeration of user roles on the platform.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleAdvertiser  Role = "advertiser"
	RolePublisher   Role = "publisher"
	RoleDeveloper   Role = "developer"
	RoleStakeholder Role = "stakeholder"
	RoleAdmin       Role = "admin"
)

// DefaultRole is the role assumed when nothing is stored.
const DefaultRole = RoleViewer

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleAdvertiser, RolePublisher, RoleDeveloper, RoleStakeholder, RoleAdmin:
		return true
	}
	return false
}

// AllRoles returns the full role enumeration, in a stable order.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleAdvertiser, RolePublisher, RoleDeveloper, RoleStakeholder, RoleAdmin}
}

// RoleState is the durable role record for one user.
type RoleState struct {
	CurrentRole    Role      `json:"currentRole"`
	AvailableRoles []Role    `json:"availableRoles"`
	LastModified   time.Time `json:"lastModified"`
}

// RoleManager maintains the current role and the set of available roles on
// top of a Store. When a test-mode session is active, reads are answered
// from the session's override state instead of the durable record; writes
// always target the durable record.
type RoleManager struct {
	store    *Store
	testMode *TestModeService
}

// NewRoleManager creates a role manager over store. testMode may be nil for
// deployments without elevated sessions.
func NewRoleManager(store *Store, testMode *TestModeService) *RoleManager {
	return &RoleManager{store: store, testMode: testMode}
}

// CurrentRole returns the effective role. With checkElevated, an active
// test-mode session's override role wins; otherwise (and when no session is
// active) the durable record is consulted, falling back to DefaultRole.
func (m *RoleManager) CurrentRole(checkElevated bool) Role {
	if checkElevated && m.testMode != nil {
		if state := m.testMode.State(); state != nil {
			return state.CurrentRole
		}
	}

	state, ok := m.roleState()
	if !ok || !state.CurrentRole.Valid() {
		return DefaultRole
	}
	return state.CurrentRole
}

// SetCurrentRole persists role as the current role. Passing availableRoles
// replaces the stored role set in the same write; nil leaves it unchanged.
//
// Setting the role it already holds, with no role-list update requested, is
// a no-op that succeeds without emitting a notification or touching
// LastModified.
func (m *RoleManager) SetCurrentRole(role Role, availableRoles []Role) bool {
	if !role.Valid() {
		m.store.logAudit("role_set", false, map[string]interface{}{
			"error": "invalid role", "role": string(role),
		})
		return false
	}

	state, ok := m.roleState()
	if !ok {
		state = RoleState{CurrentRole: DefaultRole, AvailableRoles: []Role{DefaultRole}}
	}

	if role == state.CurrentRole && availableRoles == nil {
		return true
	}

	from := state.CurrentRole
	rolesUpdated := false

	if availableRoles != nil {
		state.AvailableRoles = normalizeRoles(availableRoles)
		rolesUpdated = true
	}
	if len(state.AvailableRoles) == 0 {
		state.AvailableRoles = []Role{DefaultRole}
	}

	state.CurrentRole = role
	// Keep the record consistent: the current role must be in the
	// available set, otherwise reassign to the first available role.
	if !rolesContain(state.AvailableRoles, state.CurrentRole) {
		state.CurrentRole = state.AvailableRoles[0]
	}
	state.LastModified = m.store.clock.Now()

	if !m.store.Set(KeyRoleState, state, &SetOptions{Backend: Durable}) {
		return false
	}
	m.store.writeCompatFlag(Durable, LegacyCurrentRole, string(state.CurrentRole))

	if state.CurrentRole != from {
		// Legacy readers poll this flag to know their cached role is stale.
		m.store.writeCompatFlag(Durable, LegacyForceRoleRefresh, "true")
		m.store.bus.Publish(events.RoleChanged, events.RoleChangedPayload{
			From:           string(from),
			To:             string(state.CurrentRole),
			AvailableRoles: roleStrings(state.AvailableRoles),
		})
	}
	if rolesUpdated {
		m.store.bus.Publish(events.RolesUpdated, events.RolesUpdatedPayload{
			AvailableRoles: roleStrings(state.AvailableRoles),
			CurrentRole:    string(state.CurrentRole),
		})
	}

	return true
}

// AvailableRoles returns the role set the user may switch between. An active
// test-mode session reports its own (possibly expanded) set.
func (m *RoleManager) AvailableRoles(checkElevated bool) []Role {
	if checkElevated && m.testMode != nil {
		if state := m.testMode.State(); state != nil && len(state.AvailableRoles) > 0 {
			return append([]Role(nil), state.AvailableRoles...)
		}
	}

	state, ok := m.roleState()
	if !ok || len(state.AvailableRoles) == 0 {
		return []Role{DefaultRole}
	}
	return append([]Role(nil), state.AvailableRoles...)
}

// IsRoleAvailable reports whether role is in the currently available set.
func (m *RoleManager) IsRoleAvailable(role Role) bool {
	return rolesContain(m.AvailableRoles(true), role)
}

func (m *RoleManager) roleState() (RoleState, bool) {
	var state RoleState
	ok := m.store.Get(KeyRoleState, &state, &GetOptions{Backend: Durable})
	return state, ok
}

// normalizeRoles drops unrecognized and duplicate roles, preserving order.
func normalizeRoles(roles []Role) []Role {
	seen := make(map[Role]bool, len(roles))
	var out []Role
	for _, r := range roles {
		if !r.Valid() || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func rolesContain(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
