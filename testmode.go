package strata

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/ProofOfReach/strata/events"
)

// TestModeState is the persisted record of an elevated session. State()
// returns nil once the session has expired or was never started, so a
// non-nil state can always be acted on directly.
type TestModeState struct {
	Enabled        bool      `json:"enabled"`
	ExpiryTime     time.Time `json:"expiryTime"`
	ActivatedAt    time.Time `json:"activatedAt"`
	InitialRole    Role      `json:"initialRole"`
	CurrentRole    Role      `json:"currentRole"`
	AvailableRoles []Role    `json:"availableRoles"`
	Debug          bool      `json:"debug"`
}

// TestModeService manages a time-boxed elevated session granting temporary
// access to all roles. The session record lives encrypted on the session
// backend under a per-process secret: closing the session wipes it, and a
// copied record cannot be replayed into another process.
//
// Every read self-heals: an expired record is deactivated in place before
// the accessor answers, so callers never observe a stale active session.
type TestModeService struct {
	store  *Store
	secret string
}

// NewTestModeService creates the service over store. The service is inert
// unless the store was built with AllowTestMode; in production builds every
// mutator returns false and State always reports inactive.
func NewTestModeService(store *Store) *TestModeService {
	return &TestModeService{
		store:  store,
		secret: newSessionSecret(),
	}
}

func newSessionSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the OS entropy source is broken;
		// fall back to a time-derived secret rather than panic.
		return fmt.Sprintf("strata-testmode-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Enable starts (or restarts) an elevated session lasting duration, with
// initialRole active. A zero duration uses the store's configured default;
// a negative duration or an unrecognized role is rejected. Returns false
// when test mode is not allowed, the arguments are invalid, or persistence
// fails. Granting elevated access never repairs bad input.
func (t *TestModeService) Enable(duration time.Duration, initialRole Role, debug bool) bool {
	if !t.store.opts.AllowTestMode {
		t.store.logAudit("testmode_enable", false, map[string]interface{}{
			"error": "test mode not allowed",
		})
		return false
	}
	if !initialRole.Valid() {
		t.store.logAudit("testmode_enable", false, map[string]interface{}{
			"error": "invalid role", "role": string(initialRole),
		})
		return false
	}
	if duration < 0 {
		t.store.logAudit("testmode_enable", false, map[string]interface{}{
			"error": "negative duration",
		})
		return false
	}
	if duration == 0 {
		duration = t.store.opts.TestModeDuration
	}

	now := t.store.clock.Now()
	state := TestModeState{
		Enabled:        true,
		ActivatedAt:    now,
		ExpiryTime:     now.Add(duration),
		InitialRole:    initialRole,
		CurrentRole:    initialRole,
		AvailableRoles: AllRoles(),
		Debug:          debug,
	}

	if !t.writeState(&state) {
		return false
	}

	t.store.writeCompatFlag(Session, LegacyTestModeFlag, "true")
	t.store.writeCompatFlag(Session, LegacyTestModeExpiry, strconv.FormatInt(state.ExpiryTime.UnixMilli(), 10))
	t.store.writeCompatFlag(Session, LegacyCurrentRole, string(initialRole))
	t.store.writeCompatFlag(Session, LegacyBypassAPICalls, "true")

	t.store.logAudit("testmode_enable", true, map[string]interface{}{
		"initial_role": string(initialRole),
		"expiry_time":  state.ExpiryTime.Format(time.RFC3339),
		"debug":        debug,
	})
	t.store.bus.Publish(events.TestModeActivated, events.TestModeActivatedPayload{
		ExpiryTime:  state.ExpiryTime,
		InitialRole: string(initialRole),
	})

	return true
}

// Disable ends the session and clears the legacy flags. Disabling when no
// session is active is a no-op that returns false; the flags are still
// cleared so stale legacy state cannot linger.
func (t *TestModeService) Disable() bool {
	active := t.State() != nil

	if !t.store.Remove(KeyTestMode, Session) {
		return false
	}
	t.store.clearCompatFlags(Session)

	if !active {
		return false
	}
	t.store.logAudit("testmode_disable", true, nil)
	t.store.bus.Publish(events.TestModeDeactivated, events.TestModeDeactivatedPayload{})
	return true
}

// IsActive reports whether an unexpired elevated session exists.
func (t *TestModeService) IsActive() bool {
	return t.State() != nil
}

// State returns the active session state, or nil. An expired record found
// here is deactivated (removed, flags cleared, event published) before nil
// is returned, which is how a session ends when no timer fired.
func (t *TestModeService) State() *TestModeState {
	if !t.store.opts.AllowTestMode {
		return nil
	}

	var state TestModeState
	if !t.store.GetSecure(KeyTestMode, &state, t.secret, &GetOptions{Backend: Session}) {
		return nil
	}
	if !state.Enabled {
		return nil
	}

	if !t.store.clock.Now().Before(state.ExpiryTime) {
		t.store.Remove(KeyTestMode, Session)
		t.store.clearCompatFlags(Session)
		t.store.logAudit("testmode_expired", true, map[string]interface{}{
			"expiry_time": state.ExpiryTime.Format(time.RFC3339),
		})
		t.store.bus.Publish(events.TestModeDeactivated, events.TestModeDeactivatedPayload{})
		return nil
	}

	return &state
}

// TimeRemaining reports the minutes left in the session, rounded to the
// nearest minute, and whether a session is active at all.
func (t *TestModeService) TimeRemaining() (int, bool) {
	state := t.State()
	if state == nil {
		return 0, false
	}
	remaining := state.ExpiryTime.Sub(t.store.clock.Now())
	return int(remaining.Round(time.Minute) / time.Minute), true
}

// ExtendDuration pushes the session expiry out by additional time. The
// extension anchors on the later of now and the current expiry, so back to
// back extensions accumulate instead of overlapping.
func (t *TestModeService) ExtendDuration(additional time.Duration) bool {
	if additional <= 0 {
		return false
	}
	state := t.State()
	if state == nil {
		return false
	}

	anchor := state.ExpiryTime
	if now := t.store.clock.Now(); now.After(anchor) {
		anchor = now
	}
	state.ExpiryTime = anchor.Add(additional)

	if !t.writeState(state) {
		return false
	}
	t.store.writeCompatFlag(Session, LegacyTestModeExpiry, strconv.FormatInt(state.ExpiryTime.UnixMilli(), 10))

	t.store.logAudit("testmode_extend", true, map[string]interface{}{
		"expiry_time": state.ExpiryTime.Format(time.RFC3339),
	})
	return true
}

// SetRole switches the session's active role. Only roles already in the
// session's role set are accepted.
func (t *TestModeService) SetRole(role Role) bool {
	state := t.State()
	if state == nil || !role.Valid() {
		return false
	}
	if !rolesContain(state.AvailableRoles, role) {
		t.store.logAudit("testmode_set_role", false, map[string]interface{}{
			"role": string(role), "error": "role not in session set",
		})
		return false
	}

	from := state.CurrentRole
	state.CurrentRole = role
	if !t.writeState(state) {
		return false
	}
	t.store.writeCompatFlag(Session, LegacyCurrentRole, string(role))

	t.store.logAudit("testmode_set_role", true, map[string]interface{}{
		"from": string(from), "to": string(role),
	})
	t.store.bus.Publish(events.RoleChanged, events.RoleChangedPayload{
		From:           string(from),
		To:             string(role),
		AvailableRoles: roleStrings(state.AvailableRoles),
	})
	return true
}

// EnableAllRoles resets the session's role set to the complete role list.
func (t *TestModeService) EnableAllRoles() bool {
	state := t.State()
	if state == nil {
		return false
	}
	state.AvailableRoles = AllRoles()
	if !t.writeState(state) {
		return false
	}

	t.store.bus.Publish(events.RolesUpdated, events.RolesUpdatedPayload{
		AvailableRoles: roleStrings(state.AvailableRoles),
		CurrentRole:    string(state.CurrentRole),
	})
	return true
}

func (t *TestModeService) writeState(state *TestModeState) bool {
	ok := t.store.SetSecure(KeyTestMode, state, t.secret, &SetOptions{Backend: Session})
	if !ok {
		t.store.logAudit("testmode_persist", false, nil)
	}
	return ok
}
