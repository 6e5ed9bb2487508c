package strata

import (
	"strings"
	"testing"
	"time"

	"github.com/ProofOfReach/strata/events"
)

func newTestModeFixture(t *testing.T, clock Clock) (*TestModeService, *Store) {
	t.Helper()
	store, _, _ := newTestStore(t, clock, Options{AllowTestMode: true})
	return NewTestModeService(store), store
}

func TestTestModeSession(t *testing.T) {
	clock := newFakeClock()
	service, store := newTestModeFixture(t, clock)

	var activated []events.TestModeActivatedPayload
	store.Events().Subscribe(events.TestModeActivated, func(e events.Event) {
		activated = append(activated, e.Payload.(events.TestModeActivatedPayload))
	})
	deactivated := 0
	store.Events().Subscribe(events.TestModeDeactivated, func(events.Event) { deactivated++ })

	// Activate a 30 minute session as admin.
	if !service.Enable(30*time.Minute, RoleAdmin, false) {
		t.Fatal("Enable failed")
	}
	if len(activated) != 1 || activated[0].InitialRole != "admin" {
		t.Fatalf("activation events: %+v", activated)
	}

	state := service.State()
	if state == nil {
		t.Fatal("no state after enable")
	}
	if state.CurrentRole != RoleAdmin || state.InitialRole != RoleAdmin {
		t.Errorf("session roles: %+v", state)
	}
	if len(state.AvailableRoles) != len(AllRoles()) {
		t.Errorf("session role set = %v, want all roles", state.AvailableRoles)
	}

	// 29 minutes in: still active, one minute left.
	clock.Advance(29 * time.Minute)
	if !service.IsActive() {
		t.Fatal("session expired early")
	}
	if mins, ok := service.TimeRemaining(); !ok || mins != 1 {
		t.Errorf("TimeRemaining = %d,%v, want 1,true", mins, ok)
	}

	// 31 minutes in: the next read self-heals to inactive.
	clock.Advance(2 * time.Minute)
	if service.IsActive() {
		t.Error("session active past expiry")
	}
	if service.State() != nil {
		t.Error("state non-nil past expiry")
	}
	if deactivated != 1 {
		t.Errorf("got %d deactivation events, want 1", deactivated)
	}

	// The expired record was removed, not just masked.
	if _, found, _ := store.backendDirect(Session).Get("test_" + KeyTestMode); found {
		t.Error("expired session record still stored")
	}
}

func TestTestModeDisable(t *testing.T) {
	clock := newFakeClock()
	service, store := newTestModeFixture(t, clock)

	deactivated := 0
	store.Events().Subscribe(events.TestModeDeactivated, func(events.Event) { deactivated++ })

	service.Enable(time.Hour, RoleAdmin, false)
	if !service.Disable() {
		t.Fatal("Disable failed")
	}
	if service.IsActive() {
		t.Error("still active after disable")
	}
	if deactivated != 1 {
		t.Errorf("got %d deactivation events, want 1", deactivated)
	}

	// Disabling an inactive service is a no-op reported as false.
	if service.Disable() {
		t.Error("second Disable reported an active session")
	}
	if deactivated != 1 {
		t.Errorf("redundant disable emitted an event")
	}
}

func TestTestModeEnableRejectsBadInput(t *testing.T) {
	clock := newFakeClock()
	service, _ := newTestModeFixture(t, clock)

	// An unrecognized role must not be coerced into an elevated session.
	if service.Enable(time.Hour, Role("bogus"), false) {
		t.Error("Enable accepted an unknown role")
	}
	if service.State() != nil {
		t.Error("invalid role left an active session behind")
	}

	if service.Enable(-time.Hour, RoleViewer, false) {
		t.Error("Enable accepted a negative duration")
	}
	if service.IsActive() {
		t.Error("negative duration left an active session behind")
	}
}

func TestTestModeNotAllowed(t *testing.T) {
	store, _, _ := newTestStore(t, newFakeClock(), Options{AllowTestMode: false})
	service := NewTestModeService(store)

	if service.Enable(time.Hour, RoleAdmin, false) {
		t.Error("Enable succeeded with test mode disallowed")
	}
	if service.IsActive() || service.State() != nil {
		t.Error("disallowed service reports an active session")
	}
}

func TestTestModeDefaultDuration(t *testing.T) {
	clock := newFakeClock()
	service, _ := newTestModeFixture(t, clock)

	service.Enable(0, RoleAdmin, false)

	state := service.State()
	if state == nil {
		t.Fatal("no state after enable")
	}
	want := clock.Now().Add(DefaultTestModeDuration)
	if !state.ExpiryTime.Equal(want) {
		t.Errorf("expiry = %v, want %v", state.ExpiryTime, want)
	}
}

func TestTestModeExtendDuration(t *testing.T) {
	clock := newFakeClock()
	service, _ := newTestModeFixture(t, clock)

	service.Enable(30*time.Minute, RoleAdmin, false)
	clock.Advance(10 * time.Minute)

	if !service.ExtendDuration(time.Hour) {
		t.Fatal("ExtendDuration failed")
	}

	// 30min original + 60min extension, measured from activation.
	if mins, ok := service.TimeRemaining(); !ok || mins != 80 {
		t.Errorf("TimeRemaining = %d,%v, want 80,true", mins, ok)
	}

	if service.ExtendDuration(-time.Minute) {
		t.Error("negative extension accepted")
	}

	// Expired sessions cannot be extended back to life.
	clock.Advance(100 * time.Minute)
	if service.ExtendDuration(time.Hour) {
		t.Error("extension revived an expired session")
	}
}

func TestTestModeSetRole(t *testing.T) {
	clock := newFakeClock()
	service, store := newTestModeFixture(t, clock)

	var changes []events.RoleChangedPayload
	store.Events().Subscribe(events.RoleChanged, func(e events.Event) {
		changes = append(changes, e.Payload.(events.RoleChangedPayload))
	})

	service.Enable(time.Hour, RoleAdmin, false)

	if !service.SetRole(RolePublisher) {
		t.Fatal("SetRole failed")
	}
	if state := service.State(); state.CurrentRole != RolePublisher {
		t.Errorf("session role = %s, want publisher", state.CurrentRole)
	}
	if len(changes) != 1 || changes[0].From != "admin" || changes[0].To != "publisher" {
		t.Errorf("role change events: %+v", changes)
	}

	if service.SetRole(Role("bogus")) {
		t.Error("unknown role accepted")
	}
}

func TestTestModeLegacyFlags(t *testing.T) {
	clock := newFakeClock()
	service, store := newTestModeFixture(t, clock)

	service.Enable(time.Hour, RoleAdmin, false)

	backend := store.backendDirect(Session)
	if raw, found, _ := backend.Get(LegacyTestModeFlag); !found || string(raw) != "true" {
		t.Errorf("legacy test-mode flag = %q (found=%v)", raw, found)
	}
	if raw, found, _ := backend.Get(LegacyCurrentRole); !found || string(raw) != "admin" {
		t.Errorf("legacy role flag = %q (found=%v)", raw, found)
	}
	if _, found, _ := backend.Get(LegacyTestModeExpiry); !found {
		t.Error("legacy expiry flag missing")
	}

	service.Disable()
	for _, flag := range LegacyCompatFlags {
		if _, found, _ := backend.Get(flag); found {
			t.Errorf("legacy flag %s survived disable", flag)
		}
	}
}

func TestTestModeStateEncryptedAtRest(t *testing.T) {
	clock := newFakeClock()
	service, store := newTestModeFixture(t, clock)

	service.Enable(time.Hour, RoleAdmin, false)

	raw, found, err := store.backendDirect(Session).Get("test_" + KeyTestMode)
	if err != nil || !found {
		t.Fatalf("session record not stored: found=%v err=%v", found, err)
	}
	if strings.Contains(string(raw), "admin") {
		t.Error("session record stores role names in the clear")
	}

	// A fresh service holds a different session secret and cannot read a
	// copied record.
	other := NewTestModeService(store)
	if other.State() != nil {
		t.Error("session record readable under a different process secret")
	}
}
