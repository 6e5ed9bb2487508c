package strata

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ProofOfReach/strata/events"
	"github.com/ProofOfReach/strata/persist"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testPrefs struct {
	Theme    string `json:"theme"`
	FontSize int    `json:"fontSize"`
}

func newTestStore(t *testing.T, clock Clock, opts Options) (*Store, *persist.MemoryBackend, *persist.MemoryBackend) {
	t.Helper()

	durable := persist.NewMemoryBackend()
	session := persist.NewMemoryBackend()

	if opts.Namespace == "" {
		opts.Namespace = "test"
	}
	if opts.Clock == nil {
		opts.Clock = clock
	}
	if opts.Memory == nil {
		opts.Memory = persist.NewMemoryBackend()
	}

	store, err := New(opts, durable, session, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, durable, session
}

func TestStoreRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t, newFakeClock(), Options{})

	t.Run("StructValue", func(t *testing.T) {
		in := testPrefs{Theme: "dark", FontSize: 14}
		if !store.Set(KeyPreferences, in, nil) {
			t.Fatal("Set failed")
		}

		var out testPrefs
		if !store.Get(KeyPreferences, &out, nil) {
			t.Fatal("Get failed")
		}
		if out != in {
			t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
		}
	})

	t.Run("StringValue", func(t *testing.T) {
		if !store.Set(KeyAuthToken, "token-abc", nil) {
			t.Fatal("Set failed")
		}
		var out string
		if !store.Get(KeyAuthToken, &out, nil) {
			t.Fatal("Get failed")
		}
		if out != "token-abc" {
			t.Errorf("got %q, want %q", out, "token-abc")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		store.Set("counter", 1, nil)
		store.Set("counter", 2, nil)

		var out int
		if !store.Get("counter", &out, nil) {
			t.Fatal("Get failed")
		}
		if out != 2 {
			t.Errorf("got %d, want 2", out)
		}
	})
}

func TestStoreGetDefault(t *testing.T) {
	store, _, _ := newTestStore(t, newFakeClock(), Options{})

	var out testPrefs
	found := store.Get("missing", &out, &GetOptions{Default: testPrefs{Theme: "light", FontSize: 12}})
	if found {
		t.Error("Get reported found for a missing key")
	}
	if out.Theme != "light" || out.FontSize != 12 {
		t.Errorf("default not applied: got %+v", out)
	}
}

func TestStoreNamespaceIsolation(t *testing.T) {
	clock := newFakeClock()
	shared := persist.NewMemoryBackend()

	newNamespaced := func(ns string) *Store {
		store, err := New(Options{
			Namespace: ns,
			Clock:     clock,
			Memory:    persist.NewMemoryBackend(),
		}, shared, persist.NewMemoryBackend(), nil)
		if err != nil {
			t.Fatalf("failed to create store %s: %v", ns, err)
		}
		return store
	}

	appA := newNamespaced("appa")
	appB := newNamespaced("appb")

	appA.Set("shared", "from-a", nil)
	appB.Set("shared", "from-b", nil)
	appB.Set("only-b", "b", nil)

	var got string
	appA.Get("shared", &got, nil)
	if got != "from-a" {
		t.Errorf("namespace a read %q, want %q", got, "from-a")
	}
	appB.Get("shared", &got, nil)
	if got != "from-b" {
		t.Errorf("namespace b read %q, want %q", got, "from-b")
	}

	if keys := appA.Keys(Durable); len(keys) != 1 || keys[0] != "shared" {
		t.Errorf("namespace a keys = %v, want [shared]", keys)
	}

	// Clearing one namespace must not touch the other on the shared
	// backend.
	if !appA.Clear(Durable) {
		t.Fatal("Clear failed")
	}
	if store := appA.Keys(Durable); len(store) != 0 {
		t.Errorf("namespace a still has keys after clear: %v", store)
	}
	if keys := appB.Keys(Durable); len(keys) != 2 {
		t.Errorf("namespace b lost keys after a's clear: %v", keys)
	}
	appB.Get("shared", &got, nil)
	if got != "from-b" {
		t.Errorf("namespace b value corrupted after a's clear: %q", got)
	}
}

func TestStoreExpiry(t *testing.T) {
	clock := newFakeClock()
	store, durable, _ := newTestStore(t, clock, Options{})

	if !store.Set(KeyCache, "cached", &SetOptions{Expiry: 5 * time.Minute}) {
		t.Fatal("Set failed")
	}

	var out string
	clock.Advance(4 * time.Minute)
	if !store.Get(KeyCache, &out, nil) {
		t.Fatal("value expired early")
	}

	clock.Advance(2 * time.Minute)
	out = ""
	found := store.Get(KeyCache, &out, &GetOptions{Default: "fallback"})
	if found {
		t.Error("expired value still readable")
	}
	if out != "fallback" {
		t.Errorf("default not applied on expiry: got %q", out)
	}

	// The expired read deletes the entry.
	if _, present, _ := durable.Get("test_" + KeyCache); present {
		t.Error("expired entry not removed from backend")
	}
}

func TestStoreRefreshExpiry(t *testing.T) {
	clock := newFakeClock()
	store, _, _ := newTestStore(t, clock, Options{})

	store.Set("session-data", "v", &SetOptions{Expiry: 10 * time.Minute})

	clock.Advance(8 * time.Minute)
	var out string
	if !store.Get("session-data", &out, &GetOptions{RefreshExpiry: true}) {
		t.Fatal("Get failed before expiry")
	}

	// Without the refresh this read would land 17 minutes after the
	// write, past the original window.
	clock.Advance(9 * time.Minute)
	if !store.Get("session-data", &out, nil) {
		t.Fatal("refreshed expiry did not extend the window")
	}

	clock.Advance(11 * time.Minute)
	if store.Get("session-data", &out, nil) {
		t.Error("value readable past the refreshed window")
	}
}

func TestStoreCleanExpired(t *testing.T) {
	clock := newFakeClock()
	store, _, _ := newTestStore(t, clock, Options{})

	store.Set("keep", "v", nil)
	store.Set("short-a", "v", &SetOptions{Expiry: time.Minute})
	store.Set("short-b", "v", &SetOptions{Expiry: 2 * time.Minute})
	store.Set("long", "v", &SetOptions{Expiry: time.Hour})

	clock.Advance(5 * time.Minute)

	if removed := store.CleanExpired(Durable); removed != 2 {
		t.Errorf("CleanExpired removed %d entries, want 2", removed)
	}

	keys := store.Keys(Durable)
	if len(keys) != 2 {
		t.Errorf("keys after sweep = %v, want [keep long]", keys)
	}
}

func TestStoreEncryption(t *testing.T) {
	clock := newFakeClock()
	store, durable, _ := newTestStore(t, clock, Options{})

	secret := "user-derived-secret"
	plaintext := "nsec1-very-private-material"

	t.Run("RoundTrip", func(t *testing.T) {
		if !store.SetSecure(KeyAuthToken, plaintext, secret, nil) {
			t.Fatal("SetSecure failed")
		}
		var out string
		if !store.GetSecure(KeyAuthToken, &out, secret, nil) {
			t.Fatal("GetSecure failed")
		}
		if out != plaintext {
			t.Errorf("got %q, want %q", out, plaintext)
		}
	})

	t.Run("CiphertextHidesPlaintext", func(t *testing.T) {
		raw, found, err := durable.Get("test_" + KeyAuthToken)
		if err != nil || !found {
			t.Fatalf("raw read failed: found=%v err=%v", found, err)
		}
		if strings.Contains(string(raw), plaintext) {
			t.Error("stored bytes contain the plaintext")
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("stored entry is not an envelope: %v", err)
		}
		if !env.Encrypted {
			t.Error("envelope not flagged encrypted")
		}
		if strings.Contains(string(env.Value), plaintext) {
			t.Error("envelope value contains the plaintext")
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		var out testPrefs
		if store.GetSecure(KeyAuthToken, &out, "wrong-secret", nil) {
			t.Error("wrong secret produced a successful read")
		}
	})

	t.Run("StrictMode", func(t *testing.T) {
		strict, _, _ := newTestStore(t, clock, Options{StrictDecrypt: true})
		strict.SetSecure("k", "value", secret, nil)

		var out string
		if strict.GetSecure("k", &out, "wrong-secret", nil) {
			t.Error("strict store read succeeded with wrong secret")
		}
		if !strict.GetSecure("k", &out, secret, nil) || out != "value" {
			t.Errorf("strict store read failed with right secret: %q", out)
		}
	})

	t.Run("EqualPlaintextsDiffer", func(t *testing.T) {
		store.SetSecure("dup-a", "same", secret, nil)
		store.SetSecure("dup-b", "same", secret, nil)

		rawA, _, _ := durable.Get("test_dup-a")
		rawB, _, _ := durable.Get("test_dup-b")
		var envA, envB Envelope
		json.Unmarshal(rawA, &envA)
		json.Unmarshal(rawB, &envB)
		if string(envA.Value) == string(envB.Value) {
			t.Error("equal plaintexts produced equal ciphertexts")
		}
	})
}

func TestStoreLegacyPlainEntry(t *testing.T) {
	store, durable, _ := newTestStore(t, newFakeClock(), Options{})

	// An entry written before the envelope format existed.
	if err := durable.Set("test_legacy", []byte(`{"theme":"dark","fontSize":14}`)); err != nil {
		t.Fatal(err)
	}

	var out testPrefs
	if !store.Get("legacy", &out, nil) {
		t.Fatal("legacy entry unreadable")
	}
	if out.Theme != "dark" {
		t.Errorf("legacy entry decoded wrong: %+v", out)
	}
}

func TestStoreMigration(t *testing.T) {
	clock := newFakeClock()
	store, durable, _ := newTestStore(t, clock, Options{})

	type prefsV3 struct {
		Theme   string `json:"theme"`
		Version int    `json:"schema"`
	}

	store.RegisterMigration(KeyPreferences, 1, 2, func(value json.RawMessage, from int) (json.RawMessage, error) {
		var m map[string]interface{}
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, err
		}
		m["schema"] = 2
		return json.Marshal(m)
	})
	store.RegisterMigration(KeyPreferences, 2, 3, func(value json.RawMessage, from int) (json.RawMessage, error) {
		var m map[string]interface{}
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, err
		}
		m["schema"] = 3
		return json.Marshal(m)
	})

	var migrations []events.StorageMigratedPayload
	store.Events().Subscribe(events.StorageMigrated, func(e events.Event) {
		migrations = append(migrations, e.Payload.(events.StorageMigratedPayload))
	})

	store.Set(KeyPreferences, map[string]interface{}{"theme": "dark"}, &SetOptions{Version: 1})

	var out prefsV3
	if !store.Get(KeyPreferences, &out, nil) {
		t.Fatal("Get failed")
	}
	if out.Version != 3 {
		t.Errorf("migrated value at schema %d, want 3", out.Version)
	}

	if len(migrations) != 1 {
		t.Fatalf("got %d migration events, want 1", len(migrations))
	}
	if migrations[0].OldVersion != 1 || migrations[0].NewVersion != 3 || !migrations[0].Success {
		t.Errorf("unexpected migration payload: %+v", migrations[0])
	}

	// The upgraded entry is persisted at the new version.
	raw, _, _ := durable.Get("test_" + KeyPreferences)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Version != 3 {
		t.Errorf("persisted envelope at version %d, want 3", env.Version)
	}

	// A second read finds nothing left to migrate.
	migrations = nil
	store.Get(KeyPreferences, &out, nil)
	if len(migrations) != 0 {
		t.Errorf("re-read emitted %d migration events", len(migrations))
	}
}

func TestStoreMigrationWithRefreshExpiry(t *testing.T) {
	clock := newFakeClock()
	store, durable, _ := newTestStore(t, clock, Options{})

	store.RegisterMigration(KeyCache, 1, 2, func(value json.RawMessage, from int) (json.RawMessage, error) {
		var m map[string]interface{}
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, err
		}
		m["name"] = "migrated"
		return json.Marshal(m)
	})

	store.Set(KeyCache, map[string]interface{}{"name": "old"}, &SetOptions{Version: 1, Expiry: time.Hour})

	var out map[string]interface{}
	if !store.Get(KeyCache, &out, &GetOptions{RefreshExpiry: true}) {
		t.Fatal("Get failed")
	}
	if out["name"] != "migrated" {
		t.Errorf(`migrated read = %v, want "migrated"`, out["name"])
	}

	// The refresh rewrite must carry the migrated value; a stale payload
	// here would survive at the new version and never migrate again.
	raw, _, _ := durable.Get("test_" + KeyCache)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Version != 2 {
		t.Errorf("persisted envelope at version %d, want 2", env.Version)
	}
	var persisted map[string]interface{}
	if err := json.Unmarshal(env.Value, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted["name"] != "migrated" {
		t.Errorf(`persisted value = %v, want "migrated"`, persisted["name"])
	}

	out = nil
	if !store.Get(KeyCache, &out, nil) {
		t.Fatal("second Get failed")
	}
	if out["name"] != "migrated" {
		t.Errorf(`second read = %v, want "migrated"`, out["name"])
	}
}

func TestStoreEvents(t *testing.T) {
	store, _, _ := newTestStore(t, newFakeClock(), Options{})

	var changed []events.StorageChangedPayload
	store.Events().Subscribe(events.StorageChanged, func(e events.Event) {
		changed = append(changed, e.Payload.(events.StorageChangedPayload))
	})
	var cleared []events.StorageClearedPayload
	store.Events().Subscribe(events.StorageCleared, func(e events.Event) {
		cleared = append(cleared, e.Payload.(events.StorageClearedPayload))
	})

	store.Set("watched", "one", nil)
	store.Set("watched", "two", nil)
	store.Remove("watched", Durable)

	if len(changed) != 3 {
		t.Fatalf("got %d change events, want 3", len(changed))
	}
	if changed[0].OldValue != nil || changed[0].NewValue != "one" {
		t.Errorf("first change payload: %+v", changed[0])
	}
	if changed[1].OldValue != "one" || changed[1].NewValue != "two" {
		t.Errorf("second change payload: %+v", changed[1])
	}
	if changed[2].OldValue != "two" || changed[2].NewValue != nil {
		t.Errorf("removal payload: %+v", changed[2])
	}
	if changed[0].Namespace != "test" || changed[0].Backend != string(Durable) {
		t.Errorf("change metadata: %+v", changed[0])
	}

	store.Set("a", 1, nil)
	store.Set("b", 2, nil)
	store.Clear(Durable)
	if len(cleared) != 1 {
		t.Fatalf("got %d cleared events, want 1", len(cleared))
	}
	if len(cleared[0].Keys) != 2 {
		t.Errorf("cleared keys = %v, want two entries", cleared[0].Keys)
	}
}

func TestStoreBackendFallback(t *testing.T) {
	memory := persist.NewMemoryBackend()
	store, err := New(Options{
		Namespace: "test",
		Clock:     newFakeClock(),
		Memory:    memory,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("store creation failed without backends: %v", err)
	}

	if !store.Set("k", "v", nil) {
		t.Fatal("Set failed on fallback store")
	}
	var out string
	if !store.Get("k", &out, nil) || out != "v" {
		t.Fatalf("Get on fallback store: found=%v value=%q", out != "", out)
	}

	// The write landed on the injected memory backend.
	if _, found, _ := memory.Get("test_k"); !found {
		t.Error("fallback write did not reach the memory backend")
	}
}

func TestStoreBackendSelection(t *testing.T) {
	store, durable, session := newTestStore(t, newFakeClock(), Options{})

	store.Set("d", "durable-value", nil)
	store.Set("s", "session-value", &SetOptions{Backend: Session})

	if _, found, _ := durable.Get("test_d"); !found {
		t.Error("durable write missing")
	}
	if _, found, _ := session.Get("test_s"); !found {
		t.Error("session write missing")
	}
	if _, found, _ := durable.Get("test_s"); found {
		t.Error("session write leaked to durable backend")
	}

	var out string
	if store.Get("s", &out, nil) {
		t.Error("session value visible through durable reads")
	}
	if !store.Get("s", &out, &GetOptions{Backend: Session}) {
		t.Error("session value unreadable through session reads")
	}
}

func TestStoreSweeper(t *testing.T) {
	clock := newFakeClock()
	store, _, _ := newTestStore(t, clock, Options{})

	store.Set("ephemeral", "v", &SetOptions{Expiry: time.Millisecond})
	clock.Advance(time.Second)

	stop := store.StartSweeper(5*time.Millisecond, Durable)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.Keys(Durable)) == 0 {
			// Calling stop twice must be safe.
			stop()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweeper never removed the expired entry: %v", store.Keys(Durable))
}

func TestStoreInvalidOptions(t *testing.T) {
	_, err := New(Options{Namespace: "bad_ns"}, persist.NewMemoryBackend(), persist.NewMemoryBackend(), nil)
	if err == nil {
		t.Error("namespace containing underscore was accepted")
	}
}

func TestStoreKeysSorted(t *testing.T) {
	store, _, _ := newTestStore(t, newFakeClock(), Options{})

	for _, k := range []string{"zeta", "alpha", "mid"} {
		store.Set(k, 1, nil)
	}
	keys := store.Keys(Durable)
	want := fmt.Sprintf("%v", []string{"alpha", "mid", "zeta"})
	if fmt.Sprintf("%v", keys) != want {
		t.Errorf("keys = %v, want %s", keys, want)
	}
}
