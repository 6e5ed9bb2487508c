// Package strata implements the layered client-state storage subsystem for
// the ProofOfReach platform: a typed, namespaced, optionally encrypted,
// expiring key/value store over pluggable persistence backends, with role
// management, a time-boxed test-mode session and an encrypted per-identity
// interaction vault layered on top.
package strata

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ProofOfReach/strata/audit"
	"github.com/ProofOfReach/strata/events"
	"github.com/ProofOfReach/strata/internal/misc"
	"github.com/ProofOfReach/strata/persist"
)

// BackendKind selects which storage layer an operation targets.
type BackendKind string

const (
	// Durable survives process restarts.
	Durable BackendKind = "durable"

	// Session is cleared when the session backend closes.
	Session BackendKind = "session"

	// Memory lives for the process only; it is also the automatic
	// fallback when a persistent backend fails its availability probe.
	Memory BackendKind = "memory"
)

// SetOptions controls a single Set call. The zero value writes a plain,
// non-expiring item to the store's default backend.
type SetOptions struct {
	// Expiry, when positive, sets the item's time-to-live.
	Expiry time.Duration

	// Encrypt stores the value encrypted. Secret overrides the store's
	// default secret for this item.
	Encrypt bool
	Secret  string

	// Backend targets a specific layer; empty means the default.
	Backend BackendKind

	// Version tags the envelope for migration support; 0 means version 1.
	Version int
}

// GetOptions controls a single Get call.
type GetOptions struct {
	// Default is assigned to out when the key is absent, expired or
	// unreadable. May be nil.
	Default interface{}

	// Secret is used to decrypt items stored encrypted.
	Secret string

	// Backend targets a specific layer; empty means the default.
	Backend BackendKind

	// RefreshExpiry rewrites a found item with its original expiry
	// window restarted from now.
	RefreshExpiry bool
}

// MigrateFunc upgrades a stored value from one envelope version to the
// next. It receives and returns the serialized value.
type MigrateFunc func(value json.RawMessage, fromVersion int) (json.RawMessage, error)

type migration struct {
	from, to int
	fn       MigrateFunc
}

// Store is the namespaced key/value store over the durable, session and
// memory backends. All public methods trap backend and codec failures
// internally and report them through boolean or zero returns plus audit
// logging; no storage exception ever escapes to the caller.
type Store struct {
	opts  Options
	clock Clock
	codec *Codec
	bus   *events.Bus
	audit audit.Logger

	durable persist.Backend
	session persist.Backend
	memory  *persist.MemoryBackend

	mu         sync.RWMutex
	migrations map[string][]migration
}

// New creates a Store over the given backends. Either backend may be nil or
// unreachable: the constructor probes each with a sentinel write and falls
// back to the memory backend (logged, not fatal) when the probe fails, so a
// store is always usable even in environments without persistent storage.
//
// auditLogger may be nil; operations are then not audited.
func New(options Options, durable, session persist.Backend, auditLogger audit.Logger) (*Store, error) {
	if err := validateOptions(&options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	s := &Store{
		opts:       options,
		clock:      options.Clock,
		codec:      NewCodec(options.StrictDecrypt),
		bus:        events.NewBus(),
		audit:      auditLogger,
		memory:     options.Memory,
		migrations: make(map[string][]migration),
	}

	s.durable = s.probeOrFallback(durable, Durable)
	s.session = s.probeOrFallback(session, Session)

	s.logAudit("store_initialized", true, map[string]interface{}{
		"namespace":       options.Namespace,
		"durable_backend": s.durable.GetType(),
		"session_backend": s.session.GetType(),
		"default_backend": string(options.DefaultBackend),
	})

	return s, nil
}

func (s *Store) probeOrFallback(b persist.Backend, kind BackendKind) persist.Backend {
	if err := persist.Probe(b); err != nil {
		log.Printf("WARNING: %s backend unavailable, falling back to memory: %v", kind, err)
		s.logAudit("backend_fallback", false, map[string]interface{}{
			"backend": string(kind),
			"error":   err.Error(),
		})
		return s.memory
	}
	return b
}

// Events returns the store's notification bus. Role, test-mode and vault
// services constructed over this store publish on the same bus.
func (s *Store) Events() *events.Bus {
	return s.bus
}

// Namespace returns the store's key namespace.
func (s *Store) Namespace() string {
	return s.opts.Namespace
}

// Set serializes value into an envelope and writes it under the namespaced
// key. Returns false (never panics or propagates an error) on failure.
func (s *Store) Set(key string, value interface{}, opts *SetOptions) bool {
	if opts == nil {
		opts = &SetOptions{}
	}
	if key == "" {
		s.logAudit("set", false, map[string]interface{}{"error": "empty key"})
		return false
	}

	backend, kind := s.backendFor(opts.Backend)

	raw, err := json.Marshal(value)
	if err != nil {
		s.logAudit("set", false, map[string]interface{}{
			"key": key, "backend": string(kind), "error": fmt.Sprintf("marshal: %v", err),
		})
		return false
	}

	now := s.clock.Now()
	env := Envelope{
		Value:     raw,
		CreatedAt: now,
		Version:   opts.Version,
	}
	if env.Version == 0 {
		env.Version = 1
	}
	if opts.Expiry > 0 {
		expires := now.Add(opts.Expiry)
		env.ExpiresAt = &expires
	}

	if opts.Encrypt {
		secret := opts.Secret
		if secret == "" {
			secret = s.opts.DefaultSecret
		}
		ciphertext, err := s.codec.Encrypt(raw, secret)
		if err != nil {
			s.logAudit("set", false, map[string]interface{}{
				"key": key, "backend": string(kind), "error": fmt.Sprintf("encrypt: %v", err),
			})
			return false
		}
		env.Value, _ = json.Marshal(ciphertext)
		env.Encrypted = true
	}

	oldValue := s.peekValue(backend, key)

	data, err := json.Marshal(env)
	if err != nil {
		s.logAudit("set", false, map[string]interface{}{
			"key": key, "backend": string(kind), "error": fmt.Sprintf("marshal envelope: %v", err),
		})
		return false
	}

	if err = backend.Set(s.namespacedKey(key), data); err != nil {
		s.logAudit("set", false, map[string]interface{}{
			"key": key, "backend": string(kind), "error": err.Error(),
		})
		return false
	}

	var newValue interface{}
	if !env.Encrypted {
		_ = json.Unmarshal(raw, &newValue)
	}
	s.bus.Publish(events.StorageChanged, events.StorageChangedPayload{
		Key:       key,
		NewValue:  newValue,
		OldValue:  oldValue,
		Backend:   string(kind),
		Namespace: s.opts.Namespace,
	})

	return true
}

// Get reads the namespaced key into out. It returns true only when a live
// value was decoded; on absence, expiry, or any read/decrypt/parse failure
// it assigns opts.Default to out (when provided) and returns false.
//
// Reading an expired item deletes it as a side effect: the lazy check here
// is the enforcement point for "can no longer be read".
func (s *Store) Get(key string, out interface{}, opts *GetOptions) bool {
	if opts == nil {
		opts = &GetOptions{}
	}
	backend, kind := s.backendFor(opts.Backend)

	miss := func() bool {
		if opts.Default != nil && out != nil {
			if raw, err := json.Marshal(opts.Default); err == nil {
				_ = json.Unmarshal(raw, out)
			}
		}
		return false
	}

	data, found, err := backend.Get(s.namespacedKey(key))
	if err != nil {
		// Some backends surface absence as an error rather than
		// found=false; treat those as an ordinary miss.
		if misc.IsNotFoundError(err) {
			return miss()
		}
		s.logAudit("get", false, map[string]interface{}{
			"key": key, "backend": string(kind), "error": err.Error(),
		})
		return miss()
	}
	if !found {
		return miss()
	}

	var env Envelope
	if err = json.Unmarshal(data, &env); err != nil || env.Value == nil {
		// Legacy entry written before the envelope format: treat the
		// whole payload as the plain serialized value.
		if out != nil && json.Unmarshal(data, out) == nil {
			return true
		}
		s.logAudit("get", false, map[string]interface{}{
			"key": key, "backend": string(kind), "error": "unparseable entry",
		})
		return miss()
	}

	now := s.clock.Now()
	if env.Expired(now) {
		if err = backend.Delete(s.namespacedKey(key)); err != nil {
			log.Printf("store: failed to delete expired key %s: %v", key, err)
		}
		return miss()
	}

	value := env.Value
	if env.Encrypted {
		secret := opts.Secret
		if secret == "" {
			secret = s.opts.DefaultSecret
		}
		var ciphertext string
		if err = json.Unmarshal(env.Value, &ciphertext); err != nil {
			s.logAudit("get", false, map[string]interface{}{
				"key": key, "backend": string(kind), "error": "malformed encrypted value",
			})
			return miss()
		}
		plaintext, err := s.codec.Decrypt(ciphertext, secret)
		if err != nil {
			s.logAudit("get", false, map[string]interface{}{
				"key": key, "backend": string(kind), "error": err.Error(),
			})
			return miss()
		}
		value = plaintext
	}

	secret := opts.Secret
	if secret == "" {
		secret = s.opts.DefaultSecret
	}
	value, env.Version, err = s.applyMigrations(backend, kind, key, &env, value, secret)
	if err != nil {
		return miss()
	}

	if out != nil {
		if err = json.Unmarshal(value, out); err != nil {
			// One-shot fallback for content stored under a stale
			// encrypted flag: try the raw envelope value as plain JSON.
			if env.Encrypted && json.Unmarshal(env.Value, out) == nil {
				return true
			}
			s.logAudit("get", false, map[string]interface{}{
				"key": key, "backend": string(kind), "error": fmt.Sprintf("unmarshal: %v", err),
			})
			return miss()
		}
	}

	if opts.RefreshExpiry && env.ExpiresAt != nil {
		env.Refresh(now)
		if data, err := json.Marshal(env); err == nil {
			if err = backend.Set(s.namespacedKey(key), data); err != nil {
				log.Printf("store: failed to refresh expiry for key %s: %v", key, err)
			}
		}
	}

	return true
}

// SetSecure stores value encrypted under an explicit secret. Unlike Set
// with Encrypt, an empty secret is refused rather than silently downgraded
// to the fallback key.
func (s *Store) SetSecure(key string, value interface{}, secret string, opts *SetOptions) bool {
	if secret == "" {
		s.logAudit("set_secure", false, map[string]interface{}{
			"key": key, "error": "secret is required",
		})
		return false
	}
	o := SetOptions{}
	if opts != nil {
		o = *opts
	}
	o.Encrypt = true
	o.Secret = secret
	return s.Set(key, value, &o)
}

// GetSecure reads an item stored with SetSecure.
func (s *Store) GetSecure(key string, out interface{}, secret string, opts *GetOptions) bool {
	if secret == "" {
		s.logAudit("get_secure", false, map[string]interface{}{
			"key": key, "error": "secret is required",
		})
		return false
	}
	o := GetOptions{}
	if opts != nil {
		o = *opts
	}
	o.Secret = secret
	return s.Get(key, out, &o)
}

// Remove deletes the namespaced key. Returns false on backend failure.
func (s *Store) Remove(key string, kind BackendKind) bool {
	backend, resolved := s.backendFor(kind)

	oldValue := s.peekValue(backend, key)

	if err := backend.Delete(s.namespacedKey(key)); err != nil {
		s.logAudit("remove", false, map[string]interface{}{
			"key": key, "backend": string(resolved), "error": err.Error(),
		})
		return false
	}

	s.bus.Publish(events.StorageChanged, events.StorageChangedPayload{
		Key:       key,
		NewValue:  nil,
		OldValue:  oldValue,
		Backend:   string(resolved),
		Namespace: s.opts.Namespace,
	})

	return true
}

// Clear removes every key in the store's namespace from the selected
// backend. Keys outside the namespace are never touched.
func (s *Store) Clear(kind BackendKind) bool {
	backend, resolved := s.backendFor(kind)

	keys := s.Keys(kind)
	for _, key := range keys {
		if err := backend.Delete(s.namespacedKey(key)); err != nil {
			s.logAudit("clear", false, map[string]interface{}{
				"key": key, "backend": string(resolved), "error": err.Error(),
			})
			return false
		}
	}

	s.bus.Publish(events.StorageCleared, events.StorageClearedPayload{
		Backend:   string(resolved),
		Namespace: s.opts.Namespace,
		Keys:      keys,
	})

	return true
}

// Keys lists the logical keys present in the store's namespace on the
// selected backend, sorted for stable output.
func (s *Store) Keys(kind BackendKind) []string {
	backend, resolved := s.backendFor(kind)

	raw, err := backend.Keys()
	if err != nil {
		s.logAudit("keys", false, map[string]interface{}{
			"backend": string(resolved), "error": err.Error(),
		})
		return nil
	}

	prefix := s.opts.Namespace + "_"
	var keys []string
	for _, k := range raw {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys
}

// CleanExpired eagerly sweeps the namespace on the selected backend and
// deletes every entry whose envelope has expired, returning the count.
// This is the proactive reclamation path (call it on startup); the lazy
// check in Get remains the enforcement point for expiry.
func (s *Store) CleanExpired(kind BackendKind) int {
	backend, resolved := s.backendFor(kind)
	now := s.clock.Now()

	removed := 0
	for _, key := range s.Keys(kind) {
		data, found, err := backend.Get(s.namespacedKey(key))
		if err != nil || !found {
			continue
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if !env.Expired(now) {
			continue
		}
		if err = backend.Delete(s.namespacedKey(key)); err != nil {
			log.Printf("store: failed to sweep expired key %s: %v", key, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logAudit("clean_expired", true, map[string]interface{}{
			"backend": string(resolved), "removed": removed,
		})
	}
	return removed
}

// StartSweeper runs CleanExpired on the given backends at every interval
// until the returned stop function is called. It is the explicit scheduled
// sweep for callers that need storage reclaimed without waiting for reads.
func (s *Store) StartSweeper(interval time.Duration, kinds ...BackendKind) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	if len(kinds) == 0 {
		kinds = []BackendKind{s.opts.DefaultBackend}
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, kind := range kinds {
					s.CleanExpired(kind)
				}
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// RegisterMigration registers an upgrade step for one logical key. Steps
// chain: a stored version 1 entry read under registered steps 1→2 and 2→3
// is upgraded to version 3, rewritten in place, and reported through a
// storage:migrated notification.
func (s *Store) RegisterMigration(key string, fromVersion, toVersion int, fn MigrateFunc) {
	if fn == nil || toVersion <= fromVersion {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations[key] = append(s.migrations[key], migration{from: fromVersion, to: toVersion, fn: fn})
	sort.Slice(s.migrations[key], func(i, j int) bool {
		return s.migrations[key][i].from < s.migrations[key][j].from
	})
}

// applyMigrations runs any registered upgrade chain for key against the
// decoded value. On success the envelope is rewritten at the new version;
// on failure the stored entry is left untouched and the caller falls back
// to the default value.
func (s *Store) applyMigrations(backend persist.Backend, kind BackendKind, key string, env *Envelope, value json.RawMessage, secret string) (json.RawMessage, int, error) {
	s.mu.RLock()
	steps := s.migrations[key]
	s.mu.RUnlock()

	if len(steps) == 0 {
		return value, env.Version, nil
	}

	version := env.Version
	migrated := false
	oldVersion := version

	for _, step := range steps {
		if step.from != version {
			continue
		}
		next, err := step.fn(value, version)
		if err != nil {
			s.bus.Publish(events.StorageMigrated, events.StorageMigratedPayload{
				Key:        key,
				OldVersion: oldVersion,
				NewVersion: step.to,
				Success:    false,
				Error:      err.Error(),
			})
			s.logAudit("migrate", false, map[string]interface{}{
				"key": key, "from": version, "to": step.to, "error": err.Error(),
			})
			return nil, version, err
		}
		value = next
		version = step.to
		migrated = true
	}

	if !migrated {
		return value, version, nil
	}

	// Rewrite the entry at the new version, preserving the expiry window
	// and encryption mode. The envelope is updated in place so a later
	// rewrite in the same read (refresh-expiry) persists the migrated
	// value, not the original payload.
	if env.Encrypted {
		ciphertext, err := s.codec.Encrypt(value, secret)
		if err == nil {
			env.Value, _ = json.Marshal(ciphertext)
			env.Version = version
		}
	} else {
		env.Value = value
		env.Version = version
	}
	if data, err := json.Marshal(env); err == nil {
		if err = backend.Set(s.namespacedKey(key), data); err != nil {
			log.Printf("store: failed to persist migration for key %s: %v", key, err)
		}
	}

	s.bus.Publish(events.StorageMigrated, events.StorageMigratedPayload{
		Key:        key,
		OldVersion: oldVersion,
		NewVersion: version,
		Success:    true,
	})

	return value, version, nil
}

// Close closes the store's backends. The shared memory backend is left
// untouched so sibling stores keep their fallback state.
func (s *Store) Close() error {
	var firstErr error
	for _, b := range []persist.Backend{s.durable, s.session} {
		if b == nil || b == persist.Backend(s.memory) {
			continue
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) namespacedKey(key string) string {
	return s.opts.Namespace + "_" + key
}

func (s *Store) backendFor(kind BackendKind) (persist.Backend, BackendKind) {
	if kind == "" {
		kind = s.opts.DefaultBackend
	}
	switch kind {
	case Session:
		return s.session, Session
	case Memory:
		return s.memory, Memory
	default:
		return s.durable, Durable
	}
}

// backendDirect exposes the resolved backend for layers that manage their
// own on-disk format, bypassing the envelope.
func (s *Store) backendDirect(kind BackendKind) persist.Backend {
	b, _ := s.backendFor(kind)
	return b
}

// peekValue decodes the current plain value under key for change
// notifications. Encrypted and unreadable entries yield nil; the peek never
// fails the surrounding operation.
func (s *Store) peekValue(backend persist.Backend, key string) interface{} {
	data, found, err := backend.Get(s.namespacedKey(key))
	if err != nil || !found {
		return nil
	}
	var env Envelope
	if json.Unmarshal(data, &env) != nil || env.Encrypted {
		return nil
	}
	var value interface{}
	if json.Unmarshal(env.Value, &value) != nil {
		return nil
	}
	return value
}

// writeCompatFlag writes one of the legacy plain flags: unnamespaced,
// unencrypted, no envelope. Failures are logged and swallowed; legacy
// readers are best-effort.
func (s *Store) writeCompatFlag(kind BackendKind, name, value string) {
	backend, _ := s.backendFor(kind)
	if err := backend.Set(name, []byte(value)); err != nil {
		log.Printf("store: failed to write compat flag %s: %v", name, err)
	}
}

// clearCompatFlags removes the entire closed legacy flag set from the
// selected backends.
func (s *Store) clearCompatFlags(kinds ...BackendKind) {
	for _, kind := range kinds {
		backend, _ := s.backendFor(kind)
		for _, name := range LegacyCompatFlags {
			if err := backend.Delete(name); err != nil {
				log.Printf("store: failed to clear compat flag %s: %v", name, err)
			}
		}
	}
}

func (s *Store) logAudit(action string, success bool, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if _, ok := metadata["request_id"]; !ok {
		metadata["request_id"] = uuid.NewString()
	}
	if err := s.audit.Log(action, success, metadata); err != nil {
		log.Printf("store: audit log failed for %s: %v", action, err)
	}
}
