package strata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/ProofOfReach/strata/internal/crypto"
	"github.com/ProofOfReach/strata/internal/debug"
	"github.com/ProofOfReach/strata/internal/mem"
)

func init() {
	// Purge sensitive buffers if the process is interrupted.
	memguard.CatchInterrupt()
}

// ErrNotInitialized is returned by vault mutations before Initialize has
// bound an identity key for the pubkey.
var ErrNotInitialized = errors.New("vault: identity not initialized")

// InteractionAction classifies a logged ad interaction.
type InteractionAction string

const (
	ActionView  InteractionAction = "view"
	ActionClick InteractionAction = "click"
)

// AdInteraction is one entry in an identity's interaction log.
type AdInteraction struct {
	AdID       string            `json:"ad_id"`
	Action     InteractionAction `json:"action"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// VaultStats summarizes an identity's interaction log.
type VaultStats struct {
	TotalInteractions int   `json:"totalInteractions"`
	UniqueAds         int   `json:"uniqueAds"`
	Views             int   `json:"views"`
	Clicks            int   `json:"clicks"`
	TotalDurationMS   int64 `json:"totalDurationMs"`
}

// KeyProvider supplies the secret material an identity key is derived
// from, typically the user's signing key obtained from a NIP-07 style
// signer. The material is consumed and wiped immediately after derivation.
type KeyProvider func(ctx context.Context) ([]byte, error)

type vaultIdentity struct {
	mu  sync.Mutex
	key *memguard.Enclave
}

// InteractionVault keeps a per-identity, encrypted log of ad interactions
// on the durable backend. Each identity's log is sealed with a key derived
// from material the identity's KeyProvider supplies; the derived key lives
// only in a guarded enclave and the plaintext log never touches storage.
//
// Reads fail open (empty results) and writes fail closed, matching the
// rest of the store's no-escaping-errors contract: the one sentinel a
// caller must handle is ErrNotInitialized.
type InteractionVault struct {
	store *Store

	mu         sync.RWMutex
	identities map[string]*vaultIdentity
}

// NewInteractionVault creates a vault over store. Working pages are locked
// into RAM where the platform permits; partial or denied locking degrades
// with a log line rather than an error.
func NewInteractionVault(store *Store) *InteractionVault {
	level, err := mem.Lock()
	if err != nil {
		log.Printf("vault: memory locking unavailable: %v", err)
	} else if level != mem.ProtectionFull {
		log.Printf("vault: memory protection level: %s", level)
	}

	return &InteractionVault{
		store:      store,
		identities: make(map[string]*vaultIdentity),
	}
}

// Initialize derives and caches the identity key for pubkey from the
// provider's material. Initializing an already-unlocked identity re-derives
// the key, which is a no-op for identical material.
func (v *InteractionVault) Initialize(ctx context.Context, pubkey string, provider KeyProvider) error {
	if pubkey == "" {
		return fmt.Errorf("vault: pubkey is required")
	}
	if provider == nil {
		return fmt.Errorf("vault: key provider is required")
	}

	material, err := provider(ctx)
	if err != nil {
		v.store.logAudit("vault_initialize", false, map[string]interface{}{
			"pubkey": pubkey, "error": err.Error(),
		})
		return fmt.Errorf("vault: obtaining key material: %w", err)
	}
	defer memguard.WipeBytes(material)

	enclave, err := crypto.DeriveIdentityKey(material, pubkey)
	if err != nil {
		v.store.logAudit("vault_initialize", false, map[string]interface{}{
			"pubkey": pubkey, "error": err.Error(),
		})
		return fmt.Errorf("vault: deriving identity key: %w", err)
	}

	debug.Print("vault: derived identity key for %s", pubkey)

	identity := v.identity(pubkey, true)
	identity.mu.Lock()
	identity.key = enclave
	identity.mu.Unlock()

	v.store.logAudit("vault_initialize", true, map[string]interface{}{"pubkey": pubkey})
	return nil
}

// Unlocked reports whether the identity's key is available in this process.
func (v *InteractionVault) Unlocked(pubkey string) bool {
	identity := v.identity(pubkey, false)
	if identity == nil {
		return false
	}
	identity.mu.Lock()
	defer identity.mu.Unlock()
	return identity.key != nil
}

// LogInteraction appends one interaction to the identity's sealed log. A
// zero Timestamp is stamped with the store clock. Appends serialize per
// identity so concurrent read-modify-write cycles cannot lose entries.
func (v *InteractionVault) LogInteraction(pubkey string, interaction AdInteraction) error {
	identity := v.identity(pubkey, false)
	if identity == nil {
		return ErrNotInitialized
	}

	identity.mu.Lock()
	defer identity.mu.Unlock()
	if identity.key == nil {
		return ErrNotInitialized
	}

	if interaction.AdID == "" {
		return fmt.Errorf("vault: ad id is required")
	}
	if interaction.Action != ActionView && interaction.Action != ActionClick {
		return fmt.Errorf("vault: unknown action %q", interaction.Action)
	}
	if interaction.DurationMS < 0 {
		return fmt.Errorf("vault: duration must not be negative")
	}
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = v.store.clock.Now()
	}

	entries, err := v.readLog(identity, pubkey)
	if err != nil {
		// Seal over a fresh log rather than losing the write, but
		// record the corruption.
		v.store.logAudit("vault_log", false, map[string]interface{}{
			"pubkey": pubkey, "error": fmt.Sprintf("unreadable log reset: %v", err),
		})
		entries = nil
	}
	entries = append(entries, interaction)

	if err = v.writeLog(identity, pubkey, entries); err != nil {
		v.store.logAudit("vault_log", false, map[string]interface{}{
			"pubkey": pubkey, "error": err.Error(),
		})
		return err
	}

	v.store.logAudit("vault_log", true, map[string]interface{}{
		"pubkey": pubkey, "ad_id": interaction.AdID, "action": string(interaction.Action),
	})
	return nil
}

// Interactions returns the identity's decrypted log in append order. A
// locked identity or undecipherable log yields an empty slice.
func (v *InteractionVault) Interactions(pubkey string) []AdInteraction {
	identity := v.identity(pubkey, false)
	if identity == nil {
		return []AdInteraction{}
	}

	identity.mu.Lock()
	defer identity.mu.Unlock()
	if identity.key == nil {
		return []AdInteraction{}
	}

	entries, err := v.readLog(identity, pubkey)
	if err != nil {
		v.store.logAudit("vault_read", false, map[string]interface{}{
			"pubkey": pubkey, "error": err.Error(),
		})
		return []AdInteraction{}
	}
	if entries == nil {
		entries = []AdInteraction{}
	}
	return entries
}

// Stats computes summary counters over the identity's log.
func (v *InteractionVault) Stats(pubkey string) VaultStats {
	interactions := v.Interactions(pubkey)

	stats := VaultStats{TotalInteractions: len(interactions)}
	ads := make(map[string]struct{})
	for _, in := range interactions {
		ads[in.AdID] = struct{}{}
		switch in.Action {
		case ActionView:
			stats.Views++
		case ActionClick:
			stats.Clicks++
		}
		stats.TotalDurationMS += in.DurationMS
	}
	stats.UniqueAds = len(ads)
	return stats
}

// Export serializes the identity's log for the user to take with them.
func (v *InteractionVault) Export(pubkey string) ([]byte, error) {
	if !v.Unlocked(pubkey) {
		return nil, ErrNotInitialized
	}

	export := struct {
		Pubkey       string          `json:"pubkey"`
		Interactions []AdInteraction `json:"interactions"`
		ExportedAt   time.Time       `json:"exportedAt"`
		Version      int             `json:"version"`
	}{
		Pubkey:       pubkey,
		Interactions: v.Interactions(pubkey),
		ExportedAt:   v.store.clock.Now(),
		Version:      1,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("vault: serializing export: %w", err)
	}

	v.store.logAudit("vault_export", true, map[string]interface{}{
		"pubkey": pubkey, "count": len(export.Interactions),
	})
	return data, nil
}

// Clear deletes the identity's stored log and drops the cached key. The
// identity must be re-initialized before logging again.
func (v *InteractionVault) Clear(pubkey string) error {
	identity := v.identity(pubkey, false)
	if identity == nil {
		return ErrNotInitialized
	}

	identity.mu.Lock()
	defer identity.mu.Unlock()
	if identity.key == nil {
		return ErrNotInitialized
	}

	if err := v.store.backendDirect(Durable).Delete(v.logKey(pubkey)); err != nil {
		v.store.logAudit("vault_clear", false, map[string]interface{}{
			"pubkey": pubkey, "error": err.Error(),
		})
		return fmt.Errorf("vault: clearing log: %w", err)
	}
	identity.key = nil

	v.store.logAudit("vault_clear", true, map[string]interface{}{"pubkey": pubkey})
	return nil
}

func (v *InteractionVault) identity(pubkey string, create bool) *vaultIdentity {
	v.mu.RLock()
	identity := v.identities[pubkey]
	v.mu.RUnlock()
	if identity != nil || !create {
		return identity
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if identity = v.identities[pubkey]; identity == nil {
		identity = &vaultIdentity{}
		v.identities[pubkey] = identity
	}
	return identity
}

func (v *InteractionVault) logKey(pubkey string) string {
	return v.store.namespacedKey(KeyVaultPrefix + pubkey)
}

// readLog decrypts the stored log. Caller holds the identity lock.
func (v *InteractionVault) readLog(identity *vaultIdentity, pubkey string) ([]AdInteraction, error) {
	data, found, err := v.store.backendDirect(Durable).Get(v.logKey(pubkey))
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	if !found {
		return nil, nil
	}

	key, err := identity.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening identity key: %w", err)
	}
	defer key.Destroy()

	plaintext, err := crypto.DecryptValue(data, key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decrypting log: %w", err)
	}

	var entries []AdInteraction
	if err = json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("parsing log: %w", err)
	}
	debug.Print("vault: read %d log entries for %s", len(entries), pubkey)
	return entries, nil
}

// writeLog seals and stores the log. Caller holds the identity lock.
func (v *InteractionVault) writeLog(identity *vaultIdentity, pubkey string, entries []AdInteraction) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("serializing log: %w", err)
	}

	key, err := identity.key.Open()
	if err != nil {
		return fmt.Errorf("opening identity key: %w", err)
	}
	defer key.Destroy()

	sealed, err := crypto.EncryptValue(plaintext, key.Bytes())
	if err != nil {
		return fmt.Errorf("sealing log: %w", err)
	}

	if err = v.store.backendDirect(Durable).Set(v.logKey(pubkey), sealed); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	debug.Print("vault: sealed %d log entries for %s (%d bytes)", len(entries), pubkey, len(sealed))
	return nil
}
