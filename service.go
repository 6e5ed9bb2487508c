package strata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ProofOfReach/strata/audit"
	"github.com/ProofOfReach/strata/events"
	"github.com/ProofOfReach/strata/persist"
)

// StorageService is the full client-state surface: the keyed store plus the
// role, test-mode and vault services layered over it. Client implements it;
// consumers that only need a slice of the surface should accept a narrower
// interface of their own.
type StorageService interface {
	// Keyed store
	Set(key string, value interface{}, opts *SetOptions) bool
	Get(key string, out interface{}, opts *GetOptions) bool
	SetSecure(key string, value interface{}, secret string, opts *SetOptions) bool
	GetSecure(key string, out interface{}, secret string, opts *GetOptions) bool
	Remove(key string, kind BackendKind) bool
	Clear(kind BackendKind) bool
	Keys(kind BackendKind) []string
	CleanExpired(kind BackendKind) int

	// Roles
	CurrentRole(checkElevated bool) Role
	SetCurrentRole(role Role, availableRoles []Role) bool
	AvailableRoles(checkElevated bool) []Role
	IsRoleAvailable(role Role) bool

	// Test mode
	EnableTestMode(duration time.Duration, initialRole Role, debug bool) bool
	DisableTestMode() bool
	TestModeState() *TestModeState
	TestModeTimeRemaining() (int, bool)

	// Interaction vault
	InitializeVault(ctx context.Context, pubkey string, provider KeyProvider) error
	LogInteraction(pubkey string, interaction AdInteraction) error
	Interactions(pubkey string) []AdInteraction
	VaultStats(pubkey string) VaultStats
	ExportVault(pubkey string) ([]byte, error)

	Events() *events.Bus
	Close() error
}

// ClientConfig configures Open. The zero value stores durable data under
// the user config directory and disables audit logging.
type ClientConfig struct {
	// BasePath is the durable storage root; empty derives a per-namespace
	// directory under os.UserConfigDir.
	BasePath string

	// Durable overrides the durable backend entirely; BasePath is then
	// ignored. Use this for the S3 backend.
	Durable persist.Config

	// Audit enables operation auditing when Audit.Enabled is set.
	Audit audit.Config

	Options Options
}

// Client bundles the store and its services behind one handle.
type Client struct {
	*Store

	Roles    *RoleManager
	TestMode *TestModeService
	Vault    *InteractionVault

	auditLogger audit.Logger
}

var _ StorageService = (*Client)(nil)

// Open builds a fully wired client: durable file (or configured) backend,
// temp-dir session backend, audit logger, and the role, test-mode and vault
// services sharing one store and event bus.
func Open(config ClientConfig) (*Client, error) {
	if err := validateOptions(&config.Options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	durable, err := openDurable(&config)
	if err != nil {
		return nil, err
	}

	session, err := persist.NewSessionBackend()
	if err != nil {
		return nil, fmt.Errorf("creating session backend: %w", err)
	}

	if config.Audit.Namespace == "" {
		config.Audit.Namespace = config.Options.Namespace
	}
	auditLogger, err := audit.NewLogger(&config.Audit)
	if err != nil {
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	store, err := New(config.Options, durable, session, auditLogger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Store:       store,
		auditLogger: auditLogger,
	}
	c.TestMode = NewTestModeService(store)
	c.Roles = NewRoleManager(store, c.TestMode)
	c.Vault = NewInteractionVault(store)
	return c, nil
}

func openDurable(config *ClientConfig) (persist.Backend, error) {
	if config.Durable.Type != "" {
		backend, err := persist.NewBackend(config.Durable)
		if err != nil {
			return nil, fmt.Errorf("creating durable backend: %w", err)
		}
		return backend, nil
	}

	base := config.BasePath
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		base = filepath.Join(dir, "strata", config.Options.Namespace)
	}
	backend, err := persist.NewFileBackend(base)
	if err != nil {
		return nil, fmt.Errorf("creating file backend at %s: %w", base, err)
	}
	return backend, nil
}

// Role service passthroughs.

func (c *Client) CurrentRole(checkElevated bool) Role { return c.Roles.CurrentRole(checkElevated) }

func (c *Client) SetCurrentRole(role Role, availableRoles []Role) bool {
	return c.Roles.SetCurrentRole(role, availableRoles)
}

func (c *Client) AvailableRoles(checkElevated bool) []Role {
	return c.Roles.AvailableRoles(checkElevated)
}

func (c *Client) IsRoleAvailable(role Role) bool { return c.Roles.IsRoleAvailable(role) }

// Test-mode passthroughs.

func (c *Client) EnableTestMode(duration time.Duration, initialRole Role, debug bool) bool {
	return c.TestMode.Enable(duration, initialRole, debug)
}

func (c *Client) DisableTestMode() bool { return c.TestMode.Disable() }

func (c *Client) TestModeState() *TestModeState { return c.TestMode.State() }

func (c *Client) TestModeTimeRemaining() (int, bool) { return c.TestMode.TimeRemaining() }

// Vault passthroughs.

func (c *Client) InitializeVault(ctx context.Context, pubkey string, provider KeyProvider) error {
	return c.Vault.Initialize(ctx, pubkey, provider)
}

func (c *Client) LogInteraction(pubkey string, interaction AdInteraction) error {
	return c.Vault.LogInteraction(pubkey, interaction)
}

func (c *Client) Interactions(pubkey string) []AdInteraction { return c.Vault.Interactions(pubkey) }

func (c *Client) VaultStats(pubkey string) VaultStats { return c.Vault.Stats(pubkey) }

func (c *Client) ExportVault(pubkey string) ([]byte, error) { return c.Vault.Export(pubkey) }

// Close closes the store's backends and the audit logger.
func (c *Client) Close() error {
	err := c.Store.Close()
	if c.auditLogger != nil {
		if aerr := c.auditLogger.Close(); aerr != nil && err == nil {
			err = aerr
		}
	}
	return err
}
