package strata

// DefaultNamespace is the key namespace used when Options.Namespace is
// empty. Every persisted key has the form "{namespace}_{logicalKey}".
const DefaultNamespace = "por"

// Logical keys owned by the store's services. This is a closed set: renaming
// a logical key is a breaking migration for persisted data, so additions go
// here and removals require a migration note.
const (
	// Role state (durable)
	KeyRoleState = "roleState"

	// Test-mode session state (session backend, encrypted)
	KeyTestMode = "testMode"

	// Auth/session keys
	KeyAuthToken = "authToken"
	KeySessionID = "sessionId"

	// User preferences and caches
	KeyPreferences = "preferences"
	KeyCache       = "cache"

	// Debug flags
	KeyDebugFlags = "debugFlags"

	// KeyVaultPrefix prefixes the per-identity interaction vault entries;
	// the identity public key is appended.
	KeyVaultPrefix = "vaultInteractions_"
)

// Legacy compatibility flags: plain, unnamespaced, unencrypted keys written
// alongside the main state for readers that predate the namespaced store.
// The set is closed; disable paths must clear exactly these keys so stale
// state cannot be resurrected by old code paths.
const (
	LegacyTestModeFlag     = "isTestMode"
	LegacyTestModeExpiry   = "testModeExpiry"
	LegacyCurrentRole      = "userRole"
	LegacyForceRoleRefresh = "force_role_refresh"
	LegacyBypassAPICalls   = "bypass_api_calls"
)

// LegacyCompatFlags lists every legacy flag the store may write.
var LegacyCompatFlags = []string{
	LegacyTestModeFlag,
	LegacyTestModeExpiry,
	LegacyCurrentRole,
	LegacyForceRoleRefresh,
	LegacyBypassAPICalls,
}
