// Package events provides the in-process notification bus for strata.
// Storage, role, test-mode and vault services publish change events here;
// UI-facing consumers subscribe to react to state changes without polling.
package events

import (
	"time"
)

// Type classifies the kind of event.
type Type string

const (
	// Storage events
	StorageChanged  Type = "storage:changed"
	StorageCleared  Type = "storage:cleared"
	StorageMigrated Type = "storage:migrated"

	// Role events
	RoleChanged  Type = "role:changed"
	RolesUpdated Type = "role:roles-updated"

	// Test-mode events
	TestModeActivated   Type = "testmode:activated"
	TestModeDeactivated Type = "testmode:deactivated"
)

// Event is the unit published on the bus. Payload holds one of the typed
// payload structs below, matched to Type.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// StorageChangedPayload accompanies StorageChanged. NewValue and OldValue
// carry the decoded item values; OldValue is nil when the key was absent.
type StorageChangedPayload struct {
	Key       string      `json:"key"`
	NewValue  interface{} `json:"newValue"`
	OldValue  interface{} `json:"oldValue"`
	Backend   string      `json:"backend"`
	Namespace string      `json:"namespace"`
}

// StorageClearedPayload accompanies StorageCleared.
type StorageClearedPayload struct {
	Backend   string   `json:"backend"`
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
}

// StorageMigratedPayload accompanies StorageMigrated.
type StorageMigratedPayload struct {
	Key        string `json:"key"`
	OldVersion int    `json:"oldVersion"`
	NewVersion int    `json:"newVersion"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RoleChangedPayload accompanies RoleChanged.
type RoleChangedPayload struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	AvailableRoles []string `json:"availableRoles"`
}

// RolesUpdatedPayload accompanies RolesUpdated.
type RolesUpdatedPayload struct {
	AvailableRoles []string `json:"availableRoles"`
	CurrentRole    string   `json:"currentRole"`
}

// TestModeActivatedPayload accompanies TestModeActivated.
type TestModeActivatedPayload struct {
	ExpiryTime  time.Time `json:"expiryTime"`
	InitialRole string    `json:"initialRole"`
}

// TestModeDeactivatedPayload accompanies TestModeDeactivated. Deliberately
// empty; the event itself is the signal.
type TestModeDeactivatedPayload struct{}

// Handler processes events as they are published.
type Handler func(Event)
