package strata

import (
	"encoding/json"
	"time"
)

// Envelope is the persisted unit for every stored item. The serialized form
// in the backing store is the JSON encoding of this struct; when the item is
// encrypted, Value holds the base64 codec output as a JSON string and
// Encrypted is true.
//
// Readers must tolerate ExpiresAt and Encrypted being absent: entries
// written before those fields existed carry neither.
type Envelope struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Version   int             `json:"version"`
	Encrypted bool            `json:"encrypted,omitempty"`
}

// Expired reports whether the envelope's expiry has passed. Items without an
// expiry never expire. Detection is lazy: nothing fires at the deadline, the
// next read or sweep is what observes the transition.
func (e *Envelope) Expired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return !now.Before(*e.ExpiresAt)
}

// ExpiryWindow returns the original expiry duration of the item, measured
// from creation. Zero when the item has no expiry.
func (e *Envelope) ExpiryWindow() time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// Refresh restarts the expiry window from now, keeping the original
// duration. No-op for items without an expiry.
func (e *Envelope) Refresh(now time.Time) {
	window := e.ExpiryWindow()
	if window <= 0 {
		return
	}
	e.CreatedAt = now
	expires := now.Add(window)
	e.ExpiresAt = &expires
}
