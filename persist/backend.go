package persist

import (
	"fmt"
	"time"
)

// Backend defines the interface for raw key/value persistence underneath the
// strata store. All data passed to this interface is assumed to be already
// serialized (and, where required, encrypted) by the store layer; a backend
// only moves opaque bytes.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {

	// Get retrieves the raw bytes stored under key. The boolean reports
	// whether the key was present; absence is not an error.
	Get(key string) ([]byte, bool, error)

	// Set stores data under key, overwriting any previous value.
	Set(key string, data []byte) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string) error

	// Keys returns every key currently held by the backend, in no
	// particular order.
	Keys() ([]string, error)

	// Len reports the number of keys held.
	Len() (int, error)

	// Ping tests that the backend is reachable and writable.
	Ping() error

	// Close releases any resources the backend holds. For session-scoped
	// backends this also discards all stored data.
	Close() error

	// GetType retrieves the type of backend being used, e.g. "file",
	// "session", "memory" or "s3".
	GetType() string
}

// BackendType represents the different kinds of storage backends that can be
// constructed through the factory.
type BackendType string

const (
	// BackendTypeFile stores one file per key under a base directory and
	// survives process restarts.
	BackendTypeFile BackendType = "file"

	// BackendTypeSession stores data in a per-session directory that is
	// wiped when the backend is closed.
	BackendTypeSession BackendType = "session"

	// BackendTypeMemory holds data in process memory only.
	BackendTypeMemory BackendType = "memory"

	// BackendTypeS3 stores objects in an S3-compatible bucket via the
	// MinIO client.
	BackendTypeS3 BackendType = "s3"
)

// Config provides configuration for the different storage backends.
//
// Example:
//
//	config := persist.Config{
//	    Type:   persist.BackendTypeFile,
//	    Config: map[string]interface{}{"base_path": "/var/lib/strata"},
//	}
type Config struct {
	// Type specifies the backend to be used. Must be one of the
	// BackendType constants.
	Type BackendType `json:"type"`

	// Config contains settings specific to the chosen backend, e.g.
	// "base_path" for file backends or "endpoint"/"bucket" for S3.
	Config map[string]interface{} `json:"config"`
}

// UnavailableError reports that a backend failed its availability probe.
// The store layer treats this as a signal to fall back to memory storage
// rather than as a fatal condition.
type UnavailableError struct {
	BackendType string
	Op          string
	Err         error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable during %s: %v", e.BackendType, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Probe verifies that a backend accepts writes by storing and removing a
// sentinel key. The sentinel embeds a timestamp so that overlapping probes
// from multiple store instances do not collide.
func Probe(b Backend) error {
	if b == nil {
		return &UnavailableError{BackendType: "nil", Op: "probe", Err: fmt.Errorf("no backend configured")}
	}
	sentinel := fmt.Sprintf("__strata_probe_%d", time.Now().UnixNano())
	if err := b.Set(sentinel, []byte("1")); err != nil {
		return &UnavailableError{BackendType: b.GetType(), Op: "probe write", Err: err}
	}
	if err := b.Delete(sentinel); err != nil {
		return &UnavailableError{BackendType: b.GetType(), Op: "probe delete", Err: err}
	}
	return nil
}
