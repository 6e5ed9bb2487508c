package strata

import (
	"fmt"
	"time"

	"github.com/ProofOfReach/strata/persist"
)

// DefaultTestModeDuration is the canonical test-mode session length used
// when Enable is called with a zero duration.
const DefaultTestModeDuration = 4 * time.Hour

// Options configures a Store and the services built on it.
//
// The zero value is usable: it yields the default namespace, the durable
// backend as default target, the process-shared memory fallback, the system
// clock and test mode disallowed.
type Options struct {
	// Namespace prefixes every persisted key ("{namespace}_{key}").
	// A store instance never reads or deletes keys outside its namespace.
	Namespace string

	// DefaultBackend is the backend targeted when a call does not select
	// one explicitly. Defaults to Durable.
	DefaultBackend BackendKind

	// DefaultSecret, when set, is used to encrypt items whose SetOptions
	// request encryption without supplying their own secret. Leaving it
	// empty falls through to the codec's fixed fallback key, which is
	// acceptable only for non-sensitive data.
	DefaultSecret string

	// StrictDecrypt makes decryption failures surface as *DecryptionError
	// instead of degrading to the raw payload.
	StrictDecrypt bool

	// AllowTestMode gates the elevated test-mode session. Callers set it
	// from their environment check; it must never be true in production.
	AllowTestMode bool

	// TestModeDuration overrides DefaultTestModeDuration.
	TestModeDuration time.Duration

	// Clock supplies time; nil means SystemClock().
	Clock Clock

	// Memory is the in-memory fallback backend. Passing the same instance
	// to several stores makes them share fallback state; nil selects the
	// process-wide persist.SharedMemory().
	Memory *persist.MemoryBackend
}

func validateOptions(o *Options) error {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	for _, c := range o.Namespace {
		if c == '_' {
			return fmt.Errorf("namespace must not contain '_': %q", o.Namespace)
		}
	}
	switch o.DefaultBackend {
	case "":
		o.DefaultBackend = Durable
	case Durable, Session, Memory:
	default:
		return fmt.Errorf("unknown default backend: %q", o.DefaultBackend)
	}
	if o.TestModeDuration < 0 {
		return fmt.Errorf("test mode duration must not be negative")
	}
	if o.TestModeDuration == 0 {
		o.TestModeDuration = DefaultTestModeDuration
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Memory == nil {
		o.Memory = persist.SharedMemory()
	}
	return nil
}
