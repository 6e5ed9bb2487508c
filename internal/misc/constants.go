package misc

const (
	// DefaultItemVersion is the envelope version written when the caller
	// does not specify one.
	DefaultItemVersion = 1

	// PBKDF2Iterations is the work factor for codec key derivation.
	PBKDF2Iterations = 100_000

	// Argon2 parameters for identity key derivation.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// SaltSize is the per-write salt length used by the codec.
	SaltSize = 16

	// KeyLen is the symmetric key length in bytes.
	KeyLen = 32

	FilePermissions = 0600 // user read + write
)
