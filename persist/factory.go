package persist

import "fmt"

// NewBackend factory function to create storage backends from configuration.
func NewBackend(config Config) (Backend, error) {
	switch config.Type {
	case BackendTypeFile:
		return NewFileBackendFromConfig(config)

	case BackendTypeSession:
		return NewSessionBackend()

	case BackendTypeMemory:
		return NewMemoryBackend(), nil

	case BackendTypeS3:
		return NewS3BackendFromConfig(config)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
