package persist

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
)

// s3TestEndpoint starts a MinIO container unless S3_MINIO_ENDPOINT points at
// an existing instance. Returns "" when neither is possible.
func s3TestEndpoint(t *testing.T) string {
	t.Helper()

	if endpoint := os.Getenv("S3_MINIO_ENDPOINT"); endpoint != "" {
		return strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available for MinIO container: %v", err)
		return ""
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate MinIO container: %v", err)
		}
	})

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("localhost:%s", port.Port())
}

func TestS3Backend(t *testing.T) {
	endpoint := s3TestEndpoint(t)

	backend, err := NewS3Backend(S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
		Bucket:          "strata-test",
		KeyPrefix:       "client-state",
	})
	require.NoError(t, err)
	defer backend.Close()

	testBackendImplementation(t, backend)

	t.Run("PrefixIsolation", func(t *testing.T) {
		other, err := NewS3Backend(S3Config{
			Endpoint:        endpoint,
			AccessKeyID:     testAccessKey,
			SecretAccessKey: testSecretKey,
			Bucket:          "strata-test",
			KeyPrefix:       "other-app",
		})
		require.NoError(t, err)
		defer other.Close()

		require.NoError(t, other.Set("isolated", []byte("x")))

		_, found, err := backend.Get("isolated")
		require.NoError(t, err)
		assert.False(t, found, "prefixes must not see each other's objects")

		keys, err := backend.Keys()
		require.NoError(t, err)
		assert.NotContains(t, keys, "isolated")
	})

	t.Run("FactoryConstruction", func(t *testing.T) {
		fromFactory, err := NewBackend(Config{
			Type: BackendTypeS3,
			Config: map[string]interface{}{
				"endpoint":          endpoint,
				"access_key_id":     testAccessKey,
				"secret_access_key": testSecretKey,
				"bucket":            "strata-test",
			},
		})
		require.NoError(t, err)
		defer fromFactory.Close()
		assert.Equal(t, string(BackendTypeS3), fromFactory.GetType())
	})
}
