package persist

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackendImplementation exercises the Backend contract against any
// implementation. The per-backend tests wire their instance through here.
func testBackendImplementation(t *testing.T, backend Backend) {
	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, backend.Ping(), "backend should be reachable")
	})

	t.Run("GetType", func(t *testing.T) {
		assert.NotEmpty(t, backend.GetType())
	})

	t.Run("GetMissing", func(t *testing.T) {
		data, found, err := backend.Get("no-such-key")
		require.NoError(t, err, "missing keys are not errors")
		assert.False(t, found)
		assert.Nil(t, data)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		payload := []byte(`{"value":"hello"}`)
		require.NoError(t, backend.Set("contract-key", payload))

		data, found, err := backend.Get("contract-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, payload, data)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, backend.Set("contract-key", []byte("v1")))
		require.NoError(t, backend.Set("contract-key", []byte("v2")))

		data, found, err := backend.Get("contract-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("v2"), data)
	})

	t.Run("AwkwardKeys", func(t *testing.T) {
		// Namespaced keys, path separators and unicode must all survive
		// whatever encoding the backend applies.
		keys := []string{
			"por_roleState",
			"por_vaultInteractions_npub1abc",
			"with/slash",
			"with space",
			"ünïcødé",
		}
		for _, key := range keys {
			require.NoError(t, backend.Set(key, []byte(key)), "key %q", key)
		}
		for _, key := range keys {
			data, found, err := backend.Get(key)
			require.NoError(t, err, "key %q", key)
			require.True(t, found, "key %q", key)
			assert.Equal(t, []byte(key), data, "key %q", key)
		}
		for _, key := range keys {
			require.NoError(t, backend.Delete(key))
		}
	})

	t.Run("KeysAndLen", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, backend.Set(fmt.Sprintf("listed-%d", i), []byte("x")))
		}

		keys, err := backend.Keys()
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.Contains(t, keys, fmt.Sprintf("listed-%d", i))
		}

		n, err := backend.Len()
		require.NoError(t, err)
		assert.Equal(t, len(keys), n)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Set("doomed", []byte("x")))
		require.NoError(t, backend.Delete("doomed"))

		_, found, err := backend.Get("doomed")
		require.NoError(t, err)
		assert.False(t, found)

		// Deleting an absent key is idempotent.
		assert.NoError(t, backend.Delete("doomed"))
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("concurrent-%d", i)
				assert.NoError(t, backend.Set(key, []byte(key)))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 8; i++ {
			key := fmt.Sprintf("concurrent-%d", i)
			data, found, err := backend.Get(key)
			require.NoError(t, err)
			require.True(t, found, "key %q", key)
			assert.Equal(t, []byte(key), data)
		}
	})
}

func TestProbe(t *testing.T) {
	t.Run("HealthyBackend", func(t *testing.T) {
		backend := NewMemoryBackend()
		assert.NoError(t, Probe(backend))

		// The sentinel does not linger.
		n, err := backend.Len()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("NilBackend", func(t *testing.T) {
		err := Probe(nil)
		var unavailable *UnavailableError
		assert.ErrorAs(t, err, &unavailable)
	})

	t.Run("ClosedBackend", func(t *testing.T) {
		backend, err := NewSessionBackend()
		require.NoError(t, err)
		require.NoError(t, backend.Close())

		err = Probe(backend)
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.NotNil(t, errors.Unwrap(unavailable))
	})
}
