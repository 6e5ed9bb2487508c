package persist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBackend(t *testing.T) {
	backend, err := NewSessionBackend()
	require.NoError(t, err)
	defer backend.Close()

	testBackendImplementation(t, backend)
}

func TestSessionBackendWipedOnClose(t *testing.T) {
	backend, err := NewSessionBackend()
	require.NoError(t, err)

	require.NoError(t, backend.Set("ephemeral", []byte("gone soon")))
	dir := backend.Dir()
	if _, err = os.Stat(dir); err != nil {
		t.Fatalf("session directory missing while open: %v", err)
	}

	require.NoError(t, backend.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "session directory should be removed on close")

	// A closed session refuses further use.
	assert.Error(t, backend.Ping())
	assert.Error(t, backend.Set("late", []byte("x")))
}

func TestSessionBackendsAreIsolated(t *testing.T) {
	a, err := NewSessionBackend()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSessionBackend()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set("k", []byte("a")))

	_, found, err := b.Get("k")
	require.NoError(t, err)
	assert.False(t, found, "sessions must not share state")
}
