package persist

import (
	"fmt"
	"os"
	"sync"
)

// SessionBackend implements Backend with session-scoped lifetime: data lives
// in a freshly created private directory and is wiped when the backend is
// closed. Each construction starts an empty session; nothing from a previous
// process run is visible.
//
// This mirrors session-scoped browser storage, where a new execution context
// never observes another session's entries.
type SessionBackend struct {
	*FileBackend

	dir    string
	mu     sync.Mutex
	closed bool
}

// NewSessionBackend creates a session backend rooted at a new private
// temporary directory.
func NewSessionBackend() (*SessionBackend, error) {
	dir, err := os.MkdirTemp("", "strata-session-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	fb, err := NewFileBackend(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &SessionBackend{FileBackend: fb, dir: dir}, nil
}

// Dir returns the session's private directory.
func (sb *SessionBackend) Dir() string {
	return sb.dir
}

// Close ends the session and removes every stored entry.
func (sb *SessionBackend) Close() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.closed {
		return nil
	}
	sb.closed = true

	if err := os.RemoveAll(sb.dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}

func (sb *SessionBackend) Ping() error {
	sb.mu.Lock()
	closed := sb.closed
	sb.mu.Unlock()

	if closed {
		return fmt.Errorf("session backend is closed")
	}
	return sb.FileBackend.Ping()
}

func (sb *SessionBackend) GetType() string {
	return string(BackendTypeSession)
}
