package persist

import "sync"

// MemoryBackend implements Backend entirely in process memory. It is the
// fallback the store layer uses when no persistent backend is reachable.
//
// Sharing is explicit: multiple store instances observe each other's writes
// only when they are constructed with the same *MemoryBackend. There is no
// module-level global; callers that want process-wide sharing pass one
// instance around (or use persist.SharedMemory).
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string][]byte)}
}

var (
	sharedMemory     *MemoryBackend
	sharedMemoryOnce sync.Once
)

// SharedMemory returns the process-wide memory backend. Intended for callers
// that want several independently constructed stores to share their memory
// fallback within one process lifetime.
func SharedMemory() *MemoryBackend {
	sharedMemoryOnce.Do(func() {
		sharedMemory = NewMemoryBackend()
	})
	return sharedMemory
}

func (mb *MemoryBackend) Get(key string) ([]byte, bool, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	data, ok := mb.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (mb *MemoryBackend) Set(key string, data []byte) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	mb.items[key] = stored
	return nil
}

func (mb *MemoryBackend) Delete(key string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.items, key)
	return nil
}

func (mb *MemoryBackend) Keys() ([]string, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	keys := make([]string, 0, len(mb.items))
	for key := range mb.items {
		keys = append(keys, key)
	}
	return keys, nil
}

func (mb *MemoryBackend) Len() (int, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.items), nil
}

func (mb *MemoryBackend) Ping() error {
	return nil
}

// Close drops all stored entries.
func (mb *MemoryBackend) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.items = make(map[string][]byte)
	return nil
}

func (mb *MemoryBackend) GetType() string {
	return string(BackendTypeMemory)
}
