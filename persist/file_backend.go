package persist

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	itemExtension = ".item"
)

// FileBackend implements Backend on the local filesystem. Each key is stored
// as its own file under the base path, so individual writes and deletes never
// touch unrelated entries. Writes go through a temp file and rename to stay
// atomic on the same filesystem.
type FileBackend struct {
	basePath string
	tempDir  string
}

// NewFileBackend initializes and returns a new FileBackend rooted at basePath.
// The directory is created if it does not exist.
func NewFileBackend(basePath string) (*FileBackend, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	fb := &FileBackend{
		basePath: basePath,
		tempDir:  filepath.Join(basePath, ".tmp"),
	}

	for _, dir := range []string{fb.basePath, fb.tempDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return fb, nil
}

// NewFileBackendFromConfig creates a FileBackend from a Config.
func NewFileBackendFromConfig(config Config) (*FileBackend, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for file backend")
	}
	return NewFileBackend(basePath)
}

func (fb *FileBackend) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(fb.pathFor(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return data, true, nil
}

func (fb *FileBackend) Set(key string, data []byte) error {
	return writeSecureFile(fb.tempDir, fb.pathFor(key), data, FilePermissions)
}

func (fb *FileBackend) Delete(key string) error {
	err := os.Remove(fb.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (fb *FileBackend) Keys() ([]string, error) {
	entries, err := os.ReadDir(fb.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), itemExtension) {
			continue
		}
		key, err := decodeKey(strings.TrimSuffix(entry.Name(), itemExtension))
		if err != nil {
			// Foreign file in the data directory, not ours to report.
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (fb *FileBackend) Len() (int, error) {
	keys, err := fb.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (fb *FileBackend) Ping() error {
	info, err := os.Stat(fb.basePath)
	if err != nil {
		return fmt.Errorf("base path not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path %s is not a directory", fb.basePath)
	}
	return nil
}

func (fb *FileBackend) Close() error {
	return nil
}

func (fb *FileBackend) GetType() string {
	return string(BackendTypeFile)
}

func (fb *FileBackend) pathFor(key string) string {
	return filepath.Join(fb.basePath, encodeKey(key)+itemExtension)
}

// encodeKey maps an arbitrary key to a filesystem-safe file name. Keys are
// base64url-encoded so that namespace separators, pubkeys and user-provided
// strings can never escape the base directory.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("not a backend item: %w", err)
	}
	return string(raw), nil
}

// writeSecureFile writes data to path atomically: the content is written to a
// temp file in tempDir, synced, then renamed into place.
func writeSecureFile(tempDir, path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(tempDir, "write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err = tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync data: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
