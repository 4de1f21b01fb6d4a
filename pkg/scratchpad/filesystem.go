// Package scratchpad implements the three-files working memory of a
// session: task_plan (the stable plan), findings (accumulated evidence)
// and progress (an append-only log that keeps the failures).
//
// Storage goes through the Filesystem interface so sessions can be backed
// by a directory, an in-memory map in tests, or anything else. Paths are
// opaque strings; the runtime never interprets them.
package scratchpad

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Filesystem is the opaque storage collaborator consumed by the runtime.
// List returns the paths under a prefix, sorted.
type Filesystem interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Exists(path string) bool
	List(prefix string) ([]string, error)
	Remove(path string) error
}

// LocalFS stores blobs under a root directory, creating parent directories
// as needed.
type LocalFS struct {
	root string
}

// NewLocalFS creates a filesystem rooted at dir.
func NewLocalFS(dir string) (*LocalFS, error) {
	if dir == "" {
		return nil, fmt.Errorf("root directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFS{root: dir}, nil
}

func (fs *LocalFS) resolve(path string) string {
	return filepath.Join(fs.root, filepath.Clean("/"+path))
}

func (fs *LocalFS) Read(path string) ([]byte, error) {
	return os.ReadFile(fs.resolve(path))
}

func (fs *LocalFS) Write(path string, data []byte) error {
	full := fs.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}

func (fs *LocalFS) Exists(path string) bool {
	_, err := os.Stat(fs.resolve(path))
	return err == nil
}

func (fs *LocalFS) List(prefix string) ([]string, error) {
	dir := fs.resolve(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(filepath.Clean("/"+prefix), entry.Name())[1:])
	}
	sort.Strings(paths)
	return paths, nil
}

func (fs *LocalFS) Remove(path string) error {
	return os.Remove(fs.resolve(path))
}

// MemFS is an in-memory Filesystem for tests.
type MemFS struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{blobs: make(map[string][]byte)}
}

func (fs *MemFS) Read(path string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.blobs[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (fs *MemFS) Write(path string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	fs.blobs[path] = stored
	return nil
}

func (fs *MemFS) Exists(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.blobs[path]
	return ok
}

func (fs *MemFS) List(prefix string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var paths []string
	for path := range fs.blobs {
		if strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (fs *MemFS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.blobs[path]; !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	delete(fs.blobs, path)
	return nil
}
