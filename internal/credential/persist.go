package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Persisted keys. They are stored independently; a missing key means logged out.
const (
	KeyToken = "access_token"
	KeyUser  = "user"
)

// Persister is the durable key/value backing of the credential store.
type Persister interface {
	// Get reports ok=false when key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

var validKey = regexp.MustCompile(`^[a-z_]+$`)

// MemoryPersister keeps credentials for the life of the process.
type MemoryPersister struct {
	mu   sync.Mutex
	data map[string]string
}

var _ Persister = (*MemoryPersister)(nil)

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{data: make(map[string]string)}
}

func (p *MemoryPersister) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return v, ok, nil
}

func (p *MemoryPersister) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = value
	return nil
}

func (p *MemoryPersister) Delete(_ context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.data, k)
	}
	return nil
}

// FilePersister stores one file per key under Dir.
type FilePersister struct {
	Dir string
}

var _ Persister = (*FilePersister)(nil)

func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{Dir: dir}
}

// DefaultDir is ~/.clicker, or .clicker when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clicker"
	}
	return filepath.Join(home, ".clicker")
}

func (p *FilePersister) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid credential key %q", key)
	}
	return filepath.Join(p.Dir, key), nil
}

func (p *FilePersister) Get(_ context.Context, key string) (string, bool, error) {
	path, err := p.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func (p *FilePersister) Set(_ context.Context, key, value string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (p *FilePersister) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		path, err := p.path(k)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
