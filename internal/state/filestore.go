package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists one JSON document per stack under a state directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// DefaultStateDir returns the per-user state directory.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home dir: %w", err)
	}
	return filepath.Join(home, ".stacktier", "state"), nil
}

func (s *FileStore) path(stack string) string {
	return filepath.Join(s.dir, stack+".json")
}

func (s *FileStore) lockPath(stack string) string {
	return filepath.Join(s.dir, stack+".lock")
}

// Load implements Store. Documents with an unknown schema version are
// rejected rather than partially decoded.
func (s *FileStore) Load(_ context.Context, stack string) (*DeploymentState, error) {
	data, err := os.ReadFile(s.path(stack))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", stack, err)
	}

	// Peek at the version before decoding the full document.
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse state for %s: %w", stack, err)
	}
	if header.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, header.SchemaVersion, SchemaVersion)
	}

	var st DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", stack, err)
	}
	return &st, nil
}

// Save implements Store with an atomic write (temp file + rename) so a
// crash mid-write never leaves a truncated document.
func (s *FileStore) Save(_ context.Context, st *DeploymentState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", st.Stack, err)
	}

	tmp, err := os.CreateTemp(s.dir, st.Stack+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state for %s: %w", st.Stack, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(st.Stack)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to persist state for %s: %w", st.Stack, err)
	}
	return nil
}

// Lock implements Store using an exclusively created lock file keyed by
// stack name. A stale lock (crashed run) must be removed manually; the
// error names the file.
func (s *FileStore) Lock(_ context.Context, stack string) (func(), error) {
	path := s.lockPath(stack)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w (lock file: %s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", stack, err)
	}
	fmt.Fprintf(f, "pid=%d\n", os.Getpid())
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}
