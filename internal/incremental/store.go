package incremental

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a StateStore that has no state for a key.
var ErrNotFound = errors.New("state not found")

// StateStore persists execution states by key. Implementations must replace
// a key's state atomically and be safe for use by several processes that
// share the same location; the Executor serializes access per key.
type StateStore interface {
	// Load returns ErrNotFound when no state exists. Any other error means
	// the state exists but is unreadable.
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, key string, s *State) error
	Delete(ctx context.Context, key string) error
}

// FileStateStore keeps one JSON document per key:
//
//	<dir>/<key>.json
//
// Writes are atomic and durable (file sync, rename, directory sync).
type FileStateStore struct {
	dir string
}

func NewFileStateStore(dir string) (*FileStateStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStateStore) Load(ctx context.Context, key string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeState(data)
}

func (s *FileStateStore) Save(ctx context.Context, key string, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := writeFileAtomicDurable(s.path(key), data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *FileStateStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func encodeState(st *State) ([]byte, error) {
	if err := st.validate(); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(b, '\n'), nil
}

// decodeState rejects unknown fields, trailing content and states that do
// not validate.
func decodeState(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var st State
	if err := dec.Decode(&st); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("invalid JSON: trailing content")
	}
	if err := st.validate(); err != nil {
		return nil, fmt.Errorf("invalid state on disk: %w", err)
	}
	return &st, nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
