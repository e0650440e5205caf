package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/menta2k/scan-annotator/internal/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileKV stores every key in a single JSON object file.
// Each write rewrites the whole file through an atomic rename.
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV creates a store backed by the JSON file at path
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

// Path returns the backing file path
func (f *FileKV) Path() string {
	return f.path
}

func (f *FileKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.readForWrite()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, corrupt, err := f.readRaw()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok && !corrupt {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

func (f *FileKV) read() (map[string]string, error) {
	values, corrupt, err := f.readRaw()
	if err != nil {
		return nil, err
	}
	if corrupt {
		return nil, fmt.Errorf("%w: failed to parse %s", ErrCorrupt, f.path)
	}
	return values, nil
}

// readForWrite returns the current values; a corrupt file counts as empty so
// the next write replaces it
func (f *FileKV) readForWrite() (map[string]string, error) {
	values, _, err := f.readRaw()
	return values, err
}

func (f *FileKV) readRaw() (map[string]string, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return map[string]string{}, false, nil
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return map[string]string{}, true, nil
	}
	return values, false, nil
}

func (f *FileKV) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	return utils.WriteFileAtomic(f.path, 0o600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

var _ KV = (*FileKV)(nil)
