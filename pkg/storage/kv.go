// Package storage provides key-value text stores for locally persisted state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key is absent
var ErrNotFound = errors.New("key not found")

// ErrCorrupt is returned by Get when the backing data can no longer be parsed.
// Writes replace corrupt data instead of failing.
var ErrCorrupt = errors.New("store data corrupt")

// KV is a key-value store holding text values
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
