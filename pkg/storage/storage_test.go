package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "b", `["x"]`))

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, kv.Set(ctx, "a", "2"))
	v, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent key is not an error
	require.NoError(t, kv.Delete(ctx, "a"))

	v, err = kv.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, `["x"]`, v)
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestFileKV(t *testing.T) {
	exerciseKV(t, NewFileKV(filepath.Join(t.TempDir(), "state", "store.json")))
}

func TestFileKVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	require.NoError(t, NewFileKV(path).Set(ctx, "k", "v"))

	v, err := NewFileKV(path).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestFileKVCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileKV(path).Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileKVWriteReplacesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	kv := NewFileKV(path)
	require.NoError(t, kv.Set(ctx, "k", "v"))

	v, err := NewFileKV(path).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestFileKVDeleteReplacesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	kv := NewFileKV(path)
	require.NoError(t, kv.Delete(ctx, "k"))

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestRedisKV runs against a real server when REDIS_TEST_ADDR is set
func TestRedisKV(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	kv := NewRedisKV(RedisOptions{Addr: addr, Prefix: "scan-annotator-test:" + t.Name() + ":"}, nil)
	t.Cleanup(func() {
		ctx := context.Background()
		kv.Delete(ctx, "a")
		kv.Delete(ctx, "b")
		kv.Close()
	})

	exerciseKV(t, kv)
}
