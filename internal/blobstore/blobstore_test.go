package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	err := store.Put(ctx, "bucket", SessionKey("run-1", "segments.jsonl"), []byte("hello"))
	require.NoError(t, err)

	data, err := store.Get(ctx, "bucket", SessionKey("run-1", "segments.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalStoreGetMissingKey(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	_, err := store.Get(context.Background(), "bucket", "missing")
	require.Error(t, err)
}

func TestPutJSONLWritesOneObjectPerLine(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	records := []any{
		map[string]any{"a": 1},
		map[string]any{"b": 2},
	}
	key := SessionKey("run-2", "transactions.jsonl")
	require.NoError(t, store.PutJSONL(ctx, "bucket", key, records))

	data, err := store.Get(ctx, "bucket", key)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(data))
}
