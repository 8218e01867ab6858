package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	content := []byte("receipt bytes")
	require.NoError(t, store.Save(ctx, "receipts/1/abc.jpg", content))
	assert.True(t, store.Exists(ctx, "receipts/1/abc.jpg"))

	got, err := store.Read(ctx, "receipts/1/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, store.Delete(ctx, "receipts/1/abc.jpg"))
	assert.False(t, store.Exists(ctx, "receipts/1/abc.jpg"))
}

func TestLocalStoreDeleteMissingKeyIsNoOp(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zap.NewNop())
	assert.NoError(t, store.Delete(context.Background(), "never/stored.png"))
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store := NewLocalStore(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	err := store.Save(ctx, "../outside.txt", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes base directory")

	_, err = store.Read(ctx, "../../etc/passwd")
	assert.Error(t, err)
}
