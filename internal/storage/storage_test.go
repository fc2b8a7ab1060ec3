package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-tracker/internal/config"
	"quote-tracker/internal/storage"
)

func TestMemoryStore_PutOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	err := store.Put(ctx, "signatures/q1/a.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)

	obj, ok := store.Get("signatures/q1/a.png")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), obj.Data)
	assert.Equal(t, "image/png", obj.ContentType)

	err = store.Put(ctx, "signatures/q1/a.png", strings.NewReader("other"), 5, "image/png")
	assert.True(t, errors.Is(err, storage.ErrObjectExists))

	obj, _ = store.Get("signatures/q1/a.png")
	assert.Equal(t, []byte("png"), obj.Data)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Put(ctx, "quotes/q1.pdf", strings.NewReader("%PDF"), 4, "application/pdf"))
	require.NoError(t, store.Delete(ctx, "quotes/q1.pdf"))

	_, ok := store.Get("quotes/q1.pdf")
	assert.False(t, ok)
	assert.ErrorIs(t, store.Delete(ctx, "quotes/q1.pdf"), storage.ErrObjectNotFound)
}

func TestMinIOStore_URL(t *testing.T) {
	cfg := &config.Config{
		MinIOPublicEndpoint: "files.example.com",
		MinIOBucket:         "quote-documents",
		MinIOPublicUseSSL:   true,
	}
	store := storage.NewMinIOStore(nil, cfg)

	assert.Equal(t, "https://files.example.com/quote-documents/quotes%2Fq%201.pdf", store.URL("quotes/q 1.pdf"))

	cfg.MinIOPublicUseSSL = false
	assert.True(t, strings.HasPrefix(store.URL("x.pdf"), "http://files.example.com/"))
}
