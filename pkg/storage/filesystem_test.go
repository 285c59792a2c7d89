package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "documents/req-1/transcript.pdf", []byte("%PDF"), "application/pdf"))
	data, err := store.Get(ctx, "documents/req-1/transcript.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	require.NoError(t, store.Delete(ctx, "documents/req-1/transcript.pdf"))
	_, err = store.Get(ctx, "documents/req-1/transcript.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, store.Delete(ctx, "documents/req-1/transcript.pdf"))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape.txt", "/etc/passwd", "", "a/../../b"} {
		_, err := store.Save(key, []byte("x"))
		assert.Error(t, err, key)
	}
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.Save("reports/old.csv", []byte("old"))
	require.NoError(t, err)
	_, err = store.Save("reports/new.csv", []byte("new"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "reports", "old.csv"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/old.csv"}, deleted)

	f, err := store.Open("reports/new.csv")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
