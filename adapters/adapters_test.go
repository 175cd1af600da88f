package adapters

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListsDiscoveredArchives(t *testing.T) {
	t.Run("only files with the adapter archive extension are indexed", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pytest"+ArchiveExt), []byte("data"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("data"), 0o644))

		store, err := NewStore(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"pytest"}, store.List())
	})

	t.Run("a missing directory starts empty rather than erroring", func(t *testing.T) {
		store, err := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
		require.NoError(t, err)
		assert.Empty(t, store.List())
	})
}

func TestStoreOpen(t *testing.T) {
	t.Run("Open streams the archive's bytes", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "jest"+ArchiveExt), []byte("payload"), 0o644))

		store, err := NewStore(dir)
		require.NoError(t, err)
		rc, ok := store.Open("jest")
		require.True(t, ok)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	})

	t.Run("an unknown name reports false", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)
		_, ok := store.Open("nope")
		assert.False(t, ok)
	})
}

func TestStoreRescanPicksUpNewArchives(t *testing.T) {
	t.Run("Rescan reflects files added after construction", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewStore(dir)
		require.NoError(t, err)
		require.Empty(t, store.List())

		require.NoError(t, os.WriteFile(filepath.Join(dir, "cypress"+ArchiveExt), []byte("x"), 0o644))
		require.NoError(t, store.Rescan())
		assert.Equal(t, []string{"cypress"}, store.List())
	})
}
