package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "pages", "abc.html"), uri)

	got, err := os.ReadFile(filepath.Join(dir, "pages", "abc.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(got))

	_, err = store.PutObject(context.Background(), "pages/abc.html", "text/html", strings.NewReader("v2"))
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(dir, "pages", "abc.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", strings.NewReader("x"))
	assert.Error(t, err)
}
