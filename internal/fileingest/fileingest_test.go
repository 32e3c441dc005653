package fileingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"a.txt":         "a",
		"b.PDF":         "b",
		".hidden.txt":   "h",
		"sub/c.txt":     "cc",
		".git/config":   "x",
		"sub/deep/d.md": "ddd",
	}
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func names(files []FileMeta) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestDiscoverTopLevelOnly(t *testing.T) {
	root := writeTree(t)
	files, err := Discover(context.Background(), root, DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.PDF"}, names(files))
}

func TestDiscoverRecursiveWithExtensions(t *testing.T) {
	root := writeTree(t)
	files, err := Discover(context.Background(), root, DiscoverOptions{
		Recursive:  true,
		Extensions: []string{"txt", ".pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.PDF", "c.txt"}, names(files))
}

func TestDiscoverIncludeHidden(t *testing.T) {
	root := writeTree(t)
	files, err := Discover(context.Background(), root, DiscoverOptions{Recursive: true, IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, files, 6)
}

func TestDiscoverSingleFile(t *testing.T) {
	root := writeTree(t)
	files, err := Discover(context.Background(), filepath.Join(root, "sub", "c.txt"), DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(2), files[0].Size)
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), DiscoverOptions{})
	assert.True(t, os.IsNotExist(err))
}

func TestDiscoverHonoursCancellation(t *testing.T) {
	root := writeTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Discover(ctx, root, DiscoverOptions{Recursive: true})
	assert.ErrorIs(t, err, context.Canceled)
}
