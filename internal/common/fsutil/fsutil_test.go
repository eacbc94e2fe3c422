package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "page.html")

	require.NoError(t, WriteAtomic(path, []byte("first")))
	require.NoError(t, WriteAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(filepath.Join(dir, "missing")))
	assert.False(t, Exists(dir))

	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.True(t, Exists(path))
}

func TestRemoveFilesAndStats(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("12345"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.html"), []byte("123"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempPrefix+"x"), []byte("1234567"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	files, size, err := DirStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(8), size)

	removed, err := RemoveFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	files, _, err = DirStats(dir)
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	removed, err := RemoveFiles(missing)
	require.NoError(t, err)
	assert.Zero(t, removed)

	files, size, err := DirStats(missing)
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Zero(t, size)
}
