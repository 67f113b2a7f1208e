package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_ReadWrite(t *testing.T) {
	m := NewMemoryFileSystem()

	require.NoError(t, m.WriteFile("out/run0/a.txt", []byte("hello"), 0644))

	data, err := m.ReadFile("out/run0/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.True(t, m.Exists("out/run0"))
	assert.True(t, IsDir(m, "out"))
	assert.False(t, IsDir(m, "out/run0/a.txt"))

	_, err = m.ReadFile("missing.txt")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("out/b.zip", nil, 0644))
	require.NoError(t, m.WriteFile("out/a.zip", nil, 0644))
	require.NoError(t, m.WriteFile("out/sub/c.txt", nil, 0644))

	names, err := m.ReadDir("out")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip", "b.zip", "sub"}, names)

	_, err = m.ReadDir("nope")
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("src.zip", []byte{1, 2, 3}, 0644))

	require.NoError(t, CopyFile(m, "src.zip", "dst.zip"))
	data, err := m.ReadFile("dst.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	assert.Error(t, CopyFile(m, "missing.zip", "x.zip"))
	assert.Equal(t, []string{"dst.zip", "src.zip"}, m.Files())
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	var osfs OSFileSystem

	p := filepath.Join(dir, "nested", "f.txt")
	require.NoError(t, osfs.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, osfs.WriteFile(p, []byte("x"), 0644))
	assert.True(t, osfs.Exists(p))

	names, err := osfs.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Equal(t, []string{"f.txt"}, names)

	info, err := osfs.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
}
