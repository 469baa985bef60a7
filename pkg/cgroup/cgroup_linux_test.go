package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedCreateRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jail")
	s, err := Create(dir)
	require.NoError(t, err)
	require.True(t, s.Valid())

	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// close is idempotent
	assert.NoError(t, s.Close())
}

func TestScopedCreateExisting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jail")
	require.NoError(t, os.Mkdir(dir, 0o755))
	s, err := Create(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path())
	require.NoError(t, s.Close())
}

func TestScopedRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jail")
	s, err := Create(dir)
	require.NoError(t, err)

	s.Release()
	assert.False(t, s.Valid())
	assert.Empty(t, s.Path())
	require.NoError(t, s.Close())

	// released directories survive the handle
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestWriteLockRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jail")
	s, err := Create(dir)
	require.NoError(t, err)
	defer s.Close()

	p := filepath.Join(dir, "memory.failcnt")
	require.NoError(t, os.WriteFile(p, []byte("0\n"), 0o644))

	require.NoError(t, s.WriteFile("memory.failcnt", "3\n"))
	v, err := s.ReadUint("memory.failcnt")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	require.NoError(t, s.LockFile("memory.failcnt"))
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), fi.Mode().Perm())

	require.NoError(t, os.Remove(p))
}

func TestDetectType(t *testing.T) {
	ct := DetectType()
	assert.Contains(t, []Type{TypeV1, TypeV2}, ct)
	assert.NotEqual(t, "invalid", ct.String())
}
