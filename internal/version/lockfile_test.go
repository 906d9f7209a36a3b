package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
)

func TestLockFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "providers.lock.json")

	entries := map[string]*ir.LockEntry{
		"docker": {Version: "2.1.0", Checksums: []string{"sha256:abc"}},
		"null":   {Version: "1.2.0", Checksums: []string{"sha256:def", "sha256:ghi"}},
	}
	require.NoError(t, WriteLockFile(path, entries))

	loaded, err := ReadLockFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "2.1.0", loaded["docker"].Version)
	assert.ElementsMatch(t, []string{"sha256:def", "sha256:ghi"}, loaded["null"].Checksums)
}

func TestReadLockFile_MissingIsEmpty(t *testing.T) {
	loaded, err := ReadLockFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestReadLockFile_RejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"format_version": 99, "providers": {}}`), 0644))

	_, err := ReadLockFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format version")
}

func TestWriteLockFileIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.lock.json")
	entries := map[string]*ir.LockEntry{"null": {Version: "1.0.0"}}

	wrote, err := WriteLockFileIfChanged(path, entries, nil)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = WriteLockFileIfChanged(path, entries, entries)
	require.NoError(t, err)
	assert.False(t, wrote, "an unchanged lock set must not rewrite the file")
}

func TestLocksEqual(t *testing.T) {
	a := map[string]*ir.LockEntry{"null": {Version: "1.0.0", Checksums: []string{"x", "y"}}}
	b := map[string]*ir.LockEntry{"null": {Version: "1.0.0", Checksums: []string{"y", "x"}}}
	assert.True(t, LocksEqual(a, b), "checksum order must not matter")

	c := map[string]*ir.LockEntry{"null": {Version: "1.0.1", Checksums: []string{"x", "y"}}}
	assert.False(t, LocksEqual(a, c))
	assert.False(t, LocksEqual(a, map[string]*ir.LockEntry{}))
}
