package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_CreatesParentsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")

	require.NoError(t, Write(path, []byte(`{"v":1}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWrite_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	require.NoError(t, Write(path, []byte("old"), 0o644))
	require.NoError(t, Write(path, []byte("new"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be renamed away")
}

func TestWrite_UnwritableDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := Write(filepath.Join(dir, "x.json"), []byte("x"), 0o600)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atomicfile")
}

func TestWrite_SyncsDirectoryAfterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")

	var synced []string

	orig := syncDir
	t.Cleanup(func() { syncDir = orig })

	syncDir = func(d string) error {
		// The rename must already be visible when the directory is flushed.
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))

		synced = append(synced, d)

		return orig(d)
	}

	require.NoError(t, Write(path, []byte("v2"), 0o600))
	assert.Equal(t, []string{dir}, synced)
}

func TestWrite_DirectorySyncFailure(t *testing.T) {
	orig := syncDir
	t.Cleanup(func() { syncDir = orig })

	errSync := errors.New("sync refused")
	syncDir = func(string) error { return errSync }

	path := filepath.Join(t.TempDir(), "state.json")

	err := Write(path, []byte("x"), 0o600)
	require.ErrorIs(t, err, errSync)
	assert.Contains(t, err.Error(), "syncing directory")
}
