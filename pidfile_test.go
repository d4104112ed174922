package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockLedger_RecordsPIDAndReleases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "ledger", "docsync.pid")

	release, err := lockLedger(path)
	require.NoError(t, err)

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	release()
	assert.NoFileExists(t, path)
}

func TestLockLedger_SecondHolderRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docsync.pid")

	release, err := lockLedger(path)
	require.NoError(t, err)
	defer release()

	again, err := lockLedger(path)
	require.ErrorIs(t, err, errRunInProgress)
	assert.Nil(t, again)
	assert.Contains(t, err.Error(), "pid "+strconv.Itoa(os.Getpid()))
}

func TestLockLedger_ReacquireAfterRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docsync.pid")

	release, err := lockLedger(path)
	require.NoError(t, err)
	release()

	release, err = lockLedger(path)
	require.NoError(t, err)
	release()
}

func TestLockLedger_OverwritesStalePID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docsync.pid")
	require.NoError(t, os.WriteFile(path, []byte("123456789012\n"), 0o644))

	release, err := lockLedger(path)
	require.NoError(t, err)
	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
}

func TestLockLedger_EmptyPath(t *testing.T) {
	t.Parallel()

	release, err := lockLedger("")
	require.ErrorContains(t, err, "empty")
	assert.Nil(t, release)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr string
	}{
		{"valid", "12345\n", 12345, ""},
		{"spaces", "  42  ", 42, ""},
		{"garbage", "not-a-pid\n", 0, "invalid PID"},
	}

	for _, tt := range tests {
		path := filepath.Join(dir, tt.name+".pid")
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

		pid, err := readPIDFile(path)
		if tt.wantErr != "" {
			assert.ErrorContains(t, err, tt.wantErr, tt.name)

			continue
		}

		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, pid, tt.name)
	}

	_, err := readPIDFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestRunningPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docsync.pid")
	assert.Zero(t, runningPID(path), "no file")

	release, err := lockLedger(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), runningPID(path), "lock held")

	release()

	// A file left by a crashed run is not locked.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))
	assert.Zero(t, runningPID(path))
}
