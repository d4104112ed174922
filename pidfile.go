package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errRunInProgress means another process holds the ledger lock.
var errRunInProgress = errors.New("another docsync run is already using this ledger")

// lockLedger takes an exclusive, non-blocking flock on the pid file at path
// and records the current pid in it. The lock lives as long as the returned
// release func is not called; the kernel drops it if the process dies.
func lockLedger(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("lock file path is empty, cannot determine ledger directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	if flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); flockErr != nil {
		if pid, readErr := readPIDFile(path); readErr == nil {
			return nil, fmt.Errorf("%w (pid %d holds %s)", errRunInProgress, pid, path)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errRunInProgress, path)
	}

	if err := recordPID(f); err != nil {
		return nil, fmt.Errorf("writing lock file %s: %w", path, err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}

	return f.Sync()
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// runningPID returns the PID of a run currently holding the lock at path,
// or 0 when no run is in progress. A leftover file from a crashed run is
// not locked and reports 0.
func runningPID(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

		return 0
	}

	pid, err := readPIDFile(path)
	if err != nil {
		return 0
	}

	return pid
}
