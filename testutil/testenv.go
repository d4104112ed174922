// Package testutil provides shared helpers for the end-to-end tests, which
// drive the compiled binary rather than calling packages directly.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the docsync command from moduleRoot into dir and
// returns the binary path. Compiler output goes to stderr.
func BuildBinary(moduleRoot, dir string) (string, error) {
	bin := filepath.Join(dir, "docsync")

	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building docsync in %s: %w", moduleRoot, err)
	}

	return bin, nil
}
