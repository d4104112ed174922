package main

import (
	"errors"

	"github.com/tonimelisma/docsync/internal/source"
)

// Exit codes. An expired session gets its own code so schedulers can tell
// "log in again" apart from other failures.
const (
	exitFailure        = 1
	exitSessionExpired = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, source.ErrSessionExpired) {
			exitOnError(err, exitSessionExpired)
		}

		exitOnError(err, exitFailure)
	}
}
