package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the shell convention for death by SIGINT (128+2).
const exitInterrupted = 130

// errStopRequested is the cancel cause of a run stopped by a signal.
var errStopRequested = errors.New("stop requested by signal")

// forceExit is replaced in tests.
var forceExit = os.Exit

// shutdownContext derives the run context from parent. The first SIGINT or
// SIGTERM cancels it: no new node starts, the node being exported and the
// pushes already queued run to completion and are committed. A second signal
// abandons those and exits immediately; their nodes are retried next run
// because nothing was committed for them.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return watchShutdown(parent, logger, sigCh, func() { signal.Stop(sigCh) })
}

func watchShutdown(parent context.Context, logger *slog.Logger, signals <-chan os.Signal, stop func()) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	go func() {
		defer stop()

		select {
		case sig := <-signals:
			logger.Info("stop requested, letting in-flight pushes finish; signal again to abort",
				slog.String("signal", sig.String()),
			)
			cancel(errStopRequested)
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-signals:
			logger.Warn("aborting with uncommitted pushes",
				slog.String("signal", sig.String()),
			)
			forceExit(exitInterrupted)
		case <-parent.Done():
		}
	}()

	return ctx
}
