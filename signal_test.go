package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := shutdownContext(parent, testLogger())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, context.Cause(ctx), errStopRequested)
	case <-time.After(2 * time.Second):
		t.Fatal("run context still live 2s after SIGINT")
	}
}

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := shutdownContext(parent, testLogger())

	cancel()

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.NotErrorIs(t, context.Cause(ctx), errStopRequested)
	case <-time.After(2 * time.Second):
		t.Fatal("run context still live 2s after parent cancel")
	}
}

func TestWatchShutdown_SecondSignalForcesExit(t *testing.T) {
	exited := make(chan int, 1)

	orig := forceExit
	t.Cleanup(func() { forceExit = orig })
	forceExit = func(code int) { exited <- code }

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	stopped := make(chan struct{})

	ctx := watchShutdown(parent, testLogger(), signals, func() { close(stopped) })

	signals <- syscall.SIGTERM
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	signals <- syscall.SIGINT

	select {
	case code := <-exited:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force an exit")
	}

	cancel()
	<-stopped
}

func TestWatchShutdown_NoExitWhenParentEnds(t *testing.T) {
	orig := forceExit
	t.Cleanup(func() { forceExit = orig })
	forceExit = func(int) { t.Error("unexpected forced exit") }

	parent, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	stopped := make(chan struct{})

	watchShutdown(parent, testLogger(), signals, func() { close(stopped) })

	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after parent cancel")
	}
}
