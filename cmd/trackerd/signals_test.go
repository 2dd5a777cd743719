package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestCancelOnSignalCancelsOnFirstSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	stop := cancelOnSignal(nil, cancel, signals)
	defer stop()

	signals <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after signal")
	}
}

func TestCancelOnSignalIgnoresRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	stop := cancelOnSignal(nil, cancel, signals)
	defer stop()

	signals <- syscall.SIGINT
	signals <- syscall.SIGINT

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after signal")
	}
}

func TestCancelOnSignalNilChannel(t *testing.T) {
	stop := cancelOnSignal(nil, nil, nil)
	stop()
}
