package main

import (
	"context"
	"os"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
)

// cancelOnSignal cancels the serve context on the first stop signal. Later
// signals are ignored: the drain is already underway and cannot be cut
// short. The returned function releases the watcher goroutine.
func cancelOnSignal(logger *logging.Logger, cancel context.CancelFunc, signals <-chan os.Signal) func() {
	if signals == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				name := ""
				if sig != nil {
					name = sig.String()
				}
				if stopping {
					if logger != nil {
						logger.Debug("already draining, signal ignored", map[string]string{
							"signal": name,
						})
					}
					continue
				}
				stopping = true
				if logger != nil {
					logger.Info("stop signal received, draining", map[string]string{
						"signal": name,
					})
				}
				if cancel != nil {
					cancel()
				}
			}
		}
	}()

	return func() {
		close(done)
	}
}
