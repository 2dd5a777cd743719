package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlveZs/ifc-code-delivery/internal/logging"
)

// teardown drains the tracker's subsystems once the serve loop exits: stages
// run in registration order (listener before store, so no request touches a
// closed store), every stage runs even when an earlier one fails, and the
// whole drain happens at most once.
type teardown struct {
	logger *logging.Logger

	mu      sync.Mutex
	drained bool
	stages  []teardownStage
}

type teardownStage struct {
	name string
	stop func(context.Context) error
}

func newTeardown(logger *logging.Logger) *teardown {
	return &teardown{logger: logger}
}

func (t *teardown) Stage(name string, stop func(context.Context) error) {
	if t == nil || stop == nil {
		return
	}
	t.mu.Lock()
	t.stages = append(t.stages, teardownStage{name: name, stop: stop})
	t.mu.Unlock()
}

func (t *teardown) Drain(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.drained {
		t.mu.Unlock()
		return nil
	}
	t.drained = true
	stages := t.stages
	t.mu.Unlock()

	var errs []error
	for _, stage := range stages {
		if t.logger != nil {
			t.logger.Info("draining "+stage.name, nil)
		}
		if err := stage.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("draining %s: %w", stage.name, err))
			if t.logger != nil {
				t.logger.Warn("drain stage failed", map[string]string{
					"stage": stage.name,
					"error": err.Error(),
				})
			}
		}
	}
	return errors.Join(errs...)
}
