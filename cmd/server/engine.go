package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"worldhost.ai/internal/sim/lifecycle"
)

// logEngine stands in for the simulation: it accepts every world and records
// which ones are running.
type logEngine struct {
	log *zap.Logger

	mu     sync.Mutex
	active map[string]int32
}

func newLogEngine(log *zap.Logger) *logEngine {
	return &logEngine{log: log.Named("engine"), active: map[string]int32{}}
}

func (e *logEngine) Activate(_ context.Context, h *lifecycle.Handle) error {
	e.mu.Lock()
	e.active[h.Name()] = h.Slot()
	n := len(e.active)
	e.mu.Unlock()
	e.log.Info("world started",
		zap.String("world", h.Name()),
		zap.Int32("slot", h.Slot()),
		zap.String("dimension", string(h.DimensionType())),
		zap.Int("running", n))
	return nil
}

func (e *logEngine) Deactivate(_ context.Context, h *lifecycle.Handle) error {
	e.mu.Lock()
	delete(e.active, h.Name())
	n := len(e.active)
	e.mu.Unlock()
	e.log.Info("world stopped", zap.String("world", h.Name()), zap.Int("running", n))
	return nil
}

func (e *logEngine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
