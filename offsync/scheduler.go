// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler periodically drains the mutation queue, gated by connectivity.
// Offline ticks are skipped entirely: no drain attempt, no error.
type Scheduler struct {
	engine *Engine
	conn   Connectivity
	logger *slog.Logger
}

// NewScheduler creates a scheduler over the engine and connectivity signal.
func NewScheduler(engine *Engine, conn Connectivity, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, conn: conn, logger: logger}
}

// Start launches the periodic drain loop and returns a stop function.
//
// One drain is attempted immediately (fire-and-forget, connectivity
// permitting), then one per interval while online. onComplete, when
// supplied, receives the tally of each completed drain.
//
// Stop cancels future ticks only; a drain already in flight runs to
// completion.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, onComplete func(SyncResult)) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})

	go func() {
		s.runOnce(ctx, onComplete)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				s.runOnce(ctx, onComplete)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (s *Scheduler) runOnce(ctx context.Context, onComplete func(SyncResult)) {
	if !s.conn.Online() {
		return
	}
	result := s.engine.SyncPending(ctx)
	if result.Processed > 0 || result.Failed > 0 {
		s.logger.Debug("background drain finished",
			"processed", result.Processed, "failed", result.Failed)
	}
	if onComplete != nil {
		onComplete(result)
	}
}
