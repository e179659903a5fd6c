// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"log/slog"
	"sync"
)

// Routes maps collection names to their remote endpoint paths, e.g.
// {"actions": "/actions", "tools": "/tools"}. The engine skips entries whose
// collection is not routed.
type Routes map[string]string

// Endpoint resolves the endpoint path for a collection.
func (r Routes) Endpoint(collection string) (string, bool) {
	endpoint, ok := r[collection]
	return endpoint, ok
}

// Engine drains the mutation queue against the remote service in strict
// queue order. Overlapping drains are serialized internally, so the
// executor's online path, the scheduler, and manual "sync now" triggers can
// all call SyncPending without double-dispatching entries.
type Engine struct {
	queue       *Queue
	store       *Store
	remote      RemoteService
	routes      Routes
	maxAttempts int
	logger      *slog.Logger

	mu sync.Mutex // serializes drains
}

// NewEngine wires the sync engine. maxAttempts=0 retries entries forever,
// preserving the original retention behavior; a positive value makes the
// engine skip entries that have already failed that many times.
func NewEngine(queue *Queue, store *Store, remote RemoteService, routes Routes, maxAttempts int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:       queue,
		store:       store,
		remote:      remote,
		routes:      routes,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SyncPending applies all queued mutations in sequence order, one at a time,
// and returns the pass tally. It never fails: infrastructure errors are
// logged and reflected only in the counts and per-entry retry state.
//
// Retention policy: the queue is cleared only after a pass with zero
// failures. A pass with any failure leaves the entire queue intact,
// including entries that succeeded, so the originally queued order is
// preserved until a fully clean pass. Remote operations must therefore
// tolerate replay.
func (e *Engine) SyncPending(ctx context.Context) SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		e.logger.Error("failed to list pending mutations", "error", err)
		return SyncResult{}
	}
	if len(pending) == 0 {
		return SyncResult{}
	}

	var result SyncResult
	for i := range pending {
		m := &pending[i]

		endpoint, ok := e.routes.Endpoint(m.Collection)
		if !ok {
			e.logger.Warn("no endpoint for collection, skipping queued mutation",
				"collection", m.Collection, "record_id", m.RecordID, "sequence_id", m.SequenceID)
			continue
		}
		if e.maxAttempts > 0 && m.RetryCount >= e.maxAttempts {
			e.logger.Warn("queued mutation exceeded retry limit, skipping",
				"collection", m.Collection, "record_id", m.RecordID,
				"sequence_id", m.SequenceID, "retry_count", m.RetryCount, "last_error", m.LastError)
			continue
		}

		if err := e.dispatch(ctx, endpoint, m); err != nil {
			result.Failed++
			if merr := e.queue.MarkFailed(ctx, m, err); merr != nil {
				e.logger.Error("failed to record mutation failure",
					"sequence_id", m.SequenceID, "error", merr)
			}
			e.logger.Warn("queued mutation failed against remote",
				"collection", m.Collection, "type", m.Type, "record_id", m.RecordID,
				"sequence_id", m.SequenceID, "error", err)
			continue
		}
		result.Processed++
	}

	if result.Failed == 0 {
		if err := e.queue.Clear(ctx); err != nil {
			e.logger.Error("failed to clear drained queue", "error", err)
		}
	}
	return result
}

// dispatch performs the remote call for one entry and mirrors the
// authoritative result into the local store. Cache write failures after a
// successful remote call are absorbed with a log.
func (e *Engine) dispatch(ctx context.Context, endpoint string, m *QueuedMutation) error {
	switch m.Type {
	case MutationCreate:
		entity, err := e.remote.Create(ctx, endpoint, m.Payload)
		if err != nil {
			return err
		}
		e.mirror(ctx, m, entity)
		return nil
	case MutationUpdate:
		entity, err := e.remote.Update(ctx, endpoint, m.RecordID, m.Payload)
		if err != nil {
			return err
		}
		if entity != nil {
			e.mirror(ctx, m, entity)
		} else if err := e.store.markSynced(ctx, m.Collection, m.RecordID); err != nil {
			e.logger.Error("failed to mark record synced after remote update",
				"collection", m.Collection, "record_id", m.RecordID, "error", err)
		}
		return nil
	case MutationDelete:
		if err := e.remote.Delete(ctx, endpoint, m.RecordID); err != nil {
			return err
		}
		if err := e.store.removeLocal(ctx, m.Collection, m.RecordID); err != nil {
			e.logger.Error("failed to drop record after remote delete",
				"collection", m.Collection, "record_id", m.RecordID, "error", err)
		}
		return nil
	default:
		e.logger.Warn("unknown mutation type in queue, skipping",
			"type", m.Type, "sequence_id", m.SequenceID)
		return nil
	}
}

func (e *Engine) mirror(ctx context.Context, m *QueuedMutation, entity []byte) {
	if entity == nil {
		entity = m.Payload
	}
	if entity == nil {
		return
	}
	if err := e.store.Put(ctx, m.Collection, entity); err != nil {
		e.logger.Error("failed to mirror drained mutation into local store",
			"collection", m.Collection, "record_id", m.RecordID, "error", err)
	}
}
