// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// RemoteOp is a caller-supplied function that performs the remote side of a
// write and returns the entity the server applied (nil for deletes).
type RemoteOp func(ctx context.Context) (json.RawMessage, error)

// Executor is the single entry point for every write in the system. It
// decides between executing a write against the remote service immediately
// and queueing it for a later drain.
type Executor struct {
	store  *Store
	queue  *Queue
	conn   Connectivity
	logger *slog.Logger
}

// NewExecutor wires the executor over its collaborators.
func NewExecutor(store *Store, queue *Queue, conn Connectivity, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, queue: queue, conn: conn, logger: logger}
}

// ExecuteOrQueue performs one write intent.
//
// Offline, or when no remoteOp is supplied: the optimistic local effect is
// applied (bypassing the store's own auto-enqueue), a mutation is queued,
// and (nil, nil) is returned: no remote result exists yet.
//
// Online with a remoteOp: the remote call runs first. On success the result
// is mirrored into the local store as synced and returned. On failure the
// mutation is queued exactly as in the offline path and the original error
// is returned: the write is simultaneously reported as failed and scheduled
// for retry, and callers must tolerate that duality.
func (e *Executor) ExecuteOrQueue(ctx context.Context, collection string, typ MutationType, recordID string, payload json.RawMessage, scopeID string, remoteOp RemoteOp) (json.RawMessage, error) {
	if typ != MutationDelete {
		withID, err := ensureID(payload, recordID)
		if err != nil {
			return nil, fmt.Errorf("invalid payload for %s %s.%s: %w", typ, collection, recordID, err)
		}
		payload = withID
	}

	if !e.conn.Online() || remoteOp == nil {
		if err := e.applyOptimistic(ctx, collection, typ, recordID, payload); err != nil {
			return nil, err
		}
		if _, err := e.queue.Enqueue(ctx, typ, collection, recordID, payload, scopeID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	result, err := remoteOp(ctx)
	if err != nil {
		e.logger.Warn("remote write failed, queueing for retry",
			"collection", collection, "type", typ, "record_id", recordID, "error", err)
		if _, qerr := e.queue.Enqueue(ctx, typ, collection, recordID, payload, scopeID); qerr != nil {
			e.logger.Error("failed to queue mutation after remote failure",
				"collection", collection, "record_id", recordID, "error", qerr)
		}
		return nil, err
	}

	e.mirrorResult(ctx, collection, typ, recordID, payload, result)
	return result, nil
}

// applyOptimistic lands the local effect of a write without enqueueing.
func (e *Executor) applyOptimistic(ctx context.Context, collection string, typ MutationType, recordID string, payload json.RawMessage) error {
	switch typ {
	case MutationCreate:
		return e.store.Put(ctx, collection, payload)
	case MutationUpdate:
		var partial map[string]any
		if err := json.Unmarshal(payload, &partial); err != nil {
			return fmt.Errorf("failed to decode update payload for %s:%s: %w", collection, recordID, err)
		}
		return e.store.mergeLocal(ctx, collection, recordID, partial)
	case MutationDelete:
		return e.store.removeLocal(ctx, collection, recordID)
	default:
		return fmt.Errorf("unknown mutation type: %s", typ)
	}
}

// mirrorResult records the authoritative outcome of a successful remote
// write. Cache write failures are absorbed: the remote write already
// succeeded and the cache will converge on the next read-through or drain.
func (e *Executor) mirrorResult(ctx context.Context, collection string, typ MutationType, recordID string, payload, result json.RawMessage) {
	var err error
	switch typ {
	case MutationCreate, MutationUpdate:
		entity := result
		if entity == nil {
			entity = payload
		}
		err = e.store.Put(ctx, collection, entity)
	case MutationDelete:
		err = e.store.removeLocal(ctx, collection, recordID)
	}
	if err != nil {
		e.logger.Error("failed to mirror remote result into local store",
			"collection", collection, "type", typ, "record_id", recordID, "error", err)
	}
}

// ensureID injects recordID into the payload when the payload itself lacks
// an id field, so the optimistic Put has an identity key to land on.
func ensureID(payload json.RawMessage, recordID string) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, ErrMissingID
	}
	if _, err := extractID(payload); err == nil {
		return payload, nil
	}
	if recordID == "" {
		return nil, ErrMissingID
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	doc["id"] = recordID
	return json.Marshal(doc)
}
