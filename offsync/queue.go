// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Queue is the durable FIFO log of pending write intents. It is independent
// of the record cache: no operation here reorders or deduplicates entries.
// If two mutations target the same record, both remain queued and both are
// applied in arrival order.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueue creates a queue backed by the sync_queue table. The table itself
// is created by initializeDatabase.
func NewQueue(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}
}

// execer is satisfied by both *sql.DB and *sql.Tx so that the store can
// enqueue inside its own apply-and-log transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Enqueue appends a write intent with retryCount=0 and no last error.
func (q *Queue) Enqueue(ctx context.Context, typ MutationType, collection, recordID string, payload []byte, scopeID string) (*QueuedMutation, error) {
	return enqueueOn(ctx, q.db, typ, collection, recordID, payload, scopeID)
}

func enqueueOn(ctx context.Context, ex execer, typ MutationType, collection, recordID string, payload []byte, scopeID string) (*QueuedMutation, error) {
	now := time.Now().UnixMilli()
	res, err := ex.ExecContext(ctx, `
		INSERT INTO sync_queue (mutation_type, collection, record_id, payload, enqueued_at, scope_id, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL)
	`, string(typ), collection, recordID, nullBytes(payload), now, nullString(scopeID))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s for %s.%s: %w", typ, collection, recordID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue sequence id: %w", err)
	}
	return &QueuedMutation{
		SequenceID: seq,
		Type:       typ,
		Collection: collection,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: now,
		ScopeID:    scopeID,
	}, nil
}

// ListPending returns all queued mutations ordered by sequence id ascending.
func (q *Queue) ListPending(ctx context.Context) ([]QueuedMutation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT sequence_id, mutation_type, collection, record_id, payload, enqueued_at, scope_id, retry_count, last_error
		FROM sync_queue
		ORDER BY sequence_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending mutations: %w", err)
	}
	defer rows.Close()

	var pending []QueuedMutation
	for rows.Next() {
		var m QueuedMutation
		var typ string
		var payload []byte
		var scopeID, lastError sql.NullString
		if err := rows.Scan(&m.SequenceID, &typ, &m.Collection, &m.RecordID, &payload, &m.EnqueuedAt, &scopeID, &m.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan queued mutation: %w", err)
		}
		m.Type = MutationType(typ)
		m.Payload = payload
		m.ScopeID = scopeID.String
		m.LastError = lastError.String
		pending = append(pending, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending mutations: %w", err)
	}
	return pending, nil
}

// MarkFailed records a failed remote dispatch for one entry: the retry count
// is incremented, the error message captured, and enqueued_at bumped to now
// as a "last attempted" marker. The entry is not removed.
func (q *Queue) MarkFailed(ctx context.Context, m *QueuedMutation, cause error) error {
	now := time.Now().UnixMilli()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_error = ?, enqueued_at = ?
		WHERE sequence_id = ?
	`, msg, now, m.SequenceID)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d as failed: %w", m.SequenceID, err)
	}
	m.RetryCount++
	m.LastError = msg
	m.EnqueuedAt = now
	return nil
}

// Clear removes all entries unconditionally.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
