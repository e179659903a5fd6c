// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// cacheSlotKey is the single storage slot used for the read-cache snapshot.
// The snapshot row carries an optional scope id, but the slot itself is not
// partitioned by it.
const cacheSlotKey = "reads:v1"

// CachePersister persists an opaque client-side read-cache snapshot across
// process restarts, independent of the entity and mutation machinery.
// Failures in any operation are logged and absorbed so that callers fall
// back to fetching fresh data. Deciding whether a restored snapshot is still
// fresh enough to use is the caller's responsibility; UpdatedAt on the
// restored snapshot exists for that check.
type CachePersister struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCachePersister creates a persister over the cache table.
func NewCachePersister(db *sql.DB, logger *slog.Logger) *CachePersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachePersister{db: db, logger: logger}
}

// Persist stores the snapshot in the fixed slot, replacing any previous one.
func (p *CachePersister) Persist(ctx context.Context, snapshot json.RawMessage, scopeID string) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cache (slot_key, snapshot, updated_at, scope_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slot_key) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at,
			scope_id = excluded.scope_id
	`, cacheSlotKey, []byte(snapshot), time.Now().UnixMilli(), nullString(scopeID))
	if err != nil {
		p.logger.Error("failed to persist read-cache snapshot", "error", err)
	}
}

// Restore returns the persisted snapshot, or nil when none exists or the
// read fails.
func (p *CachePersister) Restore(ctx context.Context) *CacheSnapshot {
	snap := &CacheSnapshot{SlotKey: cacheSlotKey}
	var data []byte
	var scopeID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT snapshot, updated_at, scope_id FROM cache WHERE slot_key = ?
	`, cacheSlotKey).Scan(&data, &snap.UpdatedAt, &scopeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		p.logger.Error("failed to restore read-cache snapshot", "error", err)
		return nil
	}
	snap.Snapshot = data
	snap.ScopeID = scopeID.String
	return snap
}

// Remove drops the persisted snapshot.
func (p *CachePersister) Remove(ctx context.Context) {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM cache WHERE slot_key = ?`, cacheSlotKey); err != nil {
		p.logger.Error("failed to remove read-cache snapshot", "error", err)
	}
}
