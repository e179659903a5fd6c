// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// ErrMissingID is returned by Put when the payload carries no usable id field.
var ErrMissingID = errors.New("payload has no id field")

// Store is the durable key-value cache of entity snapshots, keyed by
// (collection, id). It is a cache, not the source of truth: read failures
// degrade to empty results instead of propagating.
//
// Update and Delete couple the cache mutation to a queue insertion in a
// single SQLite transaction (apply-and-log), so the two cannot drift apart
// across a crash.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// schemaVersion stamps new records; refreshed by CheckSchema.
	schemaVersion atomic.Int64
}

// NewStore creates a store over an initialized database. The current schema
// version is loaded best-effort; a missing descriptor leaves it at zero.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if desc, err := s.loadSchema(context.Background()); err == nil && desc != nil {
		s.schemaVersion.Store(desc.Version)
	}
	return s
}

// GetCollection returns the data payload of every record in the collection,
// in unspecified order. It never fails: persistence errors are logged and an
// empty slice is returned.
func (s *Store) GetCollection(ctx context.Context, collection string) []json.RawMessage {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE collection = ?`, collection)
	if err != nil {
		s.logger.Error("failed to read collection from local store", "collection", collection, "error", err)
		return nil
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			s.logger.Error("failed to scan cached record", "collection", collection, "error", err)
			return nil
		}
		out = append(out, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("error iterating cached records", "collection", collection, "error", err)
		return nil
	}
	return out
}

// Get returns one record by identity key, or nil when absent.
func (s *Store) Get(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data, sync_status, last_modified, version, schema_version
		FROM records WHERE collection = ? AND id = ?
	`, collection, id)

	rec := &Record{Collection: collection, ID: id}
	var data []byte
	var status string
	err := row.Scan(&data, &status, &rec.LastModified, &rec.Version, &rec.SchemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s:%s: %w", collection, id, err)
	}
	rec.Data = data
	rec.SyncStatus = SyncStatus(status)
	return rec, nil
}

// Put upserts a record from an entity payload. The payload must carry an id
// field. The record is marked synced, its lastModified bumped, and the
// current schema version stamped. Last write wins on the identity key; the
// local edit counter of an existing record is preserved.
func (s *Store) Put(ctx context.Context, collection string, data json.RawMessage) error {
	id, err := extractID(data)
	if err != nil {
		return err
	}
	return s.upsert(ctx, s.db, collection, id, data, StatusSynced)
}

func (s *Store) upsert(ctx context.Context, ex execer, collection, id string, data json.RawMessage, status SyncStatus) error {
	now := time.Now().UnixMilli()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO records (collection, id, data, sync_status, last_modified, version, schema_version)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			sync_status = excluded.sync_status,
			last_modified = excluded.last_modified,
			schema_version = excluded.schema_version
	`, collection, id, []byte(data), string(status), now, s.schemaVersion.Load())
	if err != nil {
		return fmt.Errorf("failed to put record %s:%s: %w", collection, id, err)
	}
	return nil
}

// Update shallow-merges partial data into an existing record, marks it
// pending, increments its edit counter, and appends a matching update
// mutation to the queue, all in one transaction. A missing record is a
// no-op.
func (s *Store) Update(ctx context.Context, collection, id string, partial map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update transaction: %w", err)
	}
	defer tx.Rollback()

	_, ok, err := s.mergeInTx(ctx, tx, collection, id, partial)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	payload, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("failed to marshal update payload for %s:%s: %w", collection, id, err)
	}
	if _, err := enqueueOn(ctx, tx, MutationUpdate, collection, id, payload, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update for %s:%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a record and appends a matching delete mutation to the
// queue in one transaction.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to delete record %s:%s: %w", collection, id, err)
	}
	if _, err := enqueueOn(ctx, tx, MutationDelete, collection, id, nil, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for %s:%s: %w", collection, id, err)
	}
	return nil
}

// mergeLocal applies the optimistic effect of an update without touching the
// queue. Used by the executor, which enqueues explicitly.
func (s *Store) mergeLocal(ctx context.Context, collection, id string, partial map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	if _, _, err := s.mergeInTx(ctx, tx, collection, id, partial); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge for %s:%s: %w", collection, id, err)
	}
	return nil
}

// removeLocal deletes a record without touching the queue. Used by the
// executor and by the engine when mirroring a remote delete.
func (s *Store) removeLocal(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("failed to remove record %s:%s: %w", collection, id, err)
	}
	return nil
}

// markSynced flips a record back to synced once the remote service has
// acknowledged its pending mutation without returning an entity body.
func (s *Store) markSynced(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE records SET sync_status = ?, last_modified = ? WHERE collection = ? AND id = ?
	`, string(StatusSynced), time.Now().UnixMilli(), collection, id); err != nil {
		return fmt.Errorf("failed to mark record %s:%s synced: %w", collection, id, err)
	}
	return nil
}

// mergeInTx performs the shallow merge inside tx. ok=false means the record
// does not exist and nothing was changed.
func (s *Store) mergeInTx(ctx context.Context, tx *sql.Tx, collection, id string, partial map[string]any) (json.RawMessage, bool, error) {
	var data []byte
	err := tx.QueryRowContext(ctx, `
		SELECT data FROM records WHERE collection = ? AND id = ?
	`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record %s:%s for merge: %w", collection, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached record %s:%s: %w", collection, id, err)
	}
	for k, v := range partial {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode merged record %s:%s: %w", collection, id, err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE records
		SET data = ?, sync_status = ?, last_modified = ?, version = version + 1
		WHERE collection = ? AND id = ?
	`, merged, string(StatusPending), now, collection, id); err != nil {
		return nil, false, fmt.Errorf("failed to update record %s:%s: %w", collection, id, err)
	}
	return merged, true, nil
}

// Wipe clears all records and the mutation queue. Used by the schema check
// when the remote schema is incompatible with the local one.
func (s *Store) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin wipe transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to wipe records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to wipe sync queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}
	return nil
}

// extractID pulls the id field out of an entity payload. Numeric ids are
// formatted without a fractional part.
func extractID(data []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to decode entity payload: %w", err)
	}
	switch v := doc["id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", ErrMissingID
}
