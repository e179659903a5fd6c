// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaFetcher obtains the remote schema descriptor. The remote endpoint is
// optional: fetch failures must never block startup.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context) (*SchemaDescriptor, error)
}

// CheckSchema reconciles the locally stored schema descriptor with the
// remote one.
//
//   - Remote unreachable or unauthorized: keep the local schema, log, done.
//   - No local descriptor, or the remote version is more than one ahead:
//     wipe all records and the queue, adopt the remote descriptor.
//   - Remote version exactly one ahead: incremental migration that injects
//     null defaults for newly listed fields; any failure falls back to a
//     full wipe.
//   - Remote version at or behind the local one: no-op.
func (s *Store) CheckSchema(ctx context.Context, fetcher SchemaFetcher) error {
	remote, err := fetcher.FetchSchema(ctx)
	if err != nil || remote == nil {
		s.logger.Warn("schema endpoint unavailable, keeping local schema", "error", err)
		return nil
	}

	local, err := s.loadSchema(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local schema descriptor: %w", err)
	}

	switch {
	case local == nil || remote.Version > local.Version+1:
		s.logger.Info("adopting remote schema with full wipe",
			"local_version", schemaVersionOf(local), "remote_version", remote.Version)
		return s.wipeAndAdopt(ctx, remote)

	case remote.Version == local.Version+1:
		if err := s.migrateSchema(ctx, local, remote); err != nil {
			s.logger.Warn("incremental schema migration failed, falling back to wipe",
				"from", local.Version, "to", remote.Version, "error", err)
			return s.wipeAndAdopt(ctx, remote)
		}
		s.logger.Info("incremental schema migration applied",
			"from", local.Version, "to", remote.Version)
		return nil

	default:
		return nil
	}
}

func schemaVersionOf(desc *SchemaDescriptor) int64 {
	if desc == nil {
		return 0
	}
	return desc.Version
}

func (s *Store) wipeAndAdopt(ctx context.Context, desc *SchemaDescriptor) error {
	if err := s.Wipe(ctx); err != nil {
		return err
	}
	if err := s.saveSchema(ctx, desc); err != nil {
		return err
	}
	s.schemaVersion.Store(desc.Version)
	return nil
}

// migrateSchema walks every cached record of each collection named by the
// remote descriptor and injects a null value for fields the local descriptor
// did not know about. Records and descriptor are updated in one transaction.
func (s *Store) migrateSchema(ctx context.Context, local, remote *SchemaDescriptor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for collection, fields := range remote.Collections {
		added := newFields(local.Collections[collection], fields)
		if len(added) == 0 {
			continue
		}
		if err := s.injectFieldsInTx(ctx, tx, collection, added); err != nil {
			return err
		}
	}

	if err := saveSchemaOn(ctx, tx, remote); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET schema_version = ?`, remote.Version); err != nil {
		return fmt.Errorf("failed to restamp records with schema version %d: %w", remote.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema migration: %w", err)
	}
	s.schemaVersion.Store(remote.Version)
	return nil
}

func newFields(known, expected []string) []string {
	seen := make(map[string]struct{}, len(known))
	for _, f := range known {
		seen[f] = struct{}{}
	}
	var added []string
	for _, f := range expected {
		if _, ok := seen[f]; !ok {
			added = append(added, f)
		}
	}
	return added
}

func (s *Store) injectFieldsInTx(ctx context.Context, tx *sql.Tx, collection string, fields []string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM records WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("failed to read collection %s for migration: %w", collection, err)
	}

	type patch struct {
		id   string
		data []byte
	}
	var patches []patch
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan record during migration: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode record %s:%s during migration: %w", collection, id, err)
		}
		changed := false
		for _, f := range fields {
			if _, ok := doc[f]; !ok {
				doc[f] = nil
				changed = true
			}
		}
		if !changed {
			continue
		}
		updated, err := json.Marshal(doc)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to encode migrated record %s:%s: %w", collection, id, err)
		}
		patches = append(patches, patch{id: id, data: updated})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating collection %s during migration: %w", collection, err)
	}
	rows.Close()

	for _, p := range patches {
		if _, err := tx.ExecContext(ctx, `
			UPDATE records SET data = ? WHERE collection = ? AND id = ?
		`, p.data, collection, p.id); err != nil {
			return fmt.Errorf("failed to write migrated record %s:%s: %w", collection, p.id, err)
		}
	}
	return nil
}

// loadSchema returns the stored descriptor, or nil when none exists.
func (s *Store) loadSchema(ctx context.Context) (*SchemaDescriptor, error) {
	var desc SchemaDescriptor
	var collections []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT version, collections, last_updated_at FROM schema_info LIMIT 1
	`).Scan(&desc.Version, &collections, &desc.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(collections) > 0 {
		if err := json.Unmarshal(collections, &desc.Collections); err != nil {
			return nil, fmt.Errorf("failed to decode schema collections: %w", err)
		}
	}
	return &desc, nil
}

func (s *Store) saveSchema(ctx context.Context, desc *SchemaDescriptor) error {
	return saveSchemaOn(ctx, s.db, desc)
}

// saveSchemaOn replaces the singleton descriptor row.
func saveSchemaOn(ctx context.Context, ex execer, desc *SchemaDescriptor) error {
	collections, err := json.Marshal(desc.Collections)
	if err != nil {
		return fmt.Errorf("failed to encode schema collections: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM schema_info`); err != nil {
		return fmt.Errorf("failed to drop previous schema descriptor: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO schema_info (version, collections, last_updated_at) VALUES (?, ?, ?)
	`, desc.Version, collections, desc.LastUpdatedAt); err != nil {
		return fmt.Errorf("failed to store schema descriptor: %w", err)
	}
	return nil
}
