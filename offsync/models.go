// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import "encoding/json"

// SyncStatus describes how a cached record relates to the remote service.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// MutationType identifies the kind of write intent carried by a queue entry.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// Record is one cached snapshot of a remote entity. At most one Record
// exists per (collection, id) pair; Put replaces any previous snapshot.
type Record struct {
	Collection    string
	ID            string
	Data          json.RawMessage
	SyncStatus    SyncStatus
	LastModified  int64 // unix milliseconds
	Version       int64 // local edit counter
	SchemaVersion int64
}

// Key returns the identity key of the record.
func (r *Record) Key() string {
	return r.Collection + ":" + r.ID
}

// QueuedMutation is one durable write intent awaiting remote application.
// Queue order is defined by SequenceID; the sync engine applies entries
// strictly in that order.
type QueuedMutation struct {
	SequenceID int64
	Type       MutationType
	Collection string
	RecordID   string
	Payload    json.RawMessage // nil for delete
	EnqueuedAt int64           // unix milliseconds; doubles as "last attempted" after a failure
	ScopeID    string          // optional tenant/organization scope, "" when absent
	RetryCount int
	LastError  string
}

// SchemaDescriptor describes the negotiated local/remote schema shape.
// Exactly one descriptor row is stored locally at any time.
type SchemaDescriptor struct {
	Version       int64               `json:"version"`
	Collections   map[string][]string `json:"collections"`
	LastUpdatedAt int64               `json:"last_updated_at"`
}

// CacheSnapshot is an opaque blob persisted for the client-side read cache.
// ScopeID is stored but not used for slot partitioning.
type CacheSnapshot struct {
	SlotKey   string
	Snapshot  json.RawMessage
	UpdatedAt int64
	ScopeID   string
}

// SyncResult tallies one drain pass of the mutation queue.
type SyncResult struct {
	Processed int
	Failed    int
}
