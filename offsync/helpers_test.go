// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// openTestDB returns an initialized in-memory database. A single connection
// is enforced so transactions and plain queries share the same memory DB.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, initializeDatabase(db))
	return db
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// fakeRemote records dispatched operations and fails the record ids it is
// told to fail.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fail: make(map[string]error)}
}

func (f *fakeRemote) record(op, endpoint, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s %s/%s", op, endpoint, id))
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) Create(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	id, err := extractID(payload)
	if err != nil {
		return nil, err
	}
	f.record("create", endpoint, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return payload, nil
}

func (f *fakeRemote) Update(ctx context.Context, endpoint, id string, payload json.RawMessage) (json.RawMessage, error) {
	f.record("update", endpoint, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeRemote) Delete(ctx context.Context, endpoint, id string) error {
	f.record("delete", endpoint, id)
	return f.fail[id]
}
