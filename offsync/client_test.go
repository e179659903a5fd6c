// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientWiresComponents(t *testing.T) {
	db := openTestDB(t)

	client, err := NewClient(db, "http://localhost:0", nil, NewSignal(false), DefaultConfig(testRoutes))
	require.NoError(t, err)
	require.NotEmpty(t, client.ClientID)
	require.NotNil(t, client.Store)
	require.NotNil(t, client.Queue)
	require.NotNil(t, client.Executor)
	require.NotNil(t, client.Engine)
	require.NotNil(t, client.Persister)
	require.NotNil(t, client.Remote)
	require.Equal(t, client.ClientID, client.Remote.ClientID)

	// The client id survives re-opening the client over the same database.
	again, err := NewClient(db, "http://localhost:0", nil, NewSignal(false), DefaultConfig(testRoutes))
	require.NoError(t, err)
	require.Equal(t, client.ClientID, again.ClientID)
}

func TestNewClientRejectsNilConfig(t *testing.T) {
	db := openTestDB(t)

	_, err := NewClient(db, "", nil, NewSignal(false), nil)
	require.Error(t, err)

	_, err = NewClient(db, "", nil, nil, DefaultConfig(nil))
	require.Error(t, err)
}

func TestConnectivityRestoreTriggersDrain(t *testing.T) {
	var created atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/schema":
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		case r.URL.Path == "/tools" && r.Method == http.MethodPost:
			created.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"t1","name":"Drill"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	db := openTestDB(t)
	sig := NewSignal(false)
	config := DefaultConfig(testRoutes)
	config.SyncInterval = time.Hour // keep the ticker out of this test

	client, err := NewClient(db, server.URL, nil, sig, config)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	// Queue a write while offline.
	result, err := client.Executor.ExecuteOrQueue(ctx, "tools", MutationCreate, "t1",
		rawJSON(t, map[string]any{"id": "t1", "name": "Drill"}), "", nil)
	require.NoError(t, err)
	require.Nil(t, result)

	sig.Set(true)

	require.Eventually(t, func() bool {
		pending, err := client.Queue.ListPending(ctx)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond, "restoring connectivity drains the queue")
	require.Equal(t, int32(1), created.Load())

	rec, err := client.Store.Get(ctx, "tools", "t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusSynced, rec.SyncStatus)
}

func TestClientStartTolerantOfUnreachableSchema(t *testing.T) {
	db := openTestDB(t)
	sig := NewSignal(false)
	config := DefaultConfig(testRoutes)
	config.SyncInterval = time.Hour

	client, err := NewClient(db, "http://127.0.0.1:1", nil, sig, config)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()), "an unreachable schema endpoint must not block startup")
	client.Stop()
}
