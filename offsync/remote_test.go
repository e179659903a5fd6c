// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoteCreateSendsAuthHeaders(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotClientID string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotClientID = r.Header.Get("X-Client-ID")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"t1","name":"Drill","created_by":"server"}`))
	}))
	defer server.Close()

	remote := NewRemote(server.URL, StaticToken("test-token"), "client-123", nil)
	entity, err := remote.Create(context.Background(), "/tools", []byte(`{"id":"t1","name":"Drill"}`))
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/tools", gotPath)
	require.Equal(t, "Bearer test-token", gotAuth)
	require.Equal(t, "client-123", gotClientID)
	require.JSONEq(t, `{"id":"t1","name":"Drill"}`, string(gotBody))
	require.JSONEq(t, `{"id":"t1","name":"Drill","created_by":"server"}`, string(entity))
}

func TestRemoteUpdateAndDeletePaths(t *testing.T) {
	var paths []string
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	remote := NewRemote(server.URL, nil, "", nil)
	ctx := context.Background()

	entity, err := remote.Update(ctx, "/tools", "t1", []byte(`{"status":"checked_out"}`))
	require.NoError(t, err)
	require.Nil(t, entity, "an empty body yields no entity")

	require.NoError(t, remote.Delete(ctx, "/tools", "t1"))

	require.Equal(t, []string{"/tools/t1", "/tools/t1"}, paths)
	require.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestRemoteSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such tool", http.StatusNotFound)
	}))
	defer server.Close()

	remote := NewRemote(server.URL, nil, "", nil)
	_, err := remote.Create(context.Background(), "/tools", []byte(`{"id":"t1"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
	require.Contains(t, err.Error(), "no such tool")
}

func TestRemoteFetchSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/schema", r.URL.Path)
		desc := SchemaDescriptor{
			Version:       3,
			Collections:   map[string][]string{"tools": {"id", "name"}},
			LastUpdatedAt: 42,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(desc)
	}))
	defer server.Close()

	remote := NewRemote(server.URL, nil, "", nil)
	desc, err := remote.FetchSchema(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), desc.Version)
	require.Equal(t, []string{"id", "name"}, desc.Collections["tools"])
}
