// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RemoteService is the boundary to the authoritative HTTP API. The sync
// engine resolves a per-collection endpoint path and dispatches through this
// interface; tests substitute a fake.
type RemoteService interface {
	Create(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, endpoint, id string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, endpoint, id string) error
}

// Remote talks to the authoritative service over HTTP with bearer-token
// auth. Timeouts and retries beyond what the queue provides are the
// transport's concern, not this layer's.
type Remote struct {
	BaseURL  string
	Token    TokenFunc // optional; nil sends unauthenticated requests
	ClientID string    // sent as X-Client-ID on every request
	HTTP     *http.Client
	logger   *slog.Logger
}

// NewRemote creates an HTTP remote bound to baseURL.
func NewRemote(baseURL string, token TokenFunc, clientID string, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		BaseURL:  baseURL,
		Token:    token,
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Create POSTs a new entity to the collection endpoint and returns the
// entity the server applied.
func (r *Remote) Create(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPost, r.BaseURL+endpoint, payload)
}

// Update PUTs a partial entity to {endpoint}/{id}.
func (r *Remote) Update(ctx context.Context, endpoint, id string, payload json.RawMessage) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPut, r.BaseURL+endpoint+"/"+id, payload)
}

// Delete issues DELETE {endpoint}/{id}.
func (r *Remote) Delete(ctx context.Context, endpoint, id string) error {
	_, err := r.do(ctx, http.MethodDelete, r.BaseURL+endpoint+"/"+id, nil)
	return err
}

// FetchSchema retrieves the remote schema descriptor from /schema.
func (r *Remote) FetchSchema(ctx context.Context) (*SchemaDescriptor, error) {
	body, err := r.do(ctx, http.MethodGet, r.BaseURL+"/schema", nil)
	if err != nil {
		return nil, err
	}
	var desc SchemaDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("failed to decode schema descriptor: %w", err)
	}
	return &desc, nil
}

func (r *Remote) do(ctx context.Context, method, url string, payload json.RawMessage) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.ClientID != "" {
		req.Header.Set("X-Client-ID", r.ClientID)
	}
	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}
