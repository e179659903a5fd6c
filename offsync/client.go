// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

// Package offsync is an offline-first local/remote synchronization layer.
//
// Reads and writes proceed against a durable SQLite cache while the network
// is unavailable; a durable mutation queue records every write intent, and a
// sync engine drains the queue in order against the authoritative HTTP
// service once connectivity returns. Conflict handling is last-write-wins
// and delivery to the remote service is at-least-once; remote operations
// must tolerate replay.
package offsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration for the sync client.
type Config struct {
	Routes       Routes        // collection -> endpoint mapping for the drain
	SyncInterval time.Duration // background drain cadence
	MaxAttempts  int           // 0 = retry queued mutations forever
	Logger       *slog.Logger  // nil = slog.Default()
}

// DefaultConfig returns a configuration for the given routes with a
// 30-second background drain and unbounded retries.
func DefaultConfig(routes Routes) *Config {
	return &Config{
		Routes:       routes,
		SyncInterval: 30 * time.Second,
		MaxAttempts:  0,
	}
}

// Client ties the offline-sync components together over one SQLite database:
// local store, mutation queue, executor, sync engine, background scheduler,
// and read-cache persister. All durable state lives in the database handed
// to NewClient; the client itself holds no state that survives a restart.
type Client struct {
	DB        *sql.DB
	ClientID  string
	Store     *Store
	Queue     *Queue
	Executor  *Executor
	Engine    *Engine
	Persister *CachePersister
	Remote    *Remote

	conn      Connectivity
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler

	stopSync    func()
	unsubscribe func()
}

// NewClient initializes the database (tables, pragmas, persisted client id)
// and wires all components. The connectivity source decides online/offline
// behavior for the executor and scheduler; pass a Signal fed by the host
// environment.
func NewClient(db *sql.DB, baseURL string, token TokenFunc, conn Connectivity, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if conn == nil {
		return nil, fmt.Errorf("connectivity source cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	clientID, err := EnsureClientID(db)
	if err != nil {
		return nil, err
	}

	remote := NewRemote(baseURL, token, clientID, logger)
	queue := NewQueue(db, logger)
	store := NewStore(db, logger)
	engine := NewEngine(queue, store, remote, config.Routes, config.MaxAttempts, logger)

	c := &Client{
		DB:        db,
		ClientID:  clientID,
		Store:     store,
		Queue:     queue,
		Executor:  NewExecutor(store, queue, conn, logger),
		Engine:    engine,
		Persister: NewCachePersister(db, logger),
		Remote:    remote,
		conn:      conn,
		config:    config,
		logger:    logger,
		scheduler: NewScheduler(engine, conn, logger),
	}
	return c, nil
}

// Start checks the remote schema (best-effort), launches the background
// scheduler, and subscribes to connectivity transitions so that a restored
// connection triggers an immediate drain.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Store.CheckSchema(ctx, c.Remote); err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}

	c.stopSync = c.scheduler.Start(ctx, c.config.SyncInterval, nil)

	if sig, ok := c.conn.(*Signal); ok {
		c.unsubscribe = sig.Subscribe(func(online bool) {
			if !online {
				return
			}
			go func() {
				result := c.Engine.SyncPending(ctx)
				c.logger.Info("drained queue after connectivity restore",
					"processed", result.Processed, "failed", result.Failed)
			}()
		})
	}
	return nil
}

// Stop cancels the background scheduler and the connectivity subscription.
// An in-flight drain runs to completion.
func (c *Client) Stop() {
	if c.stopSync != nil {
		c.stopSync()
		c.stopSync = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// EnsureClientID returns the persisted client identifier, generating and
// storing a new one on first use.
func EnsureClientID(db *sql.DB) (string, error) {
	var clientID string
	err := db.QueryRow(`SELECT client_id FROM client_info LIMIT 1`).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		clientID = uuid.New().String()
		if _, err := db.Exec(`
			INSERT INTO client_info (client_id, created_at) VALUES (?, ?)
		`, clientID, time.Now().UnixMilli()); err != nil {
			return "", fmt.Errorf("failed to persist client id: %w", err)
		}
		return clientID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query client id: %w", err)
	}
	return clientID, nil
}

// initializeDatabase creates the durable tables and enables WAL mode and
// foreign keys. Safe to call on every open.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection     TEXT NOT NULL,
			id             TEXT NOT NULL,
			data           TEXT NOT NULL,
			sync_status    TEXT NOT NULL CHECK (sync_status IN ('synced','pending','conflict')),
			last_modified  INTEGER NOT NULL,
			version        INTEGER NOT NULL DEFAULT 0,
			schema_version INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection ON records (collection)`,
		`CREATE INDEX IF NOT EXISTS idx_records_last_modified ON records (last_modified)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			sequence_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			mutation_type TEXT NOT NULL CHECK (mutation_type IN ('create','update','delete')),
			collection    TEXT NOT NULL,
			record_id     TEXT NOT NULL,
			payload       TEXT,
			enqueued_at   INTEGER NOT NULL,
			scope_id      TEXT,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			last_error    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON sync_queue (collection, record_id, enqueued_at)`,

		`CREATE TABLE IF NOT EXISTS schema_info (
			version         INTEGER PRIMARY KEY,
			collections     TEXT,
			last_updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cache (
			slot_key   TEXT PRIMARY KEY,
			snapshot   TEXT,
			updated_at INTEGER NOT NULL,
			scope_id   TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS client_info (
			client_id  TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create sync table: %w", err)
		}
	}
	return nil
}
