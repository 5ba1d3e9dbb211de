// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// Config holds configuration for the client engine.
type Config struct {
	BaseURL    string        // record API base URL, e.g. "https://api.example.com/v1"
	PageSize   int           // e.g. 20 per list page
	SyncEvery  time.Duration // background sync pass cadence
	BackoffMax time.Duration // upper bound while the server stays unreachable
	Logger     *slog.Logger
}

// DefaultConfig returns a default configuration for the given API base URL.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:    baseURL,
		PageSize:   20,
		SyncEvery:  15 * time.Second,
		BackoffMax: 5 * time.Minute,
	}
}

// Client is the engine facade handed to UI collaborators: list loading
// with reconciliation, the mutation entry points, bulk import, trip
// capture and the background sync loop.
type Client struct {
	Store   *Store
	Fetcher *Fetcher

	session    Session
	executor   *Executor
	reconciler *Reconciler
	importer   *Importer
	tracker    *TripTracker
	logger     *slog.Logger

	timer      *IntervalTimer
	syncEvery  time.Duration
	backoffMax time.Duration

	mu          sync.Mutex
	backoff     time.Duration
	nextAttempt time.Time
}

// NewClient wires the engine over an open SQLite handle. The session is
// an explicit value, not ambient state; location may be nil.
func NewClient(db *sql.DB, session Session, location LocationProvider, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("config.BaseURL must be provided")
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}

	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user", session.UserID, "device", session.DeviceID)

	syncEvery := config.SyncEvery
	if syncEvery <= 0 {
		syncEvery = 15 * time.Second
	}
	backoffMax := config.BackoffMax
	if backoffMax < syncEvery {
		backoffMax = syncEvery
	}

	fetcher := NewFetcher(config.BaseURL, session.Token)
	executor := NewExecutor(store, fetcher, logger)

	return &Client{
		Store:      store,
		Fetcher:    fetcher,
		session:    session,
		executor:   executor,
		reconciler: NewReconciler(store, fetcher, config.PageSize, logger),
		importer:   NewImporter(store, fetcher, executor, logger),
		tracker:    NewTripTracker(store, executor, location, logger),
		logger:     logger,
		timer:      NewIntervalTimer(),
		syncEvery:  syncEvery,
		backoffMax: backoffMax,
		backoff:    syncEvery,
	}, nil
}

// LoadList returns the merged/authoritative view for a list screen.
func (c *Client) LoadList(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter, page int) (*ListView, error) {
	return c.reconciler.LoadList(ctx, entity, filter, page)
}

// CreateRecord captures a new record locally and pushes it best-effort.
func (c *Client) CreateRecord(ctx context.Context, entity mcsync.Entity, fields mcsync.Fields) (*mcsync.Record, error) {
	return c.executor.Create(ctx, entity, fields)
}

// UpdateRecord applies an edit locally and pushes it best-effort.
func (c *Client) UpdateRecord(ctx context.Context, entity mcsync.Entity, id string, patch mcsync.Patch) (*mcsync.Record, error) {
	return c.executor.Update(ctx, entity, id, patch)
}

// DeleteRecord deletes a record; remote failures for confirmed rows are
// returned for the user to acknowledge.
func (c *Client) DeleteRecord(ctx context.Context, entity mcsync.Entity, id string) error {
	return c.executor.Delete(ctx, entity, id)
}

// GetRecord hydrates an edit form from the local copy.
func (c *Client) GetRecord(ctx context.Context, entity mcsync.Entity, id string) (*mcsync.Record, error) {
	return c.Store.GetOne(ctx, entity, id)
}

// SyncPending re-pushes everything the server has not confirmed. Call on
// app foreground, pull-to-refresh and connectivity regain. Being offline
// is not an error here; leftover rows just wait for the next pass.
func (c *Client) SyncPending(ctx context.Context) (int, error) {
	synced, err := c.executor.SyncAllPending(ctx)
	if err != nil && mcsync.IsOffline(err) {
		return synced, nil
	}
	return synced, err
}

// Importer exposes the bulk import flow.
func (c *Client) Importer() *Importer { return c.importer }

// Tracker exposes the resumable trip capture flow.
func (c *Client) Tracker() *TripTracker { return c.tracker }

// Start launches the background sync loop at the configured SyncEvery
// cadence. Passes that fail while unreachable back off exponentially up
// to BackoffMax and recover to the configured cadence on the first
// success.
func (c *Client) Start() error {
	c.mu.Lock()
	c.backoff = c.syncEvery
	c.nextAttempt = time.Time{}
	c.mu.Unlock()

	return c.timer.Start(c.syncEvery, c.backgroundPass)
}

// Stop halts the background sync loop; in-flight work completes first.
func (c *Client) Stop() { c.timer.Stop() }

func (c *Client) backgroundPass() {
	c.mu.Lock()
	if time.Now().Before(c.nextAttempt) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	synced, err := c.executor.SyncAllPending(context.Background())
	if synced > 0 {
		c.logger.Info("background sync confirmed records", "count", synced)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.backoff *= 2
		if c.backoff > c.backoffMax {
			c.backoff = c.backoffMax
		}
		c.nextAttempt = time.Now().Add(c.backoff)
		c.logger.Warn("background sync pass failed", "err", err, "retry_in", c.backoff)
		return
	}
	c.backoff = c.syncEvery
	c.nextAttempt = time.Time{}
}
