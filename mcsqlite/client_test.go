// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

func TestNewClientValidation(t *testing.T) {
	store := newTestStore(t)
	session := testSession(t)

	_, err := NewClient(store.DB(), session, nil, nil)
	require.ErrorContains(t, err, "config")

	_, err = NewClient(store.DB(), session, nil, &Config{})
	require.ErrorContains(t, err, "BaseURL")

	_, err = NewClient(store.DB(), Session{}, nil, DefaultConfig("http://example.test"))
	require.ErrorContains(t, err, "session")
}

func TestOfflineCaptureReconnectRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, deadBaseURL)
	ctx := context.Background()

	// Capture a handful of records with no connectivity.
	amounts := []float64{18.4, 52.10, 131.75}
	for _, amount := range amounts {
		_, err := client.CreateRecord(ctx, mcsync.EntityEarnings, tripFields(amount))
		require.NoError(t, err)
	}

	offline, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)
	require.True(t, offline.Offline)
	require.Len(t, offline.Records, 3)
	require.Equal(t, 3, offline.Pending)
	require.InDelta(t, 202.25, offline.TotalAmount, 1e-9)

	// Reconnect: every capture reaches the server exactly once.
	client.Fetcher.BaseURL = backend.HTTP.URL
	synced, err := client.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, synced)
	require.Equal(t, 3, backend.Server.Count(mcsync.EntityEarnings))

	online, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)
	require.False(t, online.Offline)
	require.Len(t, online.Records, 3)
	require.Zero(t, online.Pending)
	require.InDelta(t, 202.25, online.TotalAmount, 1e-9)
}

func TestBackgroundSyncLoop(t *testing.T) {
	backend := newTestBackend(t)
	config := DefaultConfig(deadBaseURL)
	config.SyncEvery = 20 * time.Millisecond
	config.BackoffMax = time.Second
	client := newTestClientConfig(t, config)
	ctx := context.Background()

	_, err := client.CreateRecord(ctx, mcsync.EntityTrips, tripFields(18.4))
	require.NoError(t, err)

	client.Fetcher.BaseURL = backend.HTTP.URL
	require.NoError(t, client.Start())
	defer client.Stop()

	require.Eventually(t, func() bool {
		return backend.Server.Count(mcsync.EntityTrips) == 1
	}, 3*time.Second, 20*time.Millisecond)

	pending, err := client.Store.ListUnsynced(ctx, mcsync.EntityTrips, mcsync.Filter{})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestBackgroundSyncBacksOffWhileUnreachable(t *testing.T) {
	config := DefaultConfig(deadBaseURL)
	config.SyncEvery = 10 * time.Millisecond
	config.BackoffMax = time.Minute
	client := newTestClientConfig(t, config)
	ctx := context.Background()

	_, err := client.CreateRecord(ctx, mcsync.EntityTrips, tripFields(18.4))
	require.NoError(t, err)

	require.NoError(t, client.Start())
	defer client.Stop()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.backoff > 10*time.Millisecond && !client.nextAttempt.IsZero()
	}, 3*time.Second, 10*time.Millisecond)

	// Still pending; nothing was lost.
	pending, err := client.Store.ListUnsynced(ctx, mcsync.EntityTrips, mcsync.Filter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestClientStopIsIdempotent(t *testing.T) {
	config := DefaultConfig(deadBaseURL)
	config.SyncEvery = time.Hour
	client := newTestClientConfig(t, config)
	require.NoError(t, client.Start())
	client.Stop()
	client.Stop()

	// Restartable after a stop.
	require.NoError(t, client.Start())
	client.Stop()
}

func TestClientSharedDatabaseAcrossRestart(t *testing.T) {
	backend := newTestBackend(t)
	path := filepath.Join(t.TempDir(), "app.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	client, err := NewClient(store.DB(), testSession(t), nil, DefaultConfig(deadBaseURL))
	require.NoError(t, err)

	rec, err := client.CreateRecord(ctx, mcsync.EntityEarnings, tripFields(40))
	require.NoError(t, err)
	require.False(t, rec.Synced())
	require.NoError(t, store.Close())

	// Relaunch with connectivity: the pending capture survives and syncs.
	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()
	client2, err := NewClient(store2.DB(), testSession(t), nil, DefaultConfig(backend.HTTP.URL))
	require.NoError(t, err)

	synced, err := client2.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, synced)
	require.NotNil(t, backend.Server.Get(mcsync.EntityEarnings, rec.ID))
}
