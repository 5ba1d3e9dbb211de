// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

func seedServer(backend *testBackend, entity mcsync.Entity, n int, base time.Time) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.NewString()
		backend.Server.Seed(entity, mcsync.Record{
			ID:         ids[i],
			Platform:   "uber",
			OccurredAt: base.Add(-time.Duration(i) * time.Hour),
			Amount:     10,
		})
	}
	return ids
}

func TestLoadListMergesPendingFirst(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	seedServer(backend, mcsync.EntityEarnings, 3, base)

	// A local capture older than everything the server has: it must still
	// be pinned to the top of page 1.
	pending := testRecord(99, base.Add(-72*time.Hour))
	require.NoError(t, client.Store.Insert(ctx, mcsync.EntityEarnings, pending))

	view, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)
	require.False(t, view.Offline)
	require.Len(t, view.Records, 4)
	require.Equal(t, pending.ID, view.Records[0].ID)
	require.Equal(t, 1, view.Pending)

	// Aggregates are server-side and exclude the unconfirmed capture.
	require.Equal(t, 3, view.Total)
	require.InDelta(t, 30, view.TotalAmount, 1e-9)
}

func TestLoadListNeverShowsARecordTwice(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	// A record confirmed server-side with a pending local edit: the remote
	// copy takes the display slot, the local edit stays queued.
	rec, err := client.CreateRecord(ctx, mcsync.EntityEarnings, tripFields(20))
	require.NoError(t, err)

	client.Fetcher.BaseURL = deadBaseURL
	amount := 35.0
	_, err = client.UpdateRecord(ctx, mcsync.EntityEarnings, rec.ID, mcsync.Patch{Amount: &amount})
	require.NoError(t, err)
	client.Fetcher.BaseURL = backend.HTTP.URL

	view, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range view.Records {
		seen[r.ID]++
	}
	require.Equal(t, 1, seen[rec.ID])
	require.Zero(t, view.Pending)
	// The displayed copy is the server's stale one.
	require.InDelta(t, 20, view.Records[0].Amount, 1e-9)

	// The edit is still queued and lands on the next pass.
	synced, err := client.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, synced)
	require.InDelta(t, 35.0, backend.Server.Get(mcsync.EntityEarnings, rec.ID).Amount, 1e-9)
}

func TestLoadListOfflineFallback(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	confirmed, err := client.CreateRecord(ctx, mcsync.EntityEarnings, tripFields(100))
	require.NoError(t, err)
	require.True(t, confirmed.Synced())

	client.Fetcher.BaseURL = deadBaseURL
	pending, err := client.CreateRecord(ctx, mcsync.EntityEarnings, tripFields(31.5))
	require.NoError(t, err)
	require.False(t, pending.Synced())

	view, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)
	require.True(t, view.Offline)
	require.Len(t, view.Records, 2)
	require.Equal(t, 2, view.Total)
	require.Equal(t, 1, view.Pending)
	// Aggregates recomputed from on-device rows only.
	require.InDelta(t, 131.5, view.TotalAmount, 1e-9)
	require.Equal(t, 1, view.TotalPages)

	// Offline pagination is disabled.
	_, err = client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 2)
	require.Error(t, err)
}

func TestLoadListDeepPagesAreServerOnly(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	seedServer(backend, mcsync.EntityEarnings, 25, base)

	pending := testRecord(5, base.Add(time.Hour))
	require.NoError(t, client.Store.Insert(ctx, mcsync.EntityEarnings, pending))

	page1, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, page1.Records, 21)
	require.Equal(t, 2, page1.TotalPages)
	require.Equal(t, 1, page1.Pending)

	page2, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, page2.Records, 5)
	require.Zero(t, page2.Pending)
	for _, r := range page2.Records {
		require.NotEqual(t, pending.ID, r.ID)
	}
}

func TestLoadListFilterConsistency(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	backend.Server.Seed(mcsync.EntityEarnings, mcsync.Record{
		ID: uuid.NewString(), Platform: "uber", OccurredAt: base, Amount: 10,
	})
	backend.Server.Seed(mcsync.EntityEarnings, mcsync.Record{
		ID: uuid.NewString(), Platform: "bolt", OccurredAt: base, Amount: 20,
	})

	pendingUber := testRecord(5, base)
	pendingBolt := testRecord(6, base)
	pendingBolt.Platform = "bolt"
	require.NoError(t, client.Store.Insert(ctx, mcsync.EntityEarnings, pendingUber))
	require.NoError(t, client.Store.Insert(ctx, mcsync.EntityEarnings, pendingBolt))

	view, err := client.LoadList(ctx, mcsync.EntityEarnings, mcsync.Filter{Platform: "bolt"}, 1)
	require.NoError(t, err)
	require.Len(t, view.Records, 2)
	require.Equal(t, 1, view.Pending)
	for _, r := range view.Records {
		require.Equal(t, "bolt", r.Platform)
	}
}
