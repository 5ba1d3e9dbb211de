// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

const importCSV = "date,platform,amount,description\n" +
	"2025-06-14,uber,131.75,saturday shift\n" +
	"2025-06-15,bolt,54.20,sunday morning\n"

func TestImportPreviewOnline(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	// The server already knows the saturday shift.
	_, err := client.CreateRecord(ctx, mcsync.EntityEarnings, mcsync.Fields{
		Platform:   "uber",
		OccurredAt: time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC),
		Amount:     131.75,
	})
	require.NoError(t, err)

	preview, offline, err := client.Importer().Preview(ctx, importCSV, mcsync.ImportSourceCSV)
	require.NoError(t, err)
	require.False(t, offline)
	require.Len(t, preview.Rows, 2)
	require.True(t, preview.Rows[0].IsDuplicate)
	require.False(t, preview.Rows[1].IsDuplicate)
	require.Equal(t, 1, preview.DuplicateCount)
	require.InDelta(t, 54.20, preview.TotalAmount, 1e-9)
}

func TestImportPreviewOfflineFallback(t *testing.T) {
	client := newTestClient(t, deadBaseURL)
	ctx := context.Background()

	// Only the local copy knows the saturday shift.
	rec := testRecord(131.75, time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC))
	rec.Classification = ""
	require.NoError(t, client.Store.Insert(ctx, mcsync.EntityEarnings, rec))

	preview, offline, err := client.Importer().Preview(ctx, importCSV, mcsync.ImportSourceCSV)
	require.NoError(t, err)
	require.True(t, offline)
	require.Len(t, preview.Rows, 2)
	require.True(t, preview.Rows[0].IsDuplicate)
	require.False(t, preview.Rows[1].IsDuplicate)
}

func TestImportConfirm(t *testing.T) {
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	rows := []mcsync.ImportRow{
		{Platform: "uber", Amount: 131.75, OccurredAt: time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), Description: "saturday shift", IsDuplicate: true},
		{Platform: "bolt", Amount: 54.20, OccurredAt: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), Description: "sunday morning"},
	}

	resp, err := client.Importer().Confirm(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Imported)
	require.Equal(t, 1, resp.Skipped)

	// Imported rows go through the executor: confirmed server-side and
	// present locally.
	require.Equal(t, 1, backend.Server.Count(mcsync.EntityEarnings))
	all, err := client.Store.ListAll(ctx, mcsync.EntityEarnings, mcsync.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "bolt", all[0].Platform)
	require.True(t, all[0].Synced())
	require.JSONEq(t, `{"description":"sunday morning","source":"import"}`, string(all[0].Payload))
}

func TestImportConfirmOfflineStaysPending(t *testing.T) {
	client := newTestClient(t, deadBaseURL)
	ctx := context.Background()

	rows := []mcsync.ImportRow{
		{Platform: "bolt", Amount: 54.20, OccurredAt: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
	}
	resp, err := client.Importer().Confirm(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Imported)

	pending, err := client.Store.ListUnsynced(ctx, mcsync.EntityEarnings, mcsync.Filter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestImportEndToEndProperty(t *testing.T) {
	// Two identical statement rows, one matching server record: exactly one
	// row imports and one is skipped.
	backend := newTestBackend(t)
	client := newTestClient(t, backend.HTTP.URL)
	ctx := context.Background()

	_, err := client.CreateRecord(ctx, mcsync.EntityEarnings, mcsync.Fields{
		Platform:   "uber",
		OccurredAt: time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC),
		Amount:     20,
	})
	require.NoError(t, err)

	content := "2025-06-14,uber,20.00,payout\n2025-06-14,uber,20.00,payout\n"
	preview, offline, err := client.Importer().Preview(ctx, content, mcsync.ImportSourceCSV)
	require.NoError(t, err)
	require.False(t, offline)

	resp, err := client.Importer().Confirm(ctx, preview.Rows)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Imported)
	require.Equal(t, 1, resp.Skipped)
	require.Equal(t, 2, backend.Server.Count(mcsync.EntityEarnings))
}
