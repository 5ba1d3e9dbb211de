// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

type fixedLocation struct {
	loc Location
}

func (f fixedLocation) Available() bool                          { return true }
func (f fixedLocation) Current(context.Context) (Location, error) { return f.loc, nil }

func newTestTracker(t *testing.T, path string, location LocationProvider) (*TripTracker, *Store) {
	t.Helper()
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	executor := NewExecutor(store, NewFetcher(deadBaseURL, StaticToken("t")), nil)
	return NewTripTracker(store, executor, location, nil), store
}

func TestTripStartAndActive(t *testing.T) {
	tracker, _ := newTestTracker(t, filepath.Join(t.TempDir(), "trips.db"), nil)
	ctx := context.Background()

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	snapshot, err := tracker.Start(ctx, TripStart{
		Platform:       "uber",
		Classification: "business",
		StartOdometer:  12000,
	})
	require.NoError(t, err)
	require.False(t, snapshot.StartedAt.IsZero())
	require.Nil(t, snapshot.StartLocation)

	active, err = tracker.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "uber", active.Platform)
	require.InDelta(t, 12000, active.StartOdometer, 1e-9)

	// Only one capture at a time.
	_, err = tracker.Start(ctx, TripStart{Platform: "bolt"})
	require.ErrorIs(t, err, ErrTripInProgress)
}

func TestTripSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.db")
	ctx := context.Background()

	tracker, store := newTestTracker(t, path, nil)
	_, err := tracker.Start(ctx, TripStart{Platform: "uber", StartOdometer: 500})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// A relaunched app sees the capture and can finish it.
	tracker2, _ := newTestTracker(t, path, nil)
	active, err := tracker2.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.InDelta(t, 500, active.StartOdometer, 1e-9)

	rec, err := tracker2.Finish(ctx, TripEnd{EndOdometer: 512.5})
	require.NoError(t, err)
	require.InDelta(t, 12.5, rec.Amount, 1e-9)
}

func TestTripFinishDerivesDistance(t *testing.T) {
	tracker, store := newTestTracker(t, filepath.Join(t.TempDir(), "trips.db"), fixedLocation{Location{51.5, -0.12}})
	ctx := context.Background()

	snapshot, err := tracker.Start(ctx, TripStart{
		Platform:       "uber",
		Classification: "business",
		StartOdometer:  100,
	})
	require.NoError(t, err)
	require.NotNil(t, snapshot.StartLocation)
	require.InDelta(t, 51.5, snapshot.StartLocation.Latitude, 1e-9)

	rec, err := tracker.Finish(ctx, TripEnd{EndOdometer: 118, Notes: "two drops"})
	require.NoError(t, err)
	require.InDelta(t, 18, rec.Amount, 1e-9)
	require.Equal(t, "business", rec.Classification)
	// Offline executor: the finished trip waits as a pending record.
	require.False(t, rec.Synced())

	pending, err := store.ListUnsynced(ctx, mcsync.EntityTrips, mcsync.Filter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Capture is cleared; finishing again is an error.
	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Nil(t, active)
	_, err = tracker.Finish(ctx, TripEnd{EndOdometer: 120})
	require.ErrorIs(t, err, ErrNoActiveTrip)
}

func TestTripFinishExplicitDistanceWins(t *testing.T) {
	tracker, _ := newTestTracker(t, filepath.Join(t.TempDir(), "trips.db"), nil)
	ctx := context.Background()

	_, err := tracker.Start(ctx, TripStart{Platform: "uber", StartOdometer: 100})
	require.NoError(t, err)

	rec, err := tracker.Finish(ctx, TripEnd{EndOdometer: 118, Distance: 17.2})
	require.NoError(t, err)
	require.InDelta(t, 17.2, rec.Amount, 1e-9)
}

func TestTripDiscard(t *testing.T) {
	tracker, store := newTestTracker(t, filepath.Join(t.TempDir(), "trips.db"), nil)
	ctx := context.Background()

	require.ErrorIs(t, tracker.Discard(ctx), ErrNoActiveTrip)

	_, err := tracker.Start(ctx, TripStart{Platform: "uber"})
	require.NoError(t, err)
	require.NoError(t, tracker.Discard(ctx))

	active, err := tracker.Active(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	// No record was created.
	all, err := store.ListAll(ctx, mcsync.EntityTrips, mcsync.Filter{})
	require.NoError(t, err)
	require.Empty(t, all)
}
