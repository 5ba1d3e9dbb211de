// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// trackingKeyActiveTrip is the well-known tracking_state key for the one
// in-progress trip capture.
const trackingKeyActiveTrip = "active_trip"

// ErrTripInProgress is returned when starting a trip while another capture
// is still active.
var ErrTripInProgress = errors.New("a trip capture is already in progress")

// ErrNoActiveTrip is returned by Finish/Discard when nothing is captured.
var ErrNoActiveTrip = errors.New("no trip capture in progress")

// TripSnapshot is the durable state of an in-progress trip capture. It is
// written when the trip starts and survives app restarts; finishing or
// discarding the trip clears it.
type TripSnapshot struct {
	StartedAt      time.Time `json:"started_at"`
	Platform       string    `json:"platform,omitempty"`
	Classification string    `json:"classification,omitempty"`
	StartOdometer  float64   `json:"start_odometer,omitempty"`
	StartLocation  *Location `json:"start_location,omitempty"`
}

// TripStart describes a new capture.
type TripStart struct {
	Platform       string
	Classification string
	StartOdometer  float64
}

// TripEnd closes a capture. Distance may be derived from odometer readings
// when left zero.
type TripEnd struct {
	EndOdometer float64
	Distance    float64
	Notes       string
}

// TripTracker manages the resumable in-progress trip capture on top of
// the store's tracking_state table. Finishing a capture feeds the sync
// action executor, so finished trips get the usual offline-first handling.
type TripTracker struct {
	store    *Store
	executor *Executor
	location LocationProvider
	clock    func() time.Time
	logger   *slog.Logger
}

// NewTripTracker wires the tracker. location may be nil; the no-op
// provider is used so captures simply omit coordinates.
func NewTripTracker(store *Store, executor *Executor, location LocationProvider, logger *slog.Logger) *TripTracker {
	if location == nil {
		location = NoopLocationProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TripTracker{
		store:    store,
		executor: executor,
		location: location,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start begins a new capture. Exactly one capture may be active.
func (t *TripTracker) Start(ctx context.Context, start TripStart) (*TripSnapshot, error) {
	if _, err := t.store.GetState(ctx, trackingKeyActiveTrip); err == nil {
		return nil, ErrTripInProgress
	} else if !errors.Is(err, mcsync.ErrNotFound) {
		return nil, err
	}

	snapshot := &TripSnapshot{
		StartedAt:      t.clock().UTC(),
		Platform:       start.Platform,
		Classification: start.Classification,
		StartOdometer:  start.StartOdometer,
	}
	if t.location.Available() {
		if loc, err := t.location.Current(ctx); err == nil {
			snapshot.StartLocation = &loc
		} else {
			t.logger.Warn("location capture failed, starting trip without it", "err", err)
		}
	}

	value, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trip snapshot: %w", err)
	}
	if err := t.store.SetState(ctx, trackingKeyActiveTrip, value); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Active returns the in-progress capture, or nil when none exists. This is
// how a relaunched app resumes a capture that was interrupted.
func (t *TripTracker) Active(ctx context.Context) (*TripSnapshot, error) {
	value, err := t.store.GetState(ctx, trackingKeyActiveTrip)
	if errors.Is(err, mcsync.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot TripSnapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode trip snapshot: %w", err)
	}
	return &snapshot, nil
}

// Finish closes the capture and creates the trip record through the sync
// executor. The snapshot is cleared only after the local write succeeded,
// so a crash mid-finish leaves the capture resumable.
func (t *TripTracker) Finish(ctx context.Context, end TripEnd) (*mcsync.Record, error) {
	snapshot, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, ErrNoActiveTrip
	}

	distance := end.Distance
	if distance == 0 && end.EndOdometer > snapshot.StartOdometer {
		distance = end.EndOdometer - snapshot.StartOdometer
	}

	var endLocation *Location
	if t.location.Available() {
		if loc, locErr := t.location.Current(ctx); locErr == nil {
			endLocation = &loc
		}
	}
	payload, err := json.Marshal(map[string]any{
		"started_at":     snapshot.StartedAt,
		"ended_at":       t.clock().UTC(),
		"start_odometer": snapshot.StartOdometer,
		"end_odometer":   end.EndOdometer,
		"start_location": snapshot.StartLocation,
		"end_location":   endLocation,
		"notes":          end.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trip payload: %w", err)
	}

	rec, err := t.executor.Create(ctx, mcsync.EntityTrips, mcsync.Fields{
		Classification: snapshot.Classification,
		Platform:       snapshot.Platform,
		OccurredAt:     snapshot.StartedAt,
		Amount:         distance,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}

	if err := t.store.ClearState(ctx, trackingKeyActiveTrip); err != nil {
		return rec, err
	}
	return rec, nil
}

// Discard drops the in-progress capture without creating a record.
func (t *TripTracker) Discard(ctx context.Context) error {
	snapshot, err := t.Active(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return ErrNoActiveTrip
	}
	return t.store.ClearState(ctx, trackingKeyActiveTrip)
}
