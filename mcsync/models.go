// Package mcsync defines the shared contract between the MileClear offline
// client engine and the record sync server: syncable record shapes, list
// filters, wire models, the error taxonomy and the duplicate fingerprint
// detector used by bulk imports.
//
// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import (
	"encoding/json"
	"time"
)

// Entity identifies one syncable record table.
type Entity string

const (
	EntityTrips    Entity = "trips"
	EntityFuelLogs Entity = "fuel_logs"
	EntityEarnings Entity = "earnings"
)

// Entities lists every syncable entity in a stable order.
var Entities = []Entity{EntityTrips, EntityFuelLogs, EntityEarnings}

// Valid reports whether e names a known syncable entity.
func (e Entity) Valid() bool {
	switch e {
	case EntityTrips, EntityFuelLogs, EntityEarnings:
		return true
	default:
		return false
	}
}

// Record is the engine-level shape shared by trips, fuel logs and earnings.
//
// The engine promotes the handful of columns it filters and aggregates on
// (classification, platform, occurred_at, amount); everything else the app
// attaches to a record travels opaquely in Payload. ID is client-generated
// at creation time and is the sole idempotency key for every later
// operation on the record. SyncedAt is nil until the server confirms the
// row; a nil SyncedAt marks the row as locally pending.
type Record struct {
	ID             string          `json:"id"`
	Classification string          `json:"classification,omitempty"`
	Platform       string          `json:"platform,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Amount         float64         `json:"amount"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SyncedAt       *time.Time      `json:"synced_at,omitempty"`

	// Revision is local-only bookkeeping: bumped on every local edit, it
	// lets a server confirmation be applied only when the row is still the
	// exact content that was pushed. It never crosses the wire.
	Revision int64 `json:"-"`
}

// Synced reports whether the server has confirmed this record.
func (r *Record) Synced() bool { return r.SyncedAt != nil }

// Fields is the caller-supplied content of a create action. The id is
// generated by the sync executor, never by the caller.
type Fields struct {
	Classification string          `json:"classification,omitempty"`
	Platform       string          `json:"platform,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Amount         float64         `json:"amount"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Patch is a partial update. Nil members leave the stored value unchanged.
type Patch struct {
	Classification *string         `json:"classification,omitempty"`
	Platform       *string         `json:"platform,omitempty"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
	Amount         *float64        `json:"amount,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Apply returns a copy of r with the patch applied. SyncedAt is cleared:
// an edit to a confirmed record makes it provisionally unsynced again.
func (p Patch) Apply(r Record) Record {
	if p.Classification != nil {
		r.Classification = *p.Classification
	}
	if p.Platform != nil {
		r.Platform = *p.Platform
	}
	if p.OccurredAt != nil {
		r.OccurredAt = *p.OccurredAt
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if len(p.Payload) > 0 {
		r.Payload = p.Payload
	}
	r.SyncedAt = nil
	return r
}

// Filter narrows list operations. Zero values match everything. From/To are
// inclusive bounds on the record's domain timestamp.
type Filter struct {
	Classification string    `json:"classification,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	From           time.Time `json:"from,omitempty"`
	To             time.Time `json:"to,omitempty"`
}

// IsZero reports whether the filter matches all records.
func (f Filter) IsZero() bool {
	return f.Classification == "" && f.Platform == "" && f.From.IsZero() && f.To.IsZero()
}

// Matches applies the filter in memory. The local store applies the same
// predicate in SQL; both paths must agree so merged lists stay consistent.
func (f Filter) Matches(r *Record) bool {
	if f.Classification != "" && r.Classification != f.Classification {
		return false
	}
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if !f.From.IsZero() && r.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.OccurredAt.After(f.To) {
		return false
	}
	return true
}
