// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// ListView is what a list screen renders: the merged records plus paging
// and aggregate information, and whether the view was served offline.
type ListView struct {
	Records    []mcsync.Record
	Page       int
	TotalPages int

	// Total and TotalAmount cover the whole filtered set server-side when
	// online; offline they are recomputed from on-device rows only.
	Total       int
	TotalAmount float64

	// Offline is set when the remote fetch failed and the view was built
	// entirely from local data. Further pagination is disabled while set.
	Offline bool

	// Pending counts the locally-captured records pinned at the top of a
	// page-1 view, so screens can badge "captured, not yet confirmed".
	Pending int
}

// Reconciler produces the list the UI shows by combining what the server
// currently confirms with what exists locally but is not confirmed yet,
// without ever showing one record twice.
type Reconciler struct {
	store    *Store
	remote   RemoteAPI
	pageSize int
	logger   *slog.Logger
}

// NewReconciler wires the reconciliation layer.
func NewReconciler(store *Store, remote RemoteAPI, pageSize int, logger *slog.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, remote: remote, pageSize: pageSize, logger: logger}
}

// LoadList loads one page of the merged view.
//
// Page 1 merges: locally pending records are pinned first so newly
// captured data is always visible regardless of server pagination order,
// and any pending id that already appears in the remote page is dropped
// from the merged view; the remote copy is canonical for display. The
// local row is deliberately not touched: a pending edit stays queued for
// the next sync pass even while the server copy is shown.
//
// Deeper pages are purely server-driven; pending-local merging only ever
// happens on page 1, which is re-fetched on every screen focus.
//
// A remote failure on page 1 falls back to the full local list with the
// Offline flag set; on deeper pages it propagates, because offline
// pagination is disabled.
func (r *Reconciler) LoadList(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter, page int) (*ListView, error) {
	if page < 1 {
		page = 1
	}

	resp, err := r.remote.List(ctx, entity, filter, page, r.pageSize)
	if err != nil {
		if !mcsync.IsOffline(err) {
			return nil, err
		}
		if page > 1 {
			return nil, fmt.Errorf("cannot page past local data while offline: %w", err)
		}
		r.logger.Info("serving local-only list, remote unavailable", "entity", entity, "err", err)
		return r.loadOffline(ctx, entity, filter)
	}

	view := &ListView{
		Page:        resp.Page,
		TotalPages:  resp.TotalPages,
		Total:       resp.Total,
		TotalAmount: resp.TotalAmount,
	}
	if page > 1 {
		view.Records = resp.Data
		return view, nil
	}

	pending, err := r.store.ListUnsynced(ctx, entity, filter)
	if err != nil {
		return nil, err
	}

	remoteIDs := make(map[string]struct{}, len(resp.Data))
	for i := range resp.Data {
		remoteIDs[resp.Data[i].ID] = struct{}{}
	}

	merged := make([]mcsync.Record, 0, len(pending)+len(resp.Data))
	for i := range pending {
		if _, confirmed := remoteIDs[pending[i].ID]; confirmed {
			continue // remote copy wins the display slot
		}
		merged = append(merged, pending[i])
	}
	view.Pending = len(merged)
	view.Records = append(merged, resp.Data...)
	return view, nil
}

// loadOffline builds the page-1 view entirely from the local store and
// recomputes aggregates over on-device rows.
func (r *Reconciler) loadOffline(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter) (*ListView, error) {
	records, err := r.store.ListAll(ctx, entity, filter)
	if err != nil {
		return nil, err
	}

	view := &ListView{
		Records:    records,
		Page:       1,
		TotalPages: 1,
		Total:      len(records),
		Offline:    true,
	}
	for i := range records {
		view.TotalAmount += records[i].Amount
		if !records[i].Synced() {
			view.Pending++
		}
	}
	return view, nil
}
