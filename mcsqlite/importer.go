// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// Importer drives bulk earnings imports (CSV exports and bank statement
// feeds): preview marks duplicates, confirm creates the surviving rows.
type Importer struct {
	store    *Store
	remote   RemoteAPI
	executor *Executor
	logger   *slog.Logger
}

// NewImporter wires the import flow.
func NewImporter(store *Store, remote RemoteAPI, executor *Executor, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, remote: remote, executor: executor, logger: logger}
}

// Preview parses raw import content and marks duplicate rows. Online, the
// server runs the detector against all confirmed records; offline, the
// detector runs locally against on-device rows and the offline flag is
// set so the UI can warn that server-side history was not consulted.
func (im *Importer) Preview(ctx context.Context, content string, source mcsync.ImportSource) (*mcsync.PreviewImportResponse, bool, error) {
	resp, err := im.remote.PreviewImport(ctx, &mcsync.PreviewImportRequest{Content: content, Source: source})
	if err == nil {
		return resp, false, nil
	}
	if !mcsync.IsOffline(err) {
		return nil, false, err
	}
	im.logger.Info("previewing import locally, remote unavailable", "err", err)

	rows, err := mcsync.ParseImportRows(strings.NewReader(content))
	if err != nil {
		return nil, false, &mcsync.ValidationError{Field: "content", Reason: err.Error()}
	}

	known, err := im.store.ListAll(ctx, mcsync.EntityEarnings, windowFor(rows))
	if err != nil {
		return nil, false, err
	}
	local := mcsync.MarkDuplicates(rows, known, source)
	return &local, true, nil
}

// Confirm creates each non-duplicate row through the sync action executor,
// so imported rows get the same offline-first and idempotence guarantees
// as any other create. Duplicates are counted as skipped.
func (im *Importer) Confirm(ctx context.Context, rows []mcsync.ImportRow) (*mcsync.ConfirmImportResponse, error) {
	resp := &mcsync.ConfirmImportResponse{}
	for i := range rows {
		if rows[i].IsDuplicate {
			resp.Skipped++
			continue
		}
		fields, err := importFields(&rows[i])
		if err != nil {
			return resp, err
		}
		if _, err := im.executor.Create(ctx, mcsync.EntityEarnings, fields); err != nil {
			return resp, err
		}
		resp.Imported++
	}
	return resp, nil
}

func importFields(row *mcsync.ImportRow) (mcsync.Fields, error) {
	payload, err := json.Marshal(map[string]string{
		"description": row.Description,
		"source":      "import",
	})
	if err != nil {
		return mcsync.Fields{}, err
	}
	return mcsync.Fields{
		Platform:   row.Platform,
		OccurredAt: row.OccurredAt,
		Amount:     row.Amount,
		Payload:    payload,
	}, nil
}

// windowFor bounds the known-record lookup to the batch's date range,
// padded so bank-date drift still lands inside the window.
func windowFor(rows []mcsync.ImportRow) mcsync.Filter {
	if len(rows) == 0 {
		return mcsync.Filter{}
	}
	from, to := rows[0].OccurredAt, rows[0].OccurredAt
	for i := range rows {
		if rows[i].OccurredAt.Before(from) {
			from = rows[i].OccurredAt
		}
		if rows[i].OccurredAt.After(to) {
			to = rows[i].OccurredAt
		}
	}
	const pad = 7 * 24 * time.Hour
	return mcsync.Filter{From: from.Add(-pad), To: to.Add(pad)}
}
