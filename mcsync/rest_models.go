// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import "time"

// ListResponse is one page of server-confirmed records plus aggregate
// totals computed over the whole filtered set, not just the page.
type ListResponse struct {
	Data       []Record `json:"data"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
	Total      int      `json:"total"`

	// TotalAmount sums the amount column across every record matching the
	// filter. Offline fallbacks recompute it from local rows only.
	TotalAmount float64 `json:"total_amount"`
}

// CreateRequest carries a client-generated id plus the record fields. The
// server must treat an already-known id as a no-op and return the existing
// record, which is what makes create retries idempotent.
type CreateRequest struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// UpdateRequest carries a partial update for an existing record.
type UpdateRequest struct {
	Patch Patch `json:"patch"`
}

// ImportRow is one candidate row of a bulk import (CSV parse or bank
// transaction feed). IsDuplicate is set by the fingerprint detector; rows
// marked duplicate are excluded from the confirmed-import count but still
// returned so the user can see what was skipped.
type ImportRow struct {
	Platform    string    `json:"platform"`
	Amount      float64   `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description,omitempty"`
	IsDuplicate bool      `json:"is_duplicate"`
}

// ImportSource hints how raw import content should be parsed and how
// aggressively near-duplicates are matched.
type ImportSource string

const (
	ImportSourceCSV  ImportSource = "csv"
	ImportSourceBank ImportSource = "bank"
)

// PreviewImportRequest asks the server to parse raw content and mark
// duplicates against its confirmed records.
type PreviewImportRequest struct {
	Content string       `json:"content"`
	Source  ImportSource `json:"source"`
}

// PreviewImportResponse is the marked-up candidate batch.
type PreviewImportResponse struct {
	Rows           []ImportRow `json:"rows"`
	DuplicateCount int         `json:"duplicate_count"`
	TotalAmount    float64     `json:"total_amount"`
}

// ConfirmImportRequest commits the non-duplicate rows of a previewed batch.
type ConfirmImportRequest struct {
	Rows []ImportRow `json:"rows"`
}

// ConfirmImportResponse reports how the batch was applied.
type ConfirmImportResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}
