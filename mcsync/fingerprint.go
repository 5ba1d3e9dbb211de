// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// Fingerprint is a content-derived identity for an imported row: the same
// real-world economic event always produces the same fingerprint. It is
// built from {platform/source, amount in cents, calendar day}.
type Fingerprint string

// Near-duplicate thresholds for bank-statement rows. Statement dates drift
// a few days from the platform's own records and descriptions get mangled,
// so bank rows additionally match on amount + close date + similar text.
const (
	bankMaxDayGap        = 3
	bankMaxDistanceRatio = 0.4
)

// FingerprintOf computes the fingerprint for one candidate row.
func FingerprintOf(platform string, amount float64, day time.Time) Fingerprint {
	cents := int64(math.Round(amount * 100))
	return Fingerprint(fmt.Sprintf("%s|%d|%s",
		strings.ToLower(strings.TrimSpace(platform)), cents, day.UTC().Format("2006-01-02")))
}

// RecordFingerprint computes the fingerprint of a confirmed record.
func RecordFingerprint(r *Record) Fingerprint {
	return FingerprintOf(r.Platform, r.Amount, r.OccurredAt)
}

// MarkDuplicates classifies each candidate row against the already-known
// records for the relevant window. It is pure: inputs are not modified and
// no I/O happens.
//
// Matching is multiset-style: each known record cancels at most one
// candidate row, and each accepted row joins the known set so a second
// identical row in the same batch is itself marked duplicate. Rows marked
// duplicate stay in the returned slice for transparency; TotalAmount sums
// only the rows that would actually import.
func MarkDuplicates(rows []ImportRow, known []Record, source ImportSource) PreviewImportResponse {
	counts := make(map[Fingerprint]int, len(known))
	for i := range known {
		counts[RecordFingerprint(&known[i])]++
	}

	// Unconsumed known records for the bank near-match pass.
	remaining := make([]*Record, 0, len(known))
	for i := range known {
		remaining = append(remaining, &known[i])
	}

	resp := PreviewImportResponse{Rows: make([]ImportRow, len(rows))}
	for i, row := range rows {
		fp := FingerprintOf(row.Platform, row.Amount, row.OccurredAt)

		dup := false
		if counts[fp] > 0 {
			counts[fp]--
			dup = true
			// The consumed record must also leave the near-match pool, or
			// one known record could cancel a second candidate there.
			for j := range remaining {
				if RecordFingerprint(remaining[j]) == fp {
					remaining = append(remaining[:j], remaining[j+1:]...)
					break
				}
			}
		} else if source == ImportSourceBank {
			if j := nearMatch(&row, remaining); j >= 0 {
				if fpj := RecordFingerprint(remaining[j]); counts[fpj] > 0 {
					counts[fpj]--
				}
				remaining = append(remaining[:j], remaining[j+1:]...)
				dup = true
			}
		}

		if !dup {
			// Accepted rows join the known set so identical later rows in
			// the same batch are caught.
			counts[fp]++
			resp.TotalAmount += row.Amount
		} else {
			resp.DuplicateCount++
		}

		row.IsDuplicate = dup
		resp.Rows[i] = row
	}
	return resp
}

// nearMatch returns the index of a known record that plausibly describes
// the same event as a bank row, or -1. Amounts must match to the cent,
// dates may drift up to bankMaxDayGap days, and the normalized
// descriptions must be within bankMaxDistanceRatio edit distance.
func nearMatch(row *ImportRow, known []*Record) int {
	rowCents := int64(math.Round(row.Amount * 100))
	for j, rec := range known {
		if int64(math.Round(rec.Amount*100)) != rowCents {
			continue
		}
		if daysApart(row.OccurredAt, rec.OccurredAt) > bankMaxDayGap {
			continue
		}
		desc := descriptionOf(rec)
		if desc == "" || row.Description == "" {
			continue
		}
		a := strings.ToUpper(strings.TrimSpace(row.Description))
		b := strings.ToUpper(strings.TrimSpace(desc))
		dist := levenshtein.ComputeDistance(a, b)
		maxLen := len(a)
		if len(b) > maxLen {
			maxLen = len(b)
		}
		if maxLen == 0 {
			continue
		}
		if float64(dist)/float64(maxLen) < bankMaxDistanceRatio {
			return j
		}
	}
	return -1
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// descriptionOf pulls the free-text description out of a record's opaque
// payload, if the app stored one.
func descriptionOf(r *Record) string {
	if len(r.Payload) == 0 {
		return ""
	}
	var fields struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		return ""
	}
	return fields.Description
}
