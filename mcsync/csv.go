// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// Accepted date layouts for import rows, tried in order.
var importDateLayouts = []string{"2006-01-02", "2/01/2006", "02/01/2006"}

// ParseImportRows parses raw import content into candidate rows. Expected
// columns are date, platform, amount, description; a header line and extra
// trailing columns are tolerated. Malformed rows are skipped rather than
// failing the batch; bank exports routinely contain ruled-off lines and
// running-balance footers.
func ParseImportRows(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var rows []ImportRow
	for {
		rec, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return rows, err
		}
		if len(rec) < 3 {
			continue
		}

		occurredAt, err := parseImportDate(strings.TrimSpace(rec[0]))
		if err != nil {
			continue // header or junk line
		}
		platform := strings.ToLower(strings.TrimSpace(rec[1]))
		amount, err := parseImportAmount(strings.TrimSpace(rec[2]))
		if err != nil || amount <= 0 {
			continue
		}
		description := ""
		if len(rec) > 3 {
			description = strings.TrimSpace(strings.Join(rec[3:], ","))
		}

		rows = append(rows, ImportRow{
			Platform:    platform,
			Amount:      amount,
			OccurredAt:  occurredAt,
			Description: description,
		})
	}
	return rows, nil
}

func parseImportDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range importDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseImportAmount(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	return strconv.ParseFloat(s, 64)
}
