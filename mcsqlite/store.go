// Package mcsqlite implements the MileClear offline-first client engine on
// top of a local SQLite database: the durable record store, the sync
// action executor, the remote paginated fetcher and the reconciliation
// layer that merges locally pending records with server-confirmed pages.
//
// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// timeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexicographic ordering equal to chronological ordering,
// so range filters and ORDER BY work directly on the text column.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Store is the durable local store: one table per syncable entity plus a
// key-value table for resumable in-progress operations. It exclusively
// owns the on-device copy of every record.
//
// Writes are serialized by a single mutex to prevent SQLite locking
// issues; reads may run concurrently and observe a consistent snapshot.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (or creates) the client database at path and initializes the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// A pooled second connection would get its own empty in-memory
		// database, losing the schema and every row.
		db.SetMaxOpenConns(1)
	}
	store, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing SQLite handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	if err := initializeSchema(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for integration points that need raw
// access (e.g. test fixtures).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func initializeSchema(db *sql.DB) error {
	// WAL keeps readers unblocked while the single writer holds the lock.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := make([]string, 0, len(mcsync.Entities)+2)
	for _, entity := range mcsync.Entities {
		tables = append(tables, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             TEXT PRIMARY KEY,
			classification TEXT NOT NULL DEFAULT '',
			platform       TEXT NOT NULL DEFAULT '',
			occurred_at    TEXT NOT NULL,
			amount         REAL NOT NULL DEFAULT 0,
			payload        TEXT NOT NULL DEFAULT '{}',
			synced_at      TEXT,
			revision       INTEGER NOT NULL DEFAULT 0
		)`, entity))
		tables = append(tables, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_occurred_at ON %s (occurred_at DESC)`,
			entity, entity))
	}

	// One concurrent resumable operation per key; killing and relaunching
	// the app resumes from the stored snapshot.
	tables = append(tables, `CREATE TABLE IF NOT EXISTS tracking_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func tableFor(entity mcsync.Entity) (string, error) {
	if !entity.Valid() {
		return "", &mcsync.ValidationError{Field: "entity", Reason: "unknown entity " + string(entity)}
	}
	return string(entity), nil
}

// Insert writes a new record with synced_at forced to NULL. Callers always
// generate a fresh id for creates; an id collision is reported as
// ErrDuplicateID and indicates a caller bug, not a sync conflict.
func (s *Store) Insert(ctx context.Context, entity mcsync.Entity, rec *mcsync.Record) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, classification, platform, occurred_at, amount, payload, synced_at, revision)
		VALUES (?, ?, ?, ?, ?, ?, NULL, 0)
	`, table), rec.ID, rec.Classification, rec.Platform,
		rec.OccurredAt.UTC().Format(timeLayout), rec.Amount, payloadText(rec.Payload))
	if err != nil {
		// Only key collisions map to ErrDuplicateID; any other constraint
		// failure is a storage problem, not an id reuse.
		var serr sqlite3.Error
		if errors.As(err, &serr) &&
			(serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s/%s", mcsync.ErrDuplicateID, entity, rec.ID)
		}
		return mcsync.NewStorageError("insert", err)
	}
	rec.Revision = 0
	return nil
}

// Update applies a partial update and clears synced_at: an edit to a
// confirmed record makes it provisionally unsynced again until the server
// re-confirms it. The id never changes. Returns the updated record.
func (s *Store) Update(ctx context.Context, entity mcsync.Entity, id string, patch mcsync.Patch) (*mcsync.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mcsync.NewStorageError("update", err)
	}
	defer tx.Rollback()

	rec, err := scanOne(tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, classification, platform, occurred_at, amount, payload, synced_at, revision FROM %s WHERE id = ?`,
		table), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", mcsync.ErrNotFound, entity, id)
		}
		return nil, mcsync.NewStorageError("update", err)
	}

	updated := patch.Apply(*rec)
	updated.Revision = rec.Revision + 1
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET classification = ?, platform = ?, occurred_at = ?, amount = ?, payload = ?, synced_at = NULL, revision = revision + 1
		WHERE id = ?
	`, table), updated.Classification, updated.Platform,
		updated.OccurredAt.UTC().Format(timeLayout), updated.Amount, payloadText(updated.Payload), id)
	if err != nil {
		return nil, mcsync.NewStorageError("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mcsync.NewStorageError("update", err)
	}
	return &updated, nil
}

// MarkSynced records server confirmation for the exact content that was
// pushed: it applies only while the row still carries revision rev. A row
// edited while the push was in flight has a higher revision and keeps its
// pending marker, so the edit is re-pushed by a later pass. Re-marking the
// same revision is harmless, and confirming a row deleted in the meantime
// is a no-op (the delete already superseded the confirmation). Returns
// whether the confirmation was applied.
func (s *Store) MarkSynced(ctx context.Context, entity mcsync.Entity, id string, ts time.Time, rev int64) (bool, error) {
	table, err := tableFor(entity)
	if err != nil {
		return false, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET synced_at = ? WHERE id = ? AND revision = ?`, table),
		ts.UTC().Format(timeLayout), id, rev)
	if err != nil {
		return false, mcsync.NewStorageError("mark_synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mcsync.NewStorageError("mark_synced", err)
	}
	return n > 0, nil
}

// Delete removes the row unconditionally. Used both for confirmed
// deletions and for discarding never-synced rows. Deleting an absent row
// is a no-op.
func (s *Store) Delete(ctx context.Context, entity mcsync.Entity, id string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return mcsync.NewStorageError("delete", err)
	}
	return nil
}

// GetOne is a point lookup, used to hydrate edit forms when the remote
// fetch fails.
func (s *Store) GetOne(ctx context.Context, entity mcsync.Entity, id string) (*mcsync.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	rec, err := scanOne(s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, classification, platform, occurred_at, amount, payload, synced_at, revision FROM %s WHERE id = ?`,
		table), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", mcsync.ErrNotFound, entity, id)
		}
		return nil, mcsync.NewStorageError("get_one", err)
	}
	return rec, nil
}

// ListAll returns every record matching the filter, ordered by the domain
// timestamp descending. The filter is applied at the storage layer so the
// local and remote list paths stay consistent.
func (s *Store) ListAll(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter) ([]mcsync.Record, error) {
	return s.list(ctx, entity, filter, false)
}

// ListUnsynced returns the matching records the server has not confirmed
// yet (synced_at IS NULL), ordered by domain timestamp descending.
func (s *Store) ListUnsynced(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter) ([]mcsync.Record, error) {
	return s.list(ctx, entity, filter, true)
}

func (s *Store) list(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter, unsyncedOnly bool) ([]mcsync.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	where, args := filterClauses(filter)
	if unsyncedOnly {
		where = append(where, "synced_at IS NULL")
	}
	query := fmt.Sprintf(
		`SELECT id, classification, platform, occurred_at, amount, payload, synced_at, revision FROM %s`, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mcsync.NewStorageError("list", err)
	}
	defer rows.Close()

	var result []mcsync.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mcsync.NewStorageError("list", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mcsync.NewStorageError("list", err)
	}
	return result, nil
}

func filterClauses(f mcsync.Filter) ([]string, []any) {
	var where []string
	var args []any
	if f.Classification != "" {
		where = append(where, "classification = ?")
		args = append(args, f.Classification)
	}
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, f.Platform)
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (*mcsync.Record, error) { return scanRecord(row) }

func scanRecord(row rowScanner) (*mcsync.Record, error) {
	var rec mcsync.Record
	var occurredAt string
	var payload string
	var syncedAt sql.NullString
	if err := row.Scan(&rec.ID, &rec.Classification, &rec.Platform, &occurredAt,
		&rec.Amount, &payload, &syncedAt, &rec.Revision); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse occurred_at: %w", err)
	}
	rec.OccurredAt = t
	if payload != "" && payload != "{}" {
		rec.Payload = []byte(payload)
	}
	if syncedAt.Valid {
		ts, err := time.Parse(timeLayout, syncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse synced_at: %w", err)
		}
		rec.SyncedAt = &ts
	}
	return &rec, nil
}

func payloadText(payload []byte) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}

// GetState returns the JSON snapshot stored under key, or ErrNotFound.
func (s *Store) GetState(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tracking_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tracking_state/%s", mcsync.ErrNotFound, key)
	}
	if err != nil {
		return nil, mcsync.NewStorageError("get_state", err)
	}
	return []byte(value), nil
}

// SetState stores (or replaces) the snapshot under key.
func (s *Store) SetState(ctx context.Context, key string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_state (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value))
	if err != nil {
		return mcsync.NewStorageError("set_state", err)
	}
	return nil
}

// ClearState removes the snapshot under key; clearing an absent key is a
// no-op.
func (s *Store) ClearState(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracking_state WHERE key = ?`, key); err != nil {
		return mcsync.NewStorageError("clear_state", err)
	}
	return nil
}
