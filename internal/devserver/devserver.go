// Package devserver is an in-memory reference implementation of the
// record sync API the client engine consumes. The production server is a
// separate system; this one exists so engine tests and the simulator can
// exercise the full contract, idempotent creates included, without
// external infrastructure.
//
// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// Server holds the confirmed record set for one user universe.
type Server struct {
	auth   *mcsync.JWTAuth
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	records map[mcsync.Entity]map[string]*mcsync.Record
}

// New creates a server validating bearer tokens with the given secret.
func New(jwtSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	records := make(map[mcsync.Entity]map[string]*mcsync.Record, len(mcsync.Entities))
	for _, entity := range mcsync.Entities {
		records[entity] = make(map[string]*mcsync.Record)
	}
	return &Server{
		auth:    mcsync.NewJWTAuth(jwtSecret),
		logger:  logger,
		clock:   time.Now,
		records: records,
	}
}

// Handler returns the HTTP handler implementing the record API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{entity}", s.handleList)
	mux.HandleFunc("POST /{entity}", s.handleCreate)
	mux.HandleFunc("PUT /{entity}/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /{entity}/{id}", s.handleDelete)
	mux.HandleFunc("POST /import/preview", s.handlePreviewImport)
	mux.HandleFunc("POST /import/confirm", s.handleConfirmImport)
	return mux
}

// Count reports how many confirmed records an entity holds (test helper).
func (s *Server) Count(entity mcsync.Entity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entity])
}

// Get returns a copy of one confirmed record, or nil (test helper).
func (s *Server) Get(entity mcsync.Entity, id string) *mcsync.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[entity][id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Seed inserts a confirmed record directly, bypassing HTTP (test helper).
func (s *Server) Seed(entity mcsync.Entity, rec mcsync.Record) {
	now := s.clock().UTC()
	if rec.SyncedAt == nil {
		rec.SyncedAt = &now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entity][rec.ID] = &rec
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if _, err := s.auth.ClaimsFromRequest(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func entityFromRequest(w http.ResponseWriter, r *http.Request) (mcsync.Entity, bool) {
	entity := mcsync.Entity(r.PathValue("entity"))
	if !entity.Valid() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown entity %q", entity))
		return "", false
	}
	return entity, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	entity, ok := entityFromRequest(w, r)
	if !ok {
		return
	}

	filter, page, pageSize, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.RLock()
	matched := make([]mcsync.Record, 0, len(s.records[entity]))
	for _, rec := range s.records[entity] {
		if filter.Matches(rec) {
			matched = append(matched, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].ID < matched[j].ID
	})

	resp := mcsync.ListResponse{
		Page:     page,
		PageSize: pageSize,
		Total:    len(matched),
	}
	for i := range matched {
		resp.TotalAmount += matched[i].Amount
	}
	resp.TotalPages = (len(matched) + pageSize - 1) / pageSize
	if resp.TotalPages < 1 {
		resp.TotalPages = 1
	}

	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	resp.Data = matched[start:end]

	writeJSON(w, http.StatusOK, &resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	entity, ok := entityFromRequest(w, r)
	if !ok {
		return
	}

	var req mcsync.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := mcsync.ValidateID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := mcsync.ValidateFields(entity, &req.Fields); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The client id is the idempotency key: a retried create for an id we
	// already confirmed is a no-op returning the existing record, never a
	// duplicate.
	if existing, exists := s.records[entity][req.ID]; exists {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	now := s.clock().UTC()
	rec := &mcsync.Record{
		ID:             req.ID,
		Classification: req.Fields.Classification,
		Platform:       req.Fields.Platform,
		OccurredAt:     req.Fields.OccurredAt.UTC(),
		Amount:         req.Fields.Amount,
		Payload:        req.Fields.Payload,
		SyncedAt:       &now,
	}
	s.records[entity][rec.ID] = rec
	s.logger.Debug("record created", "entity", entity, "id", rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	entity, ok := entityFromRequest(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	var req mcsync.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := mcsync.ValidatePatch(entity, &req.Patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[entity][id]
	if !exists {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	updated := req.Patch.Apply(*existing)
	now := s.clock().UTC()
	updated.SyncedAt = &now
	s.records[entity][id] = &updated
	writeJSON(w, http.StatusOK, &updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	entity, ok := entityFromRequest(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[entity][id]; !exists {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	delete(s.records[entity], id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreviewImport(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	var req mcsync.PreviewImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rows, err := mcsync.ParseImportRows(strings.NewReader(req.Content))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unparseable content: %v", err))
		return
	}

	s.mu.RLock()
	known := make([]mcsync.Record, 0, len(s.records[mcsync.EntityEarnings]))
	for _, rec := range s.records[mcsync.EntityEarnings] {
		known = append(known, *rec)
	}
	s.mu.RUnlock()

	resp := mcsync.MarkDuplicates(rows, known, req.Source)
	writeJSON(w, http.StatusOK, &resp)
}

func (s *Server) handleConfirmImport(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	var req mcsync.ConfirmImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := mcsync.ConfirmImportResponse{}
	now := s.clock().UTC()
	for i := range req.Rows {
		row := &req.Rows[i]
		if row.IsDuplicate {
			resp.Skipped++
			continue
		}
		payload, _ := json.Marshal(map[string]string{
			"description": row.Description,
			"source":      "import",
		})
		rec := &mcsync.Record{
			ID:         uuid.NewString(),
			Platform:   row.Platform,
			OccurredAt: row.OccurredAt.UTC(),
			Amount:     row.Amount,
			Payload:    payload,
			SyncedAt:   &now,
		}
		s.records[mcsync.EntityEarnings][rec.ID] = rec
		resp.Imported++
	}
	writeJSON(w, http.StatusOK, &resp)
}

func parseListQuery(r *http.Request) (mcsync.Filter, int, int, error) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return mcsync.Filter{}, 0, 0, fmt.Errorf("invalid page %q", v)
		}
		page = p
	}
	pageSize := 20
	if v := q.Get("page_size"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return mcsync.Filter{}, 0, 0, fmt.Errorf("invalid page_size %q", v)
		}
		pageSize = p
	}

	filter := mcsync.Filter{
		Classification: q.Get("classification"),
		Platform:       q.Get("platform"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcsync.Filter{}, 0, 0, fmt.Errorf("invalid from %q", v)
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcsync.Filter{}, 0, 0, fmt.Errorf("invalid to %q", v)
		}
		filter.To = t
	}
	return filter, page, pageSize, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
