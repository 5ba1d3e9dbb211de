// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// RemoteAPI is the server contract the engine consumes: one page of
// confirmed records per list call, idempotent create keyed by the client
// id, and the bulk import endpoints. Implemented by Fetcher; tests swap in
// stubs.
type RemoteAPI interface {
	List(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter, page, pageSize int) (*mcsync.ListResponse, error)

	// Create returns the server's copy and whether the record was newly
	// created. created=false means the server already had the id and
	// treated the call as a no-op.
	Create(ctx context.Context, entity mcsync.Entity, id string, fields mcsync.Fields) (*mcsync.Record, bool, error)

	Update(ctx context.Context, entity mcsync.Entity, id string, patch mcsync.Patch) (*mcsync.Record, error)
	Delete(ctx context.Context, entity mcsync.Entity, id string) error

	PreviewImport(ctx context.Context, req *mcsync.PreviewImportRequest) (*mcsync.PreviewImportResponse, error)
	ConfirmImport(ctx context.Context, rows []mcsync.ImportRow) (*mcsync.ConfirmImportResponse, error)
}

// Fetcher is a thin, stateless wrapper over the authenticated record API.
// Any transport failure surfaces as ErrNetworkUnavailable and any non-2xx
// response as a RemoteError; nothing is ever partially applied locally.
type Fetcher struct {
	BaseURL string
	Token   TokenSource
	HTTP    *http.Client
}

var _ RemoteAPI = (*Fetcher)(nil)

// NewFetcher creates a fetcher for the given API base URL.
func NewFetcher(baseURL string, token TokenSource) *Fetcher {
	return &Fetcher{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// List requests one page of server-confirmed records.
func (f *Fetcher) List(ctx context.Context, entity mcsync.Entity, filter mcsync.Filter, page, pageSize int) (*mcsync.ListResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if filter.Classification != "" {
		q.Set("classification", filter.Classification)
	}
	if filter.Platform != "" {
		q.Set("platform", filter.Platform)
	}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.UTC().Format(time.RFC3339))
	}

	var out mcsync.ListResponse
	if _, err := f.do(ctx, http.MethodGet, fmt.Sprintf("/%s?%s", entity, q.Encode()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create submits a new record keyed by the client-generated id.
func (f *Fetcher) Create(ctx context.Context, entity mcsync.Entity, id string, fields mcsync.Fields) (*mcsync.Record, bool, error) {
	req := mcsync.CreateRequest{ID: id, Fields: fields}
	var out mcsync.Record
	status, err := f.do(ctx, http.MethodPost, fmt.Sprintf("/%s", entity), &req, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// Update submits a partial update for an existing record.
func (f *Fetcher) Update(ctx context.Context, entity mcsync.Entity, id string, patch mcsync.Patch) (*mcsync.Record, error) {
	req := mcsync.UpdateRequest{Patch: patch}
	var out mcsync.Record
	if _, err := f.do(ctx, http.MethodPut, fmt.Sprintf("/%s/%s", entity, id), &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a record server-side.
func (f *Fetcher) Delete(ctx context.Context, entity mcsync.Entity, id string) error {
	_, err := f.do(ctx, http.MethodDelete, fmt.Sprintf("/%s/%s", entity, id), nil, nil)
	return err
}

// PreviewImport asks the server to parse and mark a raw import batch.
func (f *Fetcher) PreviewImport(ctx context.Context, req *mcsync.PreviewImportRequest) (*mcsync.PreviewImportResponse, error) {
	var out mcsync.PreviewImportResponse
	if _, err := f.do(ctx, http.MethodPost, "/import/preview", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmImport commits a previewed batch server-side.
func (f *Fetcher) ConfirmImport(ctx context.Context, rows []mcsync.ImportRow) (*mcsync.ConfirmImportResponse, error) {
	req := mcsync.ConfirmImportRequest{Rows: rows}
	var out mcsync.ConfirmImportResponse
	if _, err := f.do(ctx, http.MethodPost, "/import/confirm", &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one authenticated JSON round trip. Transport failures map to
// ErrNetworkUnavailable; non-2xx responses map to RemoteError.
func (f *Fetcher) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, f.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	token, err := f.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get auth token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.HTTP.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", mcsync.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &mcsync.RemoteError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
