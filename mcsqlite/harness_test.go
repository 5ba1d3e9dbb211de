// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HairyGair/MileClear-sub000/internal/devserver"
	"github.com/HairyGair/MileClear-sub000/mcsync"
)

const testSecret = "engine-test-secret"

// deadBaseURL points at a port nothing listens on, so every remote call
// fails at the transport level and the engine behaves as offline.
const deadBaseURL = "http://127.0.0.1:1"

// testBackend is a live in-process record server plus a counter of every
// request that actually reached it.
type testBackend struct {
	Server   *devserver.Server
	HTTP     *httptest.Server
	requests atomic.Int64
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{Server: devserver.New(testSecret, nil)}
	handler := b.Server.Handler()
	b.HTTP = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(b.HTTP.Close)
	return b
}

func (b *testBackend) Requests() int64 { return b.requests.Load() }

func testSession(t *testing.T) Session {
	t.Helper()
	token, err := mcsync.NewJWTAuth(testSecret).GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)
	return Session{UserID: "user-1", DeviceID: "device-1", Token: StaticToken(token)}
}

// newTestClient wires a full engine over a temp-file database pointed at
// the given base URL.
func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return newTestClientConfig(t, DefaultConfig(baseURL))
}

func newTestClientConfig(t *testing.T, config *Config) *Client {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client, err := NewClient(store.DB(), testSession(t), nil, config)
	require.NoError(t, err)
	return client
}
