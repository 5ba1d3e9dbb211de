// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"fmt"
)

// TokenSource returns a fresh bearer token for a remote call. Implemented
// by the app's auth layer; tests use StaticToken.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields the same token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Session is the explicit current-session value injected into every engine
// component. There is no ambient global: the engine stays testable without
// a UI tree by constructing a Session directly.
type Session struct {
	UserID   string
	DeviceID string
	Token    TokenSource
}

// Validate checks the session carries everything the engine needs.
func (s Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("session user ID must be set")
	}
	if s.DeviceID == "" {
		return fmt.Errorf("session device ID must be set")
	}
	if s.Token == nil {
		return fmt.Errorf("session token source must be set")
	}
	return nil
}
