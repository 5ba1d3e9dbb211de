// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	// ErrNetworkUnavailable marks a transport-level failure (no route,
	// timeout, connection refused). Writes stay pending, reads fall back
	// to local data.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrNotFound is returned by point lookups for unknown record ids.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when an insert collides with an existing
	// id. Callers always generate fresh ids for creates, so hitting this
	// indicates a caller bug rather than a sync conflict.
	ErrDuplicateID = errors.New("record id already exists")
)

// StorageError wraps a local persistence failure. It is fatal to the
// enclosing action and never silently swallowed.
type StorageError struct {
	Op  string // e.g. "insert", "list_unsynced"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// RemoteError carries a non-2xx server response.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// Temporary reports whether a retry against the same server may succeed.
func (e *RemoteError) Temporary() bool { return e.Status >= 500 }

// ValidationError rejects an action before any storage or network call is
// made; no partial state exists when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsOffline reports whether err represents an outcome where the record
// should simply stay pending: transport failures and 5xx responses.
// Client errors (4xx) are not offline conditions; they indicate the
// request itself is wrong and retrying cannot help.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return false
}

// IsStorage reports whether err originated in the local store.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsValidation reports whether err is a pre-flight validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
