// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import "context"

// Location is a point capture from an optional positioning capability.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationProvider is the optional device positioning capability. Probe
// Available once at startup and inject the result; business logic never
// feature-detects at call sites.
type LocationProvider interface {
	Available() bool
	Current(ctx context.Context) (Location, error)
}

// NoopLocationProvider is the safe fallback when no positioning capability
// exists: never available, zero-value captures, no errors.
type NoopLocationProvider struct{}

func (NoopLocationProvider) Available() bool { return false }

func (NoopLocationProvider) Current(context.Context) (Location, error) {
	return Location{}, nil
}

// ResolveLocationProvider picks the first available candidate, falling
// back to the no-op provider. Call once at startup.
func ResolveLocationProvider(candidates ...LocationProvider) LocationProvider {
	for _, c := range candidates {
		if c != nil && c.Available() {
			return c
		}
	}
	return NoopLocationProvider{}
}
