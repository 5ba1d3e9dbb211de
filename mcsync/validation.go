// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsync

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
)

var identRe = regexp.MustCompile(`^[a-z0-9_\-]*$`)

// ValidateFields checks a create action before any storage or network call.
// A returned ValidationError means no partial state was created anywhere.
func ValidateFields(entity Entity, f *Fields) error {
	if !entity.Valid() {
		return &ValidationError{Field: "entity", Reason: "unknown entity " + string(entity)}
	}
	if f.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "must be set"}
	}
	if f.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !identRe.MatchString(f.Classification) {
		return &ValidationError{Field: "classification", Reason: "invalid characters"}
	}
	if !identRe.MatchString(f.Platform) {
		return &ValidationError{Field: "platform", Reason: "invalid characters"}
	}
	if len(f.Payload) > 0 && !json.Valid(f.Payload) {
		return &ValidationError{Field: "payload", Reason: "not valid JSON"}
	}
	return nil
}

// ValidatePatch checks an update action the same way.
func ValidatePatch(entity Entity, p *Patch) error {
	if !entity.Valid() {
		return &ValidationError{Field: "entity", Reason: "unknown entity " + string(entity)}
	}
	if p.OccurredAt != nil && p.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "must be set"}
	}
	if p.Amount != nil && *p.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if p.Classification != nil && !identRe.MatchString(*p.Classification) {
		return &ValidationError{Field: "classification", Reason: "invalid characters"}
	}
	if p.Platform != nil && !identRe.MatchString(*p.Platform) {
		return &ValidationError{Field: "platform", Reason: "invalid characters"}
	}
	if len(p.Payload) > 0 && !json.Valid(p.Payload) {
		return &ValidationError{Field: "payload", Reason: "not valid JSON"}
	}
	return nil
}

// ValidateID checks that an id is a well-formed record identifier.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "id", Reason: "not a valid UUID"}
	}
	return nil
}
