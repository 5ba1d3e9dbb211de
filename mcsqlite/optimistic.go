// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import "fmt"

// Optimistic applies a tentative change immediately, then either commits
// it or reverts to the captured prior value once the real outcome is
// known. Thin UI consumers (vote toggles, list mutations) share this one
// rollback mechanism instead of duplicating it per screen.
type Optimistic[T any] struct {
	apply   func(T) error
	prior   T
	pending bool
}

// NewOptimistic builds a helper around the function that writes a value
// into the consumer's state.
func NewOptimistic[T any](apply func(T) error) *Optimistic[T] {
	return &Optimistic[T]{apply: apply}
}

// Begin captures the prior value and applies the tentative one. Only one
// tentative change may be in flight at a time.
func (o *Optimistic[T]) Begin(prior, tentative T) error {
	if o.pending {
		return fmt.Errorf("tentative change already in flight")
	}
	if err := o.apply(tentative); err != nil {
		return err
	}
	o.prior = prior
	o.pending = true
	return nil
}

// Commit keeps the tentative value.
func (o *Optimistic[T]) Commit() {
	var zero T
	o.prior = zero
	o.pending = false
}

// Revert restores the captured prior value after a failed confirmation.
func (o *Optimistic[T]) Revert() error {
	if !o.pending {
		return fmt.Errorf("no tentative change in flight")
	}
	err := o.apply(o.prior)
	o.Commit()
	return err
}

// Pending reports whether a tentative change awaits its outcome.
func (o *Optimistic[T]) Pending() bool { return o.pending }
