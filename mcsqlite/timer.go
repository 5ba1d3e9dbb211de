// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"fmt"
	"sync"
	"time"
)

// IntervalTimer is an explicit, cancellable timer with start/stop/tick
// semantics: resend cooldowns, elapsed-time displays and the background
// sync loop all drive off it instead of scattering raw tickers through
// business logic.
type IntervalTimer struct {
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewIntervalTimer returns a stopped timer.
func NewIntervalTimer() *IntervalTimer {
	return &IntervalTimer{}
}

// Start begins invoking fn every interval until Stop is called. Starting a
// running timer is an error. fn runs on the timer goroutine; ticks that
// fire while fn is still running are absorbed, not queued.
func (t *IntervalTimer) Start(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("timer already running")
	}

	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.running = true

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}(t.stop, t.done)
	return nil
}

// Stop cancels the timer and waits for an in-flight tick to finish.
// Stopping a stopped timer is a no-op.
func (t *IntervalTimer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	stop, done := t.stop, t.done
	t.running = false
	t.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the timer is currently ticking.
func (t *IntervalTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
