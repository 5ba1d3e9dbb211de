// Copyright 2025 MileClear Contributors
// SPDX-License-Identifier: Apache-2.0

package mcsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HairyGair/MileClear-sub000/mcsync"
)

// Executor is the single entry point for all mutations. It guarantees the
// local copy exists before any network attempt is made and that delivery
// to the server is idempotent: the client-generated record id is reused on
// every retry, so the server can de-duplicate.
//
// Actions on the same id are never re-ordered: every mutation reads the
// latest local row first, and the store serializes writes.
type Executor struct {
	store  *Store
	remote RemoteAPI
	clock  func() time.Time
	logger *slog.Logger
}

// NewExecutor wires the executor to its store and remote API.
func NewExecutor(store *Store, remote RemoteAPI, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, remote: remote, clock: time.Now, logger: logger}
}

// Create generates a fresh id, writes the record locally, then attempts
// the remote create keyed by that id.
//
// A network failure is the only outcome that may happen silently: the
// caller still sees success because the local write already happened, and
// the row stays pending for the next sync pass. Storage failures abort the
// action and propagate.
func (e *Executor) Create(ctx context.Context, entity mcsync.Entity, fields mcsync.Fields) (*mcsync.Record, error) {
	if err := mcsync.ValidateFields(entity, &fields); err != nil {
		return nil, err
	}

	rec := &mcsync.Record{
		ID:             uuid.NewString(),
		Classification: fields.Classification,
		Platform:       fields.Platform,
		OccurredAt:     fields.OccurredAt.UTC(),
		Amount:         fields.Amount,
		Payload:        fields.Payload,
	}
	if err := e.store.Insert(ctx, entity, rec); err != nil {
		return nil, err
	}

	// Once the local write is committed the network attempt must not be
	// cancelled by the UI abandoning its wait; that would orphan
	// partially-applied state.
	pushCtx := context.WithoutCancel(ctx)
	remoteRec, _, err := e.remote.Create(pushCtx, entity, rec.ID, fields)
	if err != nil {
		e.logger.Info("create staying pending after remote failure",
			"entity", entity, "id", rec.ID, "err", err)
		return rec, nil
	}

	syncedAt := e.confirmationTime(remoteRec)
	confirmed, err := e.store.MarkSynced(pushCtx, entity, rec.ID, syncedAt, rec.Revision)
	if err != nil {
		return nil, err
	}
	if confirmed {
		rec.SyncedAt = &syncedAt
	}
	return rec, nil
}

// Update applies the patch locally first (optimistic), then attempts the
// remote update. On network failure the row keeps synced_at = NULL, which
// both marks it pending and stops the reconciliation layer from treating a
// stale server copy as settled for that id.
func (e *Executor) Update(ctx context.Context, entity mcsync.Entity, id string, patch mcsync.Patch) (*mcsync.Record, error) {
	if err := mcsync.ValidateID(id); err != nil {
		return nil, err
	}
	if err := mcsync.ValidatePatch(entity, &patch); err != nil {
		return nil, err
	}

	rec, err := e.store.Update(ctx, entity, id, patch)
	if err != nil {
		return nil, err
	}

	pushCtx := context.WithoutCancel(ctx)
	remoteRec, err := e.remote.Update(pushCtx, entity, id, patch)
	if err != nil {
		e.logger.Info("update staying pending after remote failure",
			"entity", entity, "id", id, "err", err)
		return rec, nil
	}

	syncedAt := e.confirmationTime(remoteRec)
	confirmed, err := e.store.MarkSynced(pushCtx, entity, id, syncedAt, rec.Revision)
	if err != nil {
		return nil, err
	}
	if confirmed {
		rec.SyncedAt = &syncedAt
	}
	return rec, nil
}

// Delete removes a record. A row the server never confirmed is deleted
// locally with zero network calls, since nothing exists server-side.
// For a confirmed row the local delete happens first, then the remote
// delete; a remote failure is returned to the caller rather than silently
// re-creating the row or retrying, because retrying a delete against a
// record that might have been independently modified is unsafe without a
// reconciliation step.
func (e *Executor) Delete(ctx context.Context, entity mcsync.Entity, id string) error {
	if err := mcsync.ValidateID(id); err != nil {
		return err
	}

	rec, err := e.store.GetOne(ctx, entity, id)
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, entity, id); err != nil {
		return err
	}
	if !rec.Synced() {
		return nil
	}

	pushCtx := context.WithoutCancel(ctx)
	if err := e.remote.Delete(pushCtx, entity, id); err != nil {
		var re *mcsync.RemoteError
		if errors.As(err, &re) && re.Status == 404 {
			// Already gone server-side; treat as confirmed.
			return nil
		}
		return fmt.Errorf("remote delete failed for %s/%s (local copy removed): %w", entity, id, err)
	}
	return nil
}

// SyncPending re-pushes every unsynced record of one entity using its
// original id. Called on app foreground, explicit refresh and reconnect.
// The pass stops at the first offline failure; remaining rows simply
// wait for the next opportunity; callers check mcsync.IsOffline to decide
// whether the returned error is worth surfacing. Returns the number of
// records confirmed by this pass.
func (e *Executor) SyncPending(ctx context.Context, entity mcsync.Entity) (int, error) {
	pending, err := e.store.ListUnsynced(ctx, entity, mcsync.Filter{})
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range pending {
		rec := &pending[i]
		n, err := e.pushPending(ctx, entity, rec)
		if err != nil {
			if mcsync.IsOffline(err) {
				e.logger.Info("sync pass interrupted, still offline",
					"entity", entity, "synced", synced, "remaining", len(pending)-i)
			}
			return synced, err
		}
		synced += n
	}
	return synced, nil
}

// SyncAllPending runs SyncPending across every entity.
func (e *Executor) SyncAllPending(ctx context.Context) (int, error) {
	total := 0
	for _, entity := range mcsync.Entities {
		n, err := e.SyncPending(ctx, entity)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// pushPending delivers one pending row. The create call is idempotent by
// id; when the server reports it already had the record (a pending edit,
// or a retried create whose first attempt actually landed), the local
// content is pushed as an update so edits are not lost.
func (e *Executor) pushPending(ctx context.Context, entity mcsync.Entity, rec *mcsync.Record) (int, error) {
	fields := mcsync.Fields{
		Classification: rec.Classification,
		Platform:       rec.Platform,
		OccurredAt:     rec.OccurredAt,
		Amount:         rec.Amount,
		Payload:        rec.Payload,
	}

	remoteRec, created, err := e.remote.Create(ctx, entity, rec.ID, fields)
	if err != nil {
		return 0, err
	}

	if !created {
		remoteRec, err = e.remote.Update(ctx, entity, rec.ID, fullPatch(rec))
		if err != nil {
			return 0, err
		}
	}

	// The confirmation applies only if the row is still the content that
	// was pushed; an edit that landed while the push was in flight bumps
	// the revision, keeps the row pending and is delivered by a later pass.
	confirmed, err := e.store.MarkSynced(ctx, entity, rec.ID, e.confirmationTime(remoteRec), rec.Revision)
	if err != nil {
		return 0, err
	}
	if !confirmed {
		e.logger.Info("record edited during push, staying pending",
			"entity", entity, "id", rec.ID)
		return 0, nil
	}
	return 1, nil
}

// fullPatch converts a local row into a patch carrying every field, used
// to push pending edits whose original patch is no longer known.
func fullPatch(rec *mcsync.Record) mcsync.Patch {
	classification := rec.Classification
	platform := rec.Platform
	occurredAt := rec.OccurredAt
	amount := rec.Amount
	return mcsync.Patch{
		Classification: &classification,
		Platform:       &platform,
		OccurredAt:     &occurredAt,
		Amount:         &amount,
		Payload:        rec.Payload,
	}
}

func (e *Executor) confirmationTime(remoteRec *mcsync.Record) time.Time {
	if remoteRec != nil && remoteRec.SyncedAt != nil {
		return *remoteRec.SyncedAt
	}
	return e.clock()
}
