// Package sync keeps the local entity store consistent with the backend:
// optimistic create/update/delete with rollback, and the streaming chat
// exchange that reconciles server truth into the store.
package sync

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cherrors "github.com/yoko36/public-AI-APP/internal/errors"
	"github.com/yoko36/public-AI-APP/internal/metrics"
	"github.com/yoko36/public-AI-APP/internal/models"
	"github.com/yoko36/public-AI-APP/internal/store"
)

// TempID mints a placeholder id for an optimistic record. The prefix keeps
// temp ids recognizable in logs; no code path depends on it.
func TempID() string { return "tmp-" + uuid.NewString() }

// Mutator applies a mutation to the store first, then persists it remotely,
// and either reconciles the confirmed record or rolls the store back.
type Mutator struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewMutator wires a mutator over the given store. metrics may be nil.
func NewMutator(st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Mutator {
	return &Mutator{
		store:   st,
		metrics: m,
		logger:  logger.With().Str("component", "mutator").Logger(),
	}
}

// Store exposes the underlying entity store.
func (m *Mutator) Store() *store.Store { return m.store }

// Create runs one optimistic create. build receives the minted temp id and
// returns the provisional record; apply inserts it into the store; commit
// persists it remotely. On success the temp record is atomically replaced by
// the confirmed one. A confirmed record without an id degrades to a resync
// of the owning collection, which also sweeps the temp record out. Any
// commit failure restores the pre-mutation state and surfaces the error.
func Create[E models.Entity](
	ctx context.Context,
	m *Mutator,
	kind string,
	build func(tmpID string) E,
	apply func(E),
	commit func(ctx context.Context) (E, error),
	resync func(ctx context.Context) error,
) (E, error) {
	tmpID := TempID()
	rec := build(tmpID)
	snap := m.store.Snapshot()
	apply(rec)

	confirmed, err := commit(ctx)
	if err != nil {
		m.store.Restore(snap)
		m.metrics.RecordMutation(kind, "create", "rollback")
		m.logger.Warn().Err(err).Str("kind", kind).Str("tmp_id", tmpID).Msg("create rolled back")
		var zero E
		return zero, err
	}

	if confirmed.EntityID() == "" {
		// The backend accepted the write but answered without an id, so the
		// temp record cannot be reconciled in place. Refetch the collection.
		m.metrics.RecordMutation(kind, "create", "resync")
		m.logger.Info().Str("kind", kind).Str("tmp_id", tmpID).Msg("idless create response, refetching")
		if rerr := resync(ctx); rerr != nil {
			m.logger.Warn().Err(rerr).Str("kind", kind).Msg("refetch after idless create failed")
		}
		return confirmed, nil
	}

	m.store.Reconcile(tmpID, confirmed)
	m.metrics.RecordMutation(kind, "create", "ok")
	return confirmed, nil
}

// Update runs one optimistic update of a single existing record. prev is
// re-upserted on commit failure; nothing else is touched, so concurrent
// edits to other records survive the rollback.
func Update[E models.Entity](
	ctx context.Context,
	m *Mutator,
	kind string,
	prev E,
	optimistic E,
	commit func(ctx context.Context) (E, error),
) (E, error) {
	m.store.Upsert(optimistic)

	confirmed, err := commit(ctx)
	if err != nil {
		m.store.Upsert(prev)
		m.metrics.RecordMutation(kind, "update", "rollback")
		m.logger.Warn().Err(err).Str("kind", kind).Str("id", prev.EntityID()).Msg("update rolled back")
		var zero E
		return zero, err
	}

	if confirmed.EntityID() == "" {
		// Keep the optimistic record; the write landed.
		confirmed = optimistic
	}
	m.store.Upsert(confirmed)
	m.metrics.RecordMutation(kind, "update", "ok")
	return confirmed, nil
}

// Delete removes the record and its subtree optimistically, then confirms
// remotely. A benign conflict (the record was already gone server-side)
// counts as success after a best-effort resync; any other failure restores
// the full pre-delete state, subtree included.
func (m *Mutator) Delete(
	ctx context.Context,
	kind, id string,
	commit func(ctx context.Context) error,
	resync func(ctx context.Context) error,
) error {
	snap := m.store.Snapshot()
	m.store.CascadeDelete(id)

	err := commit(ctx)
	if err == nil {
		m.metrics.RecordMutation(kind, "delete", "ok")
		// Self-healing against server-side cascade semantics the client
		// does not model.
		if resync != nil {
			if rerr := resync(ctx); rerr != nil {
				m.logger.Warn().Err(rerr).Str("kind", kind).Msg("resync after delete failed")
			}
		}
		return nil
	}
	if cherrors.IsBenign(err) {
		m.metrics.RecordMutation(kind, "delete", "benign")
		m.logger.Info().Str("kind", kind).Str("id", id).Msg("delete target already gone remotely")
		if resync != nil {
			if rerr := resync(ctx); rerr != nil {
				m.logger.Warn().Err(rerr).Str("kind", kind).Msg("resync after benign delete failed")
			}
		}
		return nil
	}

	m.store.Restore(snap)
	m.metrics.RecordMutation(kind, "delete", "rollback")
	m.logger.Warn().Err(err).Str("kind", kind).Str("id", id).Msg("delete rolled back")
	return err
}
