// Package actorstate owns the ActorMeta and Snapshot rows spec.md §3
// names but leaves to "the surrounding runtime": actor-session lifecycle,
// snapshot persistence, and the cache-cleanup retention sweep the
// Wakeup Handler invokes for the "cache-cleanup" alarm type. Grounded on
// internal/session.Manager in the teacher repo, generalized from a chat
// session to an FSM actor session.
package actorstate

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// Manager handles actor-session lifecycle on top of the Persistence Layer.
type Manager struct {
	store *storage.Engine
	now   func() int64
}

// New constructs a Manager. now defaults to storage-free wall-clock reads
// via alarm.WallClock's equivalent if nil — callers typically share the
// same clock as the rest of the subsystem for test determinism.
func New(store *storage.Engine, now func() int64) *Manager {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Manager{store: store, now: now}
}

// Touch creates the actor's bookkeeping row if absent, or refreshes
// last_active_at if present. Callers invoke it explicitly; the Timer
// Adapter's delivery path and the daemon's cold-start restore do not call
// it.
func (m *Manager) Touch(ctx context.Context, actorID string) error {
	if err := m.store.UpsertActorMeta(ctx, actorID, m.now()); err != nil {
		return fmt.Errorf("actorstate: touch %q: %w", actorID, err)
	}
	return nil
}

// RecordSnapshot persists the actor's latest FSM snapshot blob. The
// snapshot's own wire format is out of scope (spec.md §1); actorstate
// stores it opaquely.
func (m *Manager) RecordSnapshot(ctx context.Context, actorID string, blob []byte) error {
	if err := m.store.PutSnapshot(ctx, actorID, blob, m.now()); err != nil {
		return fmt.Errorf("actorstate: record snapshot %q: %w", actorID, err)
	}
	return nil
}

// Load returns the actor's bookkeeping row and latest snapshot for
// cold-start rehydration: (1) read ActorMeta+Snapshot, rehydrate FSM.
func (m *Manager) Load(ctx context.Context, actorID string) (*storage.ActorMeta, *storage.Snapshot, error) {
	meta, err := m.store.GetActorMeta(ctx, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("actorstate: load meta %q: %w", actorID, err)
	}
	snap, err := m.store.GetSnapshot(ctx, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("actorstate: load snapshot %q: %w", actorID, err)
	}
	return meta, snap, nil
}

// Sweep implements wakeup.Sweeper: it prunes actor-meta and snapshot rows
// for actors inactive longer than retentionMs, bounded and idempotent per
// spec.md §4.4. It returns the number of actors pruned.
func (m *Manager) Sweep(ctx context.Context, retentionMs int64) (int, error) {
	cutoff := m.now() - retentionMs
	staleIDs, err := m.store.StaleActorIDs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("actorstate: sweep query: %w", err)
	}

	pruned := 0
	for _, id := range staleIDs {
		if err := m.store.PruneActor(ctx, id); err != nil {
			return pruned, fmt.Errorf("actorstate: prune %q: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}
