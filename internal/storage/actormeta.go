package storage

import (
	"context"
	"fmt"
)

// ActorMeta is informational bookkeeping for the single FSM this compute
// unit hosts (spec.md §3: "actor_id ... is informational, one FSM per
// unit"). Grounded on internal/session.Session in the teacher repo,
// generalized from a chat session to an actor session.
type ActorMeta struct {
	ActorID      string
	CreatedAtMs  int64
	LastActiveMs int64
	Status       string
}

// Snapshot is the most recently persisted FSM snapshot for an actor. Its
// wire format belongs to the surrounding runtime (spec.md §1 non-goals);
// PL stores and returns it as an opaque blob.
type Snapshot struct {
	ActorID   string
	Blob      []byte
	Version   int64
	UpdatedAt int64
}

// UpsertActorMeta creates or refreshes an actor's bookkeeping row.
func (e *Engine) UpsertActorMeta(ctx context.Context, actorID string, nowMs int64) error {
	_, err := e.exec(ctx, `
		INSERT INTO actor_meta (actor_id, created_at, last_active_at, status)
		VALUES (?, ?, ?, 'active')
		ON CONFLICT(actor_id) DO UPDATE SET last_active_at = excluded.last_active_at
	`, actorID, nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("storage: upsert actor meta %q: %w", actorID, err)
	}
	return nil
}

// GetActorMeta returns the actor's bookkeeping row, or (nil, nil) if
// absent.
func (e *Engine) GetActorMeta(ctx context.Context, actorID string) (*ActorMeta, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT actor_id, created_at, last_active_at, status FROM actor_meta WHERE actor_id = ?
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("storage: get actor meta %q: %w", actorID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	rec := recs[0]
	created, err := asInt64(rec["created_at"])
	if err != nil {
		return nil, err
	}
	lastActive, err := asInt64(rec["last_active_at"])
	if err != nil {
		return nil, err
	}
	status, _ := rec["status"].(string)
	id, _ := rec["actor_id"].(string)

	return &ActorMeta{
		ActorID:      id,
		CreatedAtMs:  created,
		LastActiveMs: lastActive,
		Status:       status,
	}, nil
}

// PutSnapshot upserts the latest snapshot blob for an actor, bumping its
// version counter.
func (e *Engine) PutSnapshot(ctx context.Context, actorID string, blob []byte, updatedAt int64) error {
	_, err := e.exec(ctx, `
		INSERT INTO snapshots (actor_id, blob, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(actor_id) DO UPDATE SET
			blob = excluded.blob,
			version = version + 1,
			updated_at = excluded.updated_at
	`, actorID, blob, updatedAt)
	if err != nil {
		return fmt.Errorf("storage: put snapshot %q: %w", actorID, err)
	}
	return nil
}

// GetSnapshot returns the actor's latest snapshot, or (nil, nil) if none
// has been recorded.
func (e *Engine) GetSnapshot(ctx context.Context, actorID string) (*Snapshot, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT actor_id, blob, version, updated_at FROM snapshots WHERE actor_id = ?
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("storage: get snapshot %q: %w", actorID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	rec := recs[0]
	version, err := asInt64(rec["version"])
	if err != nil {
		return nil, err
	}
	updated, err := asInt64(rec["updated_at"])
	if err != nil {
		return nil, err
	}
	id, _ := rec["actor_id"].(string)

	var blob []byte
	switch b := rec["blob"].(type) {
	case []byte:
		blob = b
	case nil:
		blob = nil
	default:
		return nil, fmt.Errorf("storage: unexpected blob type %T", b)
	}

	return &Snapshot{ActorID: id, Blob: blob, Version: version, UpdatedAt: updated}, nil
}

// StaleActorIDs returns actor ids whose last_active_at is older than the
// given cutoff — the selection set for the cache-cleanup retention sweep.
func (e *Engine) StaleActorIDs(ctx context.Context, cutoffMs int64) ([]string, error) {
	recs, err := e.queryRecords(ctx, `
		SELECT actor_id FROM actor_meta WHERE last_active_at < ?
	`, cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("storage: stale actor ids: %w", err)
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, _ := rec["actor_id"].(string)
		out = append(out, id)
	}
	return out, nil
}

// PruneActor deletes an actor's meta and snapshot rows. Not an error if
// absent.
func (e *Engine) PruneActor(ctx context.Context, actorID string) error {
	if _, err := e.exec(ctx, `DELETE FROM snapshots WHERE actor_id = ?`, actorID); err != nil {
		return fmt.Errorf("storage: prune snapshot %q: %w", actorID, err)
	}
	if _, err := e.exec(ctx, `DELETE FROM actor_meta WHERE actor_id = ?`, actorID); err != nil {
		return fmt.Errorf("storage: prune actor meta %q: %w", actorID, err)
	}
	return nil
}
