package actorstate

import (
	"context"
	"testing"

	"github.com/hazyhaar/durablealarmd/internal/storage"
)

func TestTouchAndLoad(t *testing.T) {
	store, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	nowVal := int64(1000)
	mgr := New(store, func() int64 { return nowVal })
	ctx := context.Background()

	if err := mgr.Touch(ctx, "actor-1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	meta, snap, err := mgr.Load(ctx, "actor-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta == nil || meta.ActorID != "actor-1" {
		t.Fatalf("expected meta for actor-1, got %+v", meta)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot yet, got %+v", snap)
	}

	if err := mgr.RecordSnapshot(ctx, "actor-1", []byte("blob-v1")); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}
	_, snap, err = mgr.Load(ctx, "actor-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap == nil || string(snap.Blob) != "blob-v1" {
		t.Fatalf("expected snapshot blob-v1, got %+v", snap)
	}
}

func TestSweepPrunesStaleActors(t *testing.T) {
	store, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	nowVal := int64(0)
	mgr := New(store, func() int64 { return nowVal })
	ctx := context.Background()

	if err := mgr.Touch(ctx, "stale"); err != nil {
		t.Fatalf("Touch stale: %v", err)
	}

	nowVal = 10_000
	if err := mgr.Touch(ctx, "fresh"); err != nil {
		t.Fatalf("Touch fresh: %v", err)
	}

	n, err := mgr.Sweep(ctx, 5000) // cutoff = 10000 - 5000 = 5000; "stale" touched at 0 < 5000
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 actor pruned, got %d", n)
	}

	meta, _, err := mgr.Load(ctx, "stale")
	if err != nil {
		t.Fatalf("Load stale: %v", err)
	}
	if meta != nil {
		t.Errorf("expected stale actor pruned, got %+v", meta)
	}

	meta, _, err = mgr.Load(ctx, "fresh")
	if err != nil {
		t.Fatalf("Load fresh: %v", err)
	}
	if meta == nil {
		t.Error("expected fresh actor to survive sweep")
	}
}
