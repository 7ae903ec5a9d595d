package wakeup

import (
	"context"
	"testing"

	"github.com/hazyhaar/durablealarmd/internal/actor"
	"github.com/hazyhaar/durablealarmd/internal/alarm"
	"github.com/hazyhaar/durablealarmd/internal/storage"
	"github.com/hazyhaar/durablealarmd/internal/timeradapter"
)

type fakeSlot struct{}

func (fakeSlot) SetWakeup(ctx context.Context, deadlineMs int64) error { return nil }

type fakeRef struct {
	sessionID string
	sent      []actor.Event
}

func (r *fakeRef) SessionID() string { return r.sessionID }
func (r *fakeRef) Send(ctx context.Context, event actor.Event) error {
	r.sent = append(r.sent, event)
	return nil
}

type fakeSweeper struct {
	swept     int
	sweptErr  error
	called    bool
	retention int64
}

func (f *fakeSweeper) Sweep(ctx context.Context, retentionMs int64) (int, error) {
	f.called = true
	f.retention = retentionMs
	return f.swept, f.sweptErr
}

func newTestHandler(t *testing.T, nowMs int64) (*Handler, *alarm.Manager, *timeradapter.Adapter, *fakeRef, *fakeSweeper) {
	t.Helper()
	store, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	val := nowMs
	clock := func() int64 { return val }
	am := alarm.New(store, fakeSlot{}, clock, nil)
	ta := timeradapter.NewAdapter(am, nil, clock, nil)

	target := &fakeRef{sessionID: "s1"}
	resolve := func(sessionID string) (actor.Ref, bool) {
		if sessionID == "s1" {
			return target, true
		}
		return nil, false
	}

	sweeper := &fakeSweeper{}
	h := New(Config{AM: am, TA: ta, Resolve: resolve, Sweeper: sweeper})
	return h, am, ta, target, sweeper
}

func TestDispatchXStateDelay(t *testing.T) {
	h, am, ta, target, _ := newTestHandler(t, 0)
	ctx := context.Background()

	source := &fakeRef{sessionID: "s1"}
	if err := ta.Schedule(ctx, source, target, actor.Event{Type: "TICK"}, 0, "key1"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	results, err := h.OnWakeup(ctx)
	if err != nil {
		t.Fatalf("OnWakeup: %v", err)
	}
	if len(results) != 1 || !results[0].Deleted {
		t.Fatalf("expected one delivered+deleted alarm, got %+v", results)
	}
	if len(target.sent) != 1 || target.sent[0].Type != "TICK" {
		t.Fatalf("expected TICK delivered to target, got %+v", target.sent)
	}

	pending, _ := am.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected empty PL after delivery, got %+v", pending)
	}
}

func TestDispatchCacheCleanup(t *testing.T) {
	h, am, _, _, sweeper := newTestHandler(t, 0)
	ctx := context.Background()

	if err := am.Schedule(ctx, alarm.ScheduleOpts{ID: "gc", Type: TypeCacheCleanup, ScheduledAtMs: 0}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	results, err := h.OnWakeup(ctx)
	if err != nil {
		t.Fatalf("OnWakeup: %v", err)
	}
	if len(results) != 1 || !results[0].Deleted {
		t.Fatalf("unexpected results: %+v", results)
	}
	if !sweeper.called {
		t.Error("expected sweeper to be invoked")
	}
	if sweeper.retention != 300000 {
		t.Errorf("expected default retention 300000, got %d", sweeper.retention)
	}
}

func TestDispatchUnknownTypeUsesUserHandler(t *testing.T) {
	h, am, ta, _, sweeper := newTestHandler(t, 0)
	_ = ta
	_ = sweeper
	ctx := context.Background()

	var handled []string
	h.userHandler = func(ctx context.Context, a storage.Alarm) error {
		handled = append(handled, a.ID)
		return nil
	}

	if err := am.Schedule(ctx, alarm.ScheduleOpts{ID: "custom-1", Type: "custom", ScheduledAtMs: 0}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := h.OnWakeup(ctx); err != nil {
		t.Fatalf("OnWakeup: %v", err)
	}
	if len(handled) != 1 || handled[0] != "custom-1" {
		t.Fatalf("expected user handler invoked with custom-1, got %v", handled)
	}
}

func TestDispatchUnknownTypeNoHandlerLogsAndDrops(t *testing.T) {
	h, am, _, _, _ := newTestHandler(t, 0)
	ctx := context.Background()

	if err := am.Schedule(ctx, alarm.ScheduleOpts{ID: "mystery", Type: "unregistered-type", ScheduledAtMs: 0}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	results, err := h.OnWakeup(ctx)
	if err != nil {
		t.Fatalf("OnWakeup must not error on unknown type with no handler: %v", err)
	}
	if len(results) != 1 || !results[0].Deleted {
		t.Fatalf("expected the alarm deleted regardless, got %+v", results)
	}

	pending, _ := am.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no redelivery, got %+v", pending)
	}
}
