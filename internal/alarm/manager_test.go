package alarm

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// fakeSlot records every SetWakeup call for assertions.
type fakeSlot struct {
	calls []int64
}

func (f *fakeSlot) SetWakeup(ctx context.Context, deadlineMs int64) error {
	f.calls = append(f.calls, deadlineMs)
	return nil
}

func newTestManager(t *testing.T, nowMs int64) (*Manager, *fakeSlot) {
	t.Helper()
	store, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	slot := &fakeSlot{}
	clockVal := nowMs
	clock := func() int64 { return clockVal }
	mgr := New(store, slot, clock, nil)
	return mgr, slot
}

// setClock lets tests advance "now" between operations.
func setClock(m *Manager, val int64) {
	m.now = func() int64 { return val }
}

func TestScenario1_SingleDelayNoHibernation(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "xstate-delay", ScheduledAtMs: 1000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	setClock(mgr, 1000)

	var invoked []string
	results, err := mgr.HandleDue(ctx, func(ctx context.Context, a storage.Alarm) error {
		invoked = append(invoked, a.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("HandleDue: %v", err)
	}

	if len(invoked) != 1 || invoked[0] != "A" {
		t.Fatalf("expected handler invoked once with A, got %v", invoked)
	}
	if len(results) != 1 || !results[0].Deleted || results[0].Rescheduled {
		t.Fatalf("unexpected result: %+v", results)
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty PL after fire, got %d", len(pending))
	}
}

func TestScenario2_RecurringAlarm(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()

	interval := int64(500)
	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "R", Type: "cache-cleanup", ScheduledAtMs: 100, RepeatInterval: &interval}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	setClock(mgr, 100)

	var calls int
	results, err := mgr.HandleDue(ctx, func(ctx context.Context, a storage.Alarm) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("HandleDue: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 handler invocation, got %d", calls)
	}
	if len(results) != 1 || !results[0].Rescheduled || results[0].Deleted {
		t.Fatalf("unexpected result: %+v", results)
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "R" || pending[0].ScheduledAtMs != 600 {
		t.Fatalf("expected R rescheduled to 600, got %+v", pending)
	}
}

func TestScenario3_CancelBeforeFire(t *testing.T) {
	mgr, slot := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "xstate-delay", ScheduledAtMs: 1000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := mgr.Cancel(ctx, "A"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	setClock(mgr, 2000)

	var invoked bool
	_, err := mgr.HandleDue(ctx, func(ctx context.Context, a storage.Alarm) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("HandleDue: %v", err)
	}
	if invoked {
		t.Error("expected no handler invocation after cancel")
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty PL, got %d", len(pending))
	}

	_, _, armed := mgr.CurrentArmed()
	if armed {
		t.Error("expected slot to reflect no alarm armed")
	}
	_ = slot
}

func TestScenario5_RearmCoalescing(t *testing.T) {
	mgr, slot := newTestManager(t, 0)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		id := string(rune(int('A') + int(i) - 1))
		if err := mgr.Schedule(ctx, ScheduleOpts{ID: id, Type: "custom", ScheduledAtMs: i * 100}); err != nil {
			t.Fatalf("Schedule %s: %v", id, err)
		}
	}

	id, deadline, ok := mgr.CurrentArmed()
	if !ok {
		t.Fatal("expected something armed")
	}
	if deadline != 100 {
		t.Errorf("expected armed deadline 100, got %d (id=%s)", deadline, id)
	}
	if len(slot.calls) == 0 || len(slot.calls) > 10 {
		t.Errorf("expected between 1 and 10 SetWakeup calls, got %d", len(slot.calls))
	}
	if slot.calls[len(slot.calls)-1] != 100 {
		t.Errorf("expected final SetWakeup value 100, got %d", slot.calls[len(slot.calls)-1])
	}
}

func TestScenario6_HandlerErrorIsolation(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "custom", ScheduledAtMs: 0}); err != nil {
		t.Fatalf("Schedule A: %v", err)
	}
	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "B", Type: "custom", ScheduledAtMs: 1}); err != nil {
		t.Fatalf("Schedule B: %v", err)
	}

	setClock(mgr, 1)

	var invoked []string
	results, err := mgr.HandleDue(ctx, func(ctx context.Context, a storage.Alarm) error {
		invoked = append(invoked, a.ID)
		if a.ID == "A" {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("HandleDue must not surface handler errors: %v", err)
	}
	if len(invoked) != 2 {
		t.Fatalf("expected both handlers invoked, got %v", invoked)
	}
	if len(results) != 2 {
		t.Fatalf("expected two drain results, got %d", len(results))
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected both rows deleted despite handler error, got %+v", pending)
	}
}

func TestRearmIdempotentBackToBack(t *testing.T) {
	mgr, slot := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "custom", ScheduledAtMs: 1000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	callsAfterSchedule := len(slot.calls)

	if err := mgr.Rearm(ctx); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if err := mgr.Rearm(ctx); err != nil {
		t.Fatalf("Rearm: %v", err)
	}

	if len(slot.calls) != callsAfterSchedule {
		t.Errorf("expected no additional SetWakeup calls, got %d new calls", len(slot.calls)-callsAfterSchedule)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "custom", ScheduledAtMs: 1000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "custom", ScheduledAtMs: 2000}); err == nil {
		t.Fatal("expected duplicate id schedule to fail")
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ScheduledAtMs != 1000 {
		t.Fatalf("expected original row retained, got %+v", pending)
	}
}

func TestScheduleCancelRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t, 0)
	ctx := context.Background()

	if err := mgr.Schedule(ctx, ScheduleOpts{ID: "A", Type: "custom", ScheduledAtMs: 1000}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := mgr.Cancel(ctx, "A"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	pending, err := mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty PL after schedule+cancel, got %+v", pending)
	}
}
