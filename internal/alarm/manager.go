// Package alarm is the Alarm Manager (AM): it owns the persisted alarm
// queue on top of internal/storage and the single platform wakeup slot,
// always arming the slot for the earliest pending alarm.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// WakeupSlot is the platform collaborator: the single wakeup timer per
// compute unit. There is no disarm primitive (spec.md §6).
type WakeupSlot interface {
	SetWakeup(ctx context.Context, deadlineMs int64) error
}

// ScheduleOpts are the fields accepted by Schedule.
type ScheduleOpts struct {
	ID             string
	Type           string
	ScheduledAtMs  int64
	RepeatInterval *int64
	Payload        json.RawMessage
}

// PendingAlarm is a read-through view of a stored alarm. Payload is the
// stored JSON document exactly as persisted; it is not decoded here, and
// callers that need its fields unmarshal it themselves.
type PendingAlarm struct {
	ID             string
	Type           string
	ScheduledAtMs  int64
	RepeatInterval *int64
	Payload        json.RawMessage
}

// DrainResult is the deterministic per-alarm record HandleDue returns.
type DrainResult struct {
	ID          string
	Type        string
	Rescheduled bool
	Deleted     bool
}

// HandlerFunc processes one due alarm. Returning an error does not abort
// the drain or prevent the alarm's already-applied storage mutation
// (spec.md §4.2 step 3, §7).
type HandlerFunc func(ctx context.Context, a storage.Alarm) error

// Clock abstracts wall-clock millisecond reads so tests can control "now".
type Clock func() int64

// WallClock is the production Clock.
func WallClock() int64 { return time.Now().UnixMilli() }

// Manager is the Alarm Manager.
type Manager struct {
	store *storage.Engine
	slot  WakeupSlot
	now   Clock
	log   *slog.Logger

	mu               sync.Mutex
	currentArmedID   string
	currentArmedTime int64
	armed            bool
}

// New constructs a Manager. clock defaults to WallClock if nil.
func New(store *storage.Engine, slot WakeupSlot, clock Clock, log *slog.Logger) *Manager {
	if clock == nil {
		clock = WallClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, slot: slot, now: clock, log: log}
}

// Schedule inserts the alarm via PL, then rearms. It fails only if the
// PL insert fails (e.g. a duplicate id).
func (m *Manager) Schedule(ctx context.Context, opts ScheduleOpts) error {
	err := m.store.InsertAlarm(ctx, storage.InsertAlarmOpts{
		ID:             opts.ID,
		Type:           opts.Type,
		ScheduledAtMs:  opts.ScheduledAtMs,
		RepeatInterval: opts.RepeatInterval,
		Payload:        opts.Payload,
		CreatedAtMs:    m.now(),
	})
	if err != nil {
		return fmt.Errorf("alarm: schedule %q: %w", opts.ID, err)
	}
	return m.Rearm(ctx)
}

// Cancel deletes the alarm via PL. It rearms only if the canceled id was
// the currently armed one; otherwise it is cheap.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.store.DeleteAlarm(ctx, id); err != nil {
		return fmt.Errorf("alarm: cancel %q: %w", id, err)
	}

	m.mu.Lock()
	isArmed := m.armed && m.currentArmedID == id
	m.mu.Unlock()

	if isArmed {
		return m.Rearm(ctx)
	}
	return nil
}

// CancelByType bulk-deletes all alarms of the given type, then rearms
// unconditionally.
func (m *Manager) CancelByType(ctx context.Context, alarmType string) error {
	if err := m.store.DeleteAlarmsByType(ctx, alarmType); err != nil {
		return fmt.Errorf("alarm: cancel by type %q: %w", alarmType, err)
	}
	return m.Rearm(ctx)
}

// ListPending is a read-through to PL.ListAlarms. Read-only; does not
// rearm.
func (m *Manager) ListPending(ctx context.Context) ([]PendingAlarm, error) {
	alarms, err := m.store.ListAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("alarm: list pending: %w", err)
	}
	return toPending(alarms), nil
}

// ListDue is a read-through to PL.DueAlarms(before). before defaults to
// now when zero. Read-only; does not rearm.
func (m *Manager) ListDue(ctx context.Context, before int64) ([]PendingAlarm, error) {
	if before == 0 {
		before = m.now()
	}
	alarms, err := m.store.DueAlarms(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("alarm: list due: %w", err)
	}
	return toPending(alarms), nil
}

func toPending(alarms []storage.Alarm) []PendingAlarm {
	out := make([]PendingAlarm, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, PendingAlarm{
			ID: a.ID, Type: a.Type, ScheduledAtMs: a.ScheduledAtMs,
			RepeatInterval: a.RepeatInterval, Payload: a.Payload,
		})
	}
	return out
}

// HandleDue is the core drain. now is captured once at entry and used for
// every decision in this invocation (spec.md §4.2).
func (m *Manager) HandleDue(ctx context.Context, handler HandlerFunc) ([]DrainResult, error) {
	now := m.now()

	due, err := m.store.DueAlarms(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("alarm: handle due: %w", err)
	}

	results := make([]DrainResult, 0, len(due))
	for _, a := range due {
		res := DrainResult{ID: a.ID, Type: a.Type}

		if a.RepeatInterval != nil {
			next := now + *a.RepeatInterval
			if err := m.store.UpdateAlarm(ctx, storage.UpdateAlarmOpts{
				ID: a.ID, ScheduledAtMs: next, RepeatInterval: a.RepeatInterval, Payload: a.Payload,
			}); err != nil {
				m.log.Error("handleDue: reschedule failed", "id", a.ID, "error", err)
			}
			res.Rescheduled = true
		} else {
			if err := m.store.DeleteAlarm(ctx, a.ID); err != nil {
				m.log.Error("handleDue: delete failed", "id", a.ID, "error", err)
			}
			res.Deleted = true
		}

		// Storage mutation precedes the handler call by design: a crash
		// during the handler must not cause redelivery (at-most-once for
		// non-recurring alarms, skewed-not-caught-up for recurring ones).
		if handler != nil {
			if err := handler(ctx, a); err != nil {
				m.log.Error("handleDue: handler failed", "id", a.ID, "type", a.Type, "error", err)
			}
		}

		results = append(results, res)
	}

	if err := m.Rearm(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// Rearm reads the earliest alarm and, if it differs from the currently
// armed deadline, calls the platform's SetWakeup. Called twice back to
// back with no intervening mutation issues SetWakeup at most once.
func (m *Manager) Rearm(ctx context.Context) error {
	earliest, ok, err := m.store.EarliestAlarm(ctx)
	if err != nil {
		return fmt.Errorf("alarm: rearm: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !ok {
		// The platform offers no disarm primitive; a stale arm is
		// tolerated because drains are safe under empty `due`.
		m.armed = false
		m.currentArmedID = ""
		m.currentArmedTime = 0
		return nil
	}

	if m.armed && m.currentArmedID == earliest.ID && m.currentArmedTime == earliest.ScheduledAtMs {
		return nil
	}

	if m.slot != nil {
		if err := m.slot.SetWakeup(ctx, earliest.ScheduledAtMs); err != nil {
			return fmt.Errorf("alarm: set wakeup: %w", err)
		}
	}

	m.armed = true
	m.currentArmedID = earliest.ID
	m.currentArmedTime = earliest.ScheduledAtMs
	return nil
}

// CurrentArmed is the volatile {currentArmedId, currentArmedTime} pair.
// ok is false if nothing is currently armed.
func (m *Manager) CurrentArmed() (id string, scheduledAtMs int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentArmedID, m.currentArmedTime, m.armed
}
