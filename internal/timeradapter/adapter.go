// Package timeradapter implements the FSM library's pluggable timer
// interface (schedule/cancel/cancelAll) by translating each call into an
// Alarm Manager insert keyed by {sessionId, eventKey}, and vice versa on
// fire.
package timeradapter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/durablealarmd/internal/actor"
	"github.com/hazyhaar/durablealarmd/internal/alarm"
	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// TypeXStateDelay is the Alarm.Type tag for FSM delayed transitions.
const TypeXStateDelay = "xstate-delay"

// scheduledEventRef is the in-memory side index entry. It is advisory —
// the alarms table is authoritative; on any inconsistency the table wins
// (spec.md §3).
type scheduledEventRef struct {
	SourceSessionID string
	TargetSessionID string
	Event           actor.Event
	DelayMs         int64
	StartedAtMs     int64
}

// xstateAlarmData is the payload persisted alongside an xstate-delay
// alarm, decoded by Deliver.
type xstateAlarmData struct {
	Type            string      `json:"type"`
	SourceSessionID string      `json:"sourceSessionId"`
	TargetSessionID string      `json:"targetSessionId"`
	Event           actor.Event `json:"event"`
	ComposedID      string      `json:"composedId"`
	AlarmID         string      `json:"alarmId"`
}

// Adapter bridges actor.Clock-based FSM delays to alarm.Manager. The
// scheduledEventsMap from the original design is a field here, not
// package-global state — tests reach it through the Adapter instance.
type Adapter struct {
	am     *alarm.Manager
	system actor.System
	now    alarm.Clock
	log    *slog.Logger

	mu    sync.RWMutex
	index map[string]scheduledEventRef // keyed by composedId
}

// NewAdapter constructs a Timer Adapter factory — the Go rendering of
// spec.md §6's createAlarmScheduler(alarmManager, system).
func NewAdapter(am *alarm.Manager, system actor.System, now alarm.Clock, log *slog.Logger) *Adapter {
	if now == nil {
		now = alarm.WallClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{am: am, system: system, now: now, log: log, index: make(map[string]scheduledEventRef)}
}

func composedID(sourceSessionID, fsmEventKey string) string {
	return sourceSessionID + "." + fsmEventKey
}

func alarmID(composedID string) string {
	return "xstate-" + composedID
}

func randomShortID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Schedule implements the FSM timer contract's schedule operation.
func (a *Adapter) Schedule(ctx context.Context, source, target actor.Ref, event actor.Event, delay time.Duration, fsmEventKey string) error {
	if fsmEventKey == "" {
		fsmEventKey = randomShortID()
	}

	composed := composedID(source.SessionID(), fsmEventKey)
	id := alarmID(composed)
	nowMs := a.now()

	a.mu.Lock()
	a.index[composed] = scheduledEventRef{
		SourceSessionID: source.SessionID(),
		TargetSessionID: target.SessionID(),
		Event:           event,
		DelayMs:         delay.Milliseconds(),
		StartedAtMs:     nowMs,
	}
	a.mu.Unlock()

	data := xstateAlarmData{
		Type:            TypeXStateDelay,
		SourceSessionID: source.SessionID(),
		TargetSessionID: target.SessionID(),
		Event:           event,
		ComposedID:      composed,
		AlarmID:         id,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		a.removeIndex(composed)
		return fmt.Errorf("timeradapter: marshal payload: %w", err)
	}

	if err := a.am.Schedule(ctx, alarm.ScheduleOpts{
		ID:            id,
		Type:          TypeXStateDelay,
		ScheduledAtMs: nowMs + delay.Milliseconds(),
		Payload:       payload,
	}); err != nil {
		a.log.Error("timeradapter: schedule failed", "composedId", composed, "error", err)
		a.removeIndex(composed)
		return fmt.Errorf("timeradapter: schedule %q: %w", composed, err)
	}

	return nil
}

// Cancel implements the FSM timer contract's cancel operation.
func (a *Adapter) Cancel(ctx context.Context, source actor.Ref, fsmEventKey string) error {
	composed := composedID(source.SessionID(), fsmEventKey)
	a.removeIndex(composed)
	return a.am.Cancel(ctx, alarmID(composed))
}

// CancelAll implements the FSM timer contract's cancelAll operation: every
// index entry whose source session matches actorRef is canceled.
func (a *Adapter) CancelAll(ctx context.Context, actorRef actor.Ref) error {
	a.mu.Lock()
	var toCancel []string
	for composed, ref := range a.index {
		if ref.SourceSessionID == actorRef.SessionID() {
			toCancel = append(toCancel, composed)
			delete(a.index, composed)
		}
	}
	a.mu.Unlock()

	var firstErr error
	for _, composed := range toCancel {
		if err := a.am.Cancel(ctx, alarmID(composed)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Adapter) removeIndex(composed string) {
	a.mu.Lock()
	delete(a.index, composed)
	a.mu.Unlock()
}

// IndexLen reports the number of tracked scheduled-event refs. Exposed for
// tests inspecting the in-memory index.
func (a *Adapter) IndexLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.index)
}

// Restore reconstructs the in-memory index from persisted xstate-delay
// alarms on cold start. Alarms whose deadline has already passed are left
// to the next wakeup drain to deliver, per spec.md §4.3.
func (a *Adapter) Restore(alarms []storage.Alarm, nowMs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, al := range alarms {
		if al.Type != TypeXStateDelay || al.ScheduledAtMs <= nowMs {
			continue
		}

		var data xstateAlarmData
		if err := json.Unmarshal(al.Payload, &data); err != nil {
			a.log.Error("timeradapter: restore decode failed", "id", al.ID, "error", err)
			continue
		}

		a.index[data.ComposedID] = scheduledEventRef{
			SourceSessionID: data.SourceSessionID,
			TargetSessionID: data.TargetSessionID,
			Event:           data.Event,
			DelayMs:         al.ScheduledAtMs - nowMs,
			StartedAtMs:     nowMs,
		}
	}
}

// Deliver is the Wakeup Handler's xstate-delay dispatch call: it decodes
// the alarm payload, removes the index entry, and relays (or sends) the
// event to the target actor. resolve must return the live actor.Ref for a
// session id (the FSM library's own actor lookup, out of scope here).
func (a *Adapter) Deliver(ctx context.Context, al storage.Alarm, resolve func(sessionID string) (actor.Ref, bool)) error {
	var data xstateAlarmData
	if err := json.Unmarshal(al.Payload, &data); err != nil {
		a.log.Error("timeradapter: corrupt payload, dropping", "id", al.ID, "error", err)
		return fmt.Errorf("timeradapter: decode payload %q: %w", al.ID, err)
	}

	a.removeIndex(data.ComposedID)

	target, ok := resolve(data.TargetSessionID)
	if !ok {
		a.log.Error("timeradapter: delivery target gone", "id", al.ID, "targetSessionId", data.TargetSessionID)
		return fmt.Errorf("timeradapter: target %q not found", data.TargetSessionID)
	}

	if a.system != nil {
		if a.system.Relay(ctx, target, target, data.Event) {
			return nil
		}
	}

	if err := target.Send(ctx, data.Event); err != nil {
		return fmt.Errorf("timeradapter: send to %q: %w", data.TargetSessionID, err)
	}
	return nil
}
