// Package actor defines the minimal contract the Timer Adapter needs from
// the FSM library it bridges. The FSM library's own evaluation semantics,
// guards, and actions are out of scope (spec.md §1) — this package names
// only the three touch points the adapter consumes: an event envelope, an
// actor reference it can deliver to, and the actor system's relay
// primitive.
package actor

import (
	"context"
	"time"
)

// Event is a delayed or immediate FSM event. Type and Data mirror the
// FSM library's own event shape closely enough to round-trip through an
// alarm payload without loss.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Ref is a live actor reference the Timer Adapter can target. SessionID is
// the value used in the spec.md §3 key-formation rule
// "{source.sessionId}.{fsmEventKey}".
type Ref interface {
	SessionID() string
	Send(ctx context.Context, event Event) error
}

// System is the FSM library's actor system, exposing the internal relay
// primitive the adapter prefers over Ref.Send when available (spec.md
// §4.3 "Delivery").
type System interface {
	// Relay attempts system._relay(target, target, event) semantics.
	// A false return means the system has no relay support and the
	// caller must fall back to target.Send.
	Relay(ctx context.Context, source, target Ref, event Event) bool
}

// Clock is the FSM library's pluggable timer source. The Timer Adapter's
// NoopClock implementation satisfies this interface; see
// internal/timeradapter.NoopClock.
type Clock interface {
	SetTimeout(fn func(), delay time.Duration) int64
	ClearTimeout(token int64)
}
