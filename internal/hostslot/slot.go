// Package hostslot is the standalone daemon's platform wakeup slot: the
// single timer per compute unit that the Alarm Manager keeps armed for
// the earliest pending alarm (spec.md §6 "no disarm primitive"). Grounded
// on internal/core.Engine.watchConfig's ticker-driven polling loop,
// generalized from "poll for a config version bump" to "poll for the
// armed deadline elapsing".
package hostslot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Slot implements alarm.WakeupSlot with an in-process ticker. It never
// disarms early: each SetWakeup call simply replaces the deadline the
// poll loop compares against, matching the platform's real behavior of
// having exactly one slot with no cancel primitive.
type Slot struct {
	onFire func(ctx context.Context)
	log    *slog.Logger

	mu       sync.Mutex
	deadline int64 // unix ms, 0 = disarmed

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts the poll loop immediately. onFire is invoked (not
// reentrantly) on every poll tick at or after the armed deadline, until a
// later SetWakeup moves the deadline; callers typically pass
// wakeup.Handler.OnWakeup.
func New(onFire func(ctx context.Context), log *slog.Logger) *Slot {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Slot{onFire: onFire, log: log, ctx: ctx, cancel: cancel}
	go s.loop()
	return s
}

// SetWakeup arms the slot for deadlineMs. A deadline already in the past
// fires on the next poll tick, which is this daemon's resolution of the
// "platform rejects a past deadline" open question: treat it as an
// immediate fire rather than an error.
func (s *Slot) SetWakeup(ctx context.Context, deadlineMs int64) error {
	s.mu.Lock()
	s.deadline = deadlineMs
	s.mu.Unlock()
	return nil
}

func (s *Slot) loop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			deadline := s.deadline
			s.mu.Unlock()

			if deadline == 0 || time.Now().UnixMilli() < deadline {
				continue
			}

			s.onFire(s.ctx)
		}
	}
}

// Close stops the poll loop.
func (s *Slot) Close() {
	s.cancel()
}
