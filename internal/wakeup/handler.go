// Package wakeup implements the Wakeup Handler (WH): invoked by the host
// when the platform wakeup slot fires, it drains all due alarms via the
// Alarm Manager and dispatches each to the appropriate handler.
package wakeup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/durablealarmd/internal/actor"
	"github.com/hazyhaar/durablealarmd/internal/alarm"
	"github.com/hazyhaar/durablealarmd/internal/storage"
	"github.com/hazyhaar/durablealarmd/internal/timeradapter"
)

// UserHandler processes alarm types the Wakeup Handler does not know
// about natively (spec.md §4.4 step 1 "else" branch).
type UserHandler func(ctx context.Context, a storage.Alarm) error

// Sweeper performs the cache-cleanup recurring maintenance invoked for
// the "cache-cleanup" alarm type. Implemented by internal/actorstate.
type Sweeper interface {
	Sweep(ctx context.Context, retentionMs int64) (int, error)
}

// TypeCacheCleanup is the Alarm.Type tag for the internal retention sweep.
const TypeCacheCleanup = "cache-cleanup"

// Handler is the Wakeup Handler.
type Handler struct {
	am              *alarm.Manager
	ta              *timeradapter.Adapter
	resolve         func(sessionID string) (actor.Ref, bool)
	sweeper         Sweeper
	retentionMs     int64
	userHandler     UserHandler
	log             *slog.Logger
}

// Config bundles the collaborators Handler needs at construction.
type Config struct {
	AM              *alarm.Manager
	TA              *timeradapter.Adapter
	Resolve         func(sessionID string) (actor.Ref, bool)
	Sweeper         Sweeper
	RetentionMs     int64 // default 300000, per spec.md §6
	UserHandler     UserHandler
	Log             *slog.Logger
}

// New constructs a Handler. RetentionMs defaults to 300000ms when zero.
func New(cfg Config) *Handler {
	retention := cfg.RetentionMs
	if retention == 0 {
		retention = 300000
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		am: cfg.AM, ta: cfg.TA, resolve: cfg.Resolve, sweeper: cfg.Sweeper,
		retentionMs: retention, userHandler: cfg.UserHandler, log: log,
	}
}

// OnWakeup is invoked by the host when the armed wakeup slot fires.
// WH is single-threaded with respect to itself per compute unit: the
// platform guarantees a single in-flight wakeup, and this call must not
// be invoked reentrantly by anything it calls.
func (h *Handler) OnWakeup(ctx context.Context) ([]alarm.DrainResult, error) {
	results, err := h.am.HandleDue(ctx, h.dispatch)
	if err != nil {
		return results, fmt.Errorf("wakeup: drain: %w", err)
	}
	return results, nil
}

func (h *Handler) dispatch(ctx context.Context, a storage.Alarm) error {
	switch a.Type {
	case timeradapter.TypeXStateDelay:
		if h.ta == nil {
			h.log.Error("wakeup: no timer adapter configured for xstate-delay", "id", a.ID)
			return fmt.Errorf("wakeup: no timer adapter configured")
		}
		return h.ta.Deliver(ctx, a, h.resolve)

	case TypeCacheCleanup:
		if h.sweeper == nil {
			h.log.Error("wakeup: no sweeper configured for cache-cleanup", "id", a.ID)
			return fmt.Errorf("wakeup: no sweeper configured")
		}
		n, err := h.sweeper.Sweep(ctx, h.retentionMs)
		if err != nil {
			return fmt.Errorf("wakeup: sweep: %w", err)
		}
		h.log.Info("wakeup: cache-cleanup swept stale actors", "count", n)
		return nil

	default:
		if h.userHandler != nil {
			return h.userHandler(ctx, a)
		}
		h.log.Warn("wakeup: no handler for alarm type, dropping", "id", a.ID, "type", a.Type)
		return nil
	}
}
