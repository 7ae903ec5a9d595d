// Package handlerregistry is a hot-reloadable registry of user-defined
// alarm handlers for the Wakeup Handler's "else" dispatch branch
// (spec.md §4.4 step 1): unknown alarm types are delivered verbatim to a
// registered handler, or logged and dropped if none is registered.
//
// Grounded on internal/providers.Registry in the teacher repo (same
// reload/priority-order/Current/Get/List shape), generalized from "LLM
// provider" to "alarm handler". Unlike the teacher's registry, this one
// loads from a JSON file via LoadFile rather than from a SQL table (the
// registry does not watch the file itself; reloading is the caller's
// job): the
// Persistence Layer's schema is normative at exactly three tables
// (spec.md §6), so a fourth "handlers" table is not available here.
package handlerregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hazyhaar/durablealarmd/internal/storage"
)

// Handler processes one alarm whose type this registry owns.
type Handler interface {
	ID() string
	Handle(ctx context.Context, a storage.Alarm) error
	IsAvailable() bool
}

// HandlerFactory builds a Handler from its declared config, analogous to
// providers.Registry's switch-on-provider-id construction.
type HandlerFactory func(cfg HandlerConfig) Handler

// HandlerConfig is one entry of the registry's JSON config file.
type HandlerConfig struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"` // "webhook", "log", or a caller-registered kind
	Enabled  bool              `json:"enabled"`
	Priority int               `json:"priority"`
	Options  map[string]string `json:"options"`
}

type fileConfig struct {
	Handlers []HandlerConfig `json:"handlers"`
}

// Registry holds the live, priority-ordered handler set and can reload it
// from a config file on demand.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
	handlers  []Handler // priority-ordered
	byID      map[string]Handler
	current   string
}

// New constructs an empty Registry. Register built-in handler kinds with
// RegisterFactory before calling LoadFile.
func New() *Registry {
	return &Registry{
		factories: make(map[string]HandlerFactory),
		byID:      make(map[string]Handler),
	}
}

// RegisterFactory adds a constructible handler kind (e.g. "webhook",
// "log"). Call before LoadFile.
func (r *Registry) RegisterFactory(kind string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// LoadFile reads and applies a handler config file, replacing the current
// handler set. Missing files are treated as an empty configuration, not
// an error, matching the teacher's tolerant reload semantics.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r.apply(fileConfig{})
	}
	if err != nil {
		return fmt.Errorf("handlerregistry: read %q: %w", path, err)
	}

	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("handlerregistry: parse %q: %w", path, err)
	}
	return r.apply(cfg)
}

func (r *Registry) apply(cfg fileConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := make([]Handler, 0, len(cfg.Handlers))
	byID := make(map[string]Handler, len(cfg.Handlers))

	type entry struct {
		h        Handler
		priority int
	}
	entries := make([]entry, 0, len(cfg.Handlers))

	for _, hc := range cfg.Handlers {
		if !hc.Enabled {
			continue
		}
		factory, ok := r.factories[hc.Kind]
		if !ok {
			continue
		}
		h := factory(hc)
		entries = append(entries, entry{h: h, priority: hc.Priority})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority < entries[j].priority })
	for _, e := range entries {
		handlers = append(handlers, e.h)
		byID[e.h.ID()] = e.h
	}

	r.handlers = handlers
	r.byID = byID
	if r.current == "" || r.byID[r.current] == nil {
		r.current = ""
		for _, h := range handlers {
			if h.IsAvailable() {
				r.current = h.ID()
				break
			}
		}
	}
	return nil
}

// Get returns a handler by id.
func (r *Registry) Get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// List returns all registered handlers in priority order.
func (r *Registry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Dispatch routes an alarm to the highest-priority available handler
// willing to accept it. It is the function the Wakeup Handler's
// UserHandler hook wraps.
func (r *Registry) Dispatch(ctx context.Context, a storage.Alarm) error {
	for _, h := range r.List() {
		if h.IsAvailable() {
			return h.Handle(ctx, a)
		}
	}
	return fmt.Errorf("handlerregistry: no available handler for alarm %q (type %q)", a.ID, a.Type)
}
