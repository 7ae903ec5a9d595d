// Package config hot-reloads the daemon's runtime tuning knobs
// (RetentionIntervalMs, EnableAlarms, HandlersFile) from a watched JSON
// file and notifies subscribers, which the daemon uses to re-read the
// handler-registry file the config names. Grounded on
// internal/core.Engine's WatchFile, generalized from "reload when an
// external config file changes" to watching this daemon's own config.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Runtime is the set of tuning knobs read from the config file. Watcher
// stores it atomically, so Current is safe for concurrent use; the daemon
// reads RetentionIntervalMs and EnableAlarms once at startup and does not
// apply later changes to them.
type Runtime struct {
	RetentionIntervalMs int64 `json:"retentionIntervalMs"`
	EnableAlarms        bool  `json:"enableAlarms"`
	HandlersFile        string `json:"handlersFile"`
}

func defaultRuntime() Runtime {
	return Runtime{RetentionIntervalMs: 300000, EnableAlarms: true}
}

// Watcher owns the live Runtime value and notifies subscribers when the
// backing file changes.
type Watcher struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	current atomic.Value // Runtime

	subscribers []func(Runtime)
	watcher     *fsnotify.Watcher
	ctx         context.Context
	cancel      context.CancelFunc
}

// Load reads path once without starting a watch. A missing file yields
// defaults, matching handlerregistry's tolerant reload semantics.
func Load(path string) (Runtime, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultRuntime(), nil
	}
	if err != nil {
		return Runtime{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	rt := defaultRuntime()
	if err := json.Unmarshal(data, &rt); err != nil {
		return Runtime{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return rt, nil
}

// NewWatcher loads path and starts watching it for writes.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	rt, err := Load(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{path: path, log: log, ctx: ctx, cancel: cancel}
	w.current.Store(rt)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	w.watcher = fw

	if err := fw.Add(path); err != nil {
		// The file may not exist yet; a later write that creates it
		// will not be observed by this particular watch handle, which
		// matches WatchFile's behavior in the teacher repo.
		log.Warn("config: not watching (file missing)", "path", path, "error", err)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.watcher.Close()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config: watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	rt, err := Load(w.path)
	if err != nil {
		w.log.Error("config: reload failed, keeping previous value", "error", err)
		return
	}
	w.current.Store(rt)

	w.mu.Lock()
	subs := append([]func(Runtime){}, w.subscribers...)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(rt)
	}
}

// Current returns the live Runtime snapshot.
func (w *Watcher) Current() Runtime {
	return w.current.Load().(Runtime)
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(Runtime)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Close stops the watch goroutine.
func (w *Watcher) Close() {
	w.cancel()
}
