// durablealarmd is the standalone host for the durable alarm subsystem:
// a persistence layer, alarm manager, timer adapter, and wakeup handler
// wired together behind a single poll-driven wakeup slot, with an
// administrative console for operating it by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/durablealarmd/internal/actor"
	"github.com/hazyhaar/durablealarmd/internal/actorstate"
	"github.com/hazyhaar/durablealarmd/internal/alarm"
	"github.com/hazyhaar/durablealarmd/internal/cli"
	"github.com/hazyhaar/durablealarmd/internal/config"
	"github.com/hazyhaar/durablealarmd/internal/handlerregistry"
	"github.com/hazyhaar/durablealarmd/internal/handlerregistry/handlers"
	"github.com/hazyhaar/durablealarmd/internal/hostslot"
	"github.com/hazyhaar/durablealarmd/internal/storage"
	"github.com/hazyhaar/durablealarmd/internal/timeradapter"
	"github.com/hazyhaar/durablealarmd/internal/wakeup"
)

const version = "0.1.0"

func main() {
	var (
		showVersion  = flag.Bool("version", false, "Show version")
		dbPath       = flag.String("db", "", "SQLite database path (default: in-memory)")
		configPath   = flag.String("config", "", "Path to a runtime config JSON file (hot-reloaded)")
		handlersPath = flag.String("handlers", "", "Path to a handler registry JSON file")
		debug        = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `durablealarmd v%s - durable alarm subsystem host

Usage: durablealarmd [options]

Options:
`, version)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  durablealarmd --db ./alarms.db
  durablealarmd --db ./alarms.db --config ./runtime.json --handlers ./handlers.json
`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("durablealarmd v%s\n", version)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*dbPath, *configPath, *handlersPath, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, configPath, handlersPath string, log *slog.Logger) error {
	store, err := storage.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var rt config.Runtime
	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, log)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Close()
		rt = watcher.Current()
	} else {
		rt, _ = config.Load("")
	}

	if handlersPath == "" && rt.HandlersFile != "" {
		handlersPath = rt.HandlersFile
	}

	registry := handlerregistry.New()
	registry.RegisterFactory("webhook", handlers.NewWebhook)
	registry.RegisterFactory("log", handlers.NewLog)
	if handlersPath != "" {
		if err := registry.LoadFile(handlersPath); err != nil {
			return fmt.Errorf("load handler registry: %w", err)
		}
	}

	actors := actorstate.New(store, alarm.WallClock)

	// enableAlarms is a construction-time option (spec.md §6): when false,
	// the core is bypassed and the host's native timer is expected to
	// drive scheduling instead. A later config reload toggling it back is
	// deliberately inert for this process incarnation — only logged, not
	// applied — since the spec defines it at construction, not at runtime.
	var wh *wakeup.Handler
	var slot alarm.WakeupSlot
	var hs *hostslot.Slot
	if rt.EnableAlarms {
		hs = hostslot.New(func(ctx context.Context) {
			if _, err := wh.OnWakeup(ctx); err != nil {
				log.Error("wakeup: onWakeup failed", "error", err)
			}
		}, log)
		slot = hs
	} else {
		log.Info("alarms disabled at construction time; wakeup slot will not be armed")
	}
	if hs != nil {
		defer hs.Close()
	}

	am := alarm.New(store, slot, alarm.WallClock, log)

	noResolve := func(sessionID string) (actor.Ref, bool) { return nil, false }
	ta := timeradapter.NewAdapter(am, noopSystem{}, alarm.WallClock, log)

	wh = wakeup.New(wakeup.Config{
		AM:          am,
		TA:          ta,
		Resolve:     noResolve,
		Sweeper:     actors,
		RetentionMs: rt.RetentionIntervalMs,
		UserHandler: registry.Dispatch,
		Log:         log,
	})

	if err := restoreOnColdStart(context.Background(), store, ta, am, log); err != nil {
		return fmt.Errorf("cold start restore: %w", err)
	}

	if watcher != nil {
		watcher.OnChange(func(next config.Runtime) {
			log.Info("config reloaded", "retentionIntervalMs", next.RetentionIntervalMs, "enableAlarms", next.EnableAlarms)
			if next.EnableAlarms != rt.EnableAlarms {
				log.Warn("enableAlarms changed but is construction-time only; restart to apply", "requested", next.EnableAlarms)
			}
			if next.HandlersFile != "" {
				if err := registry.LoadFile(next.HandlersFile); err != nil {
					log.Error("reload handler registry failed", "error", err)
				}
			}
		})
	}

	historyFile := ""
	if dbPath != "" {
		historyFile = filepath.Join(filepath.Dir(dbPath), ".durablealarmd_history")
	}

	repl, err := cli.New(cli.Config{
		Manager:     am,
		Wakeup:      wh,
		Actors:      actors,
		Handlers:    registry,
		Log:         log,
		HistoryFile: historyFile,
	})
	if err != nil {
		return fmt.Errorf("start console: %w", err)
	}
	return repl.Run()
}

// restoreOnColdStart rebuilds the timer adapter's in-memory index from
// persisted xstate-delay alarms and re-arms the wakeup slot, per spec.md
// §4.5 ("Cold start recovery").
func restoreOnColdStart(ctx context.Context, store *storage.Engine, ta *timeradapter.Adapter, am *alarm.Manager, log *slog.Logger) error {
	all, err := store.ListAlarms(ctx)
	if err != nil {
		return err
	}
	ta.Restore(all, alarm.WallClock())
	log.Info("cold start restore complete", "indexed", ta.IndexLen(), "totalAlarms", len(all))
	return am.Rearm(ctx)
}

// noopSystem is the standalone daemon's actor.System: this binary hosts
// no in-memory FSM runtime of its own, so every delivery falls back to
// actor.Ref.Send, which is itself unreachable without a resolver — the
// FSM host process is expected to run the relay side out of process.
type noopSystem struct{}

func (noopSystem) Relay(ctx context.Context, source, target actor.Ref, event actor.Event) bool {
	return false
}
