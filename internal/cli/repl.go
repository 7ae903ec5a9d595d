package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hazyhaar/durablealarmd/internal/actorstate"
	"github.com/hazyhaar/durablealarmd/internal/alarm"
	"github.com/hazyhaar/durablealarmd/internal/handlerregistry"
	"github.com/hazyhaar/durablealarmd/internal/wakeup"
)

// REPL is the administrative console for a running alarm subsystem.
// Grounded on internal/ui.Chat: a readline loop that classifies each line
// and dispatches to a handler method, generalized from "parse chat
// intent" to "parse admin command".
type REPL struct {
	am       *alarm.Manager
	wh       *wakeup.Handler
	actors   *actorstate.Manager
	handlers *handlerregistry.Registry
	log      *slog.Logger

	rl     *readline.Instance
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

// Config bundles the REPL's collaborators.
type Config struct {
	Manager     *alarm.Manager
	Wakeup      *wakeup.Handler
	Actors      *actorstate.Manager
	Handlers    *handlerregistry.Registry
	Log         *slog.Logger
	HistoryFile string
}

// New constructs a REPL ready to Run.
func New(cfg Config) (*REPL, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36malarm>\033[0m ",
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cli: readline: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &REPL{
		am:       cfg.Manager,
		wh:       cfg.Wakeup,
		actors:   cfg.Actors,
		handlers: cfg.Handlers,
		log:      log,
		rl:       rl,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run drives the readline loop until EOF, "exit", or a terminating signal.
func (r *REPL) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		r.shutdown()
	}()

	fmt.Println("durable alarm console — type 'help' for commands")

	for {
		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		cmd := Parse(line)
		if cmd.Type == CmdUnknown {
			if strings.TrimSpace(line) != "" {
				fmt.Printf("\033[31munrecognized command: %s\033[0m\n", line)
			}
			continue
		}

		if cmd.Type == CmdExit {
			break
		}

		if err := r.dispatch(cmd); err != nil {
			fmt.Printf("\033[31merror: %v\033[0m\n", err)
		}
	}

	r.shutdown()
	return nil
}

func (r *REPL) dispatch(cmd Command) error {
	switch cmd.Type {
	case CmdSchedule:
		return r.handleSchedule(cmd)
	case CmdCancel:
		return r.handleCancel(cmd)
	case CmdList:
		return r.handleList()
	case CmdDue:
		return r.handleDue()
	case CmdDrain:
		return r.handleDrain()
	case CmdStatus:
		return r.handleStatus()
	case CmdHandlers:
		return r.handleHandlers()
	case CmdActor:
		return r.handleActor(cmd)
	case CmdHelp:
		fmt.Print(HelpText)
		return nil
	}
	return nil
}

func (r *REPL) handleSchedule(cmd Command) error {
	if cmd.AlarmType == "" || cmd.DelayMs == 0 {
		return ValidationError{Command: cmd.Type, Reason: "usage: schedule <id> <type> delay=<ms> [repeat=<ms>]"}
	}
	id := cmd.ID
	if id == "" || id == "-" {
		id = uuid.NewString()
	}

	opts := alarm.ScheduleOpts{
		ID:            id,
		Type:          cmd.AlarmType,
		ScheduledAtMs: alarm.WallClock() + cmd.DelayMs,
	}
	if cmd.HasRepeat {
		opts.RepeatInterval = &cmd.RepeatMs
	}

	if err := r.am.Schedule(r.ctx, opts); err != nil {
		return err
	}
	fmt.Printf("scheduled %q (%s) in %s\n", id, cmd.AlarmType, humanize.Time(time.Now().Add(time.Duration(cmd.DelayMs)*time.Millisecond)))
	return nil
}

func (r *REPL) handleCancel(cmd Command) error {
	if cmd.ID == "" {
		return ValidationError{Command: cmd.Type, Reason: "usage: cancel <id>"}
	}
	if err := r.am.Cancel(r.ctx, cmd.ID); err != nil {
		return err
	}
	fmt.Printf("cancelled %q\n", cmd.ID)
	return nil
}

func (r *REPL) handleList() error {
	pending, err := r.am.ListPending(r.ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending alarms")
		return nil
	}
	for _, p := range pending {
		fmt.Printf("  %-24s %-16s fires %s\n", p.ID, p.Type, humanize.Time(time.UnixMilli(p.ScheduledAtMs)))
	}
	return nil
}

func (r *REPL) handleDue() error {
	due, err := r.am.ListDue(r.ctx, alarm.WallClock())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		fmt.Println("no alarms due")
		return nil
	}
	for _, p := range due {
		fmt.Printf("  %-24s %-16s was due %s\n", p.ID, p.Type, humanize.Time(time.UnixMilli(p.ScheduledAtMs)))
	}
	return nil
}

func (r *REPL) handleDrain() error {
	results, err := r.wh.OnWakeup(r.ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("nothing fired")
		return nil
	}
	for _, res := range results {
		outcome := "rescheduled"
		if res.Deleted {
			outcome = "deleted"
		}
		fmt.Printf("  %-24s %-16s %s\n", res.ID, res.Type, outcome)
	}
	return nil
}

func (r *REPL) handleStatus() error {
	id, scheduledAtMs, ok := r.am.CurrentArmed()
	if !ok {
		fmt.Println("wakeup slot: disarmed")
		return nil
	}
	fmt.Printf("wakeup slot armed for %q at %s\n", id, humanize.Time(time.UnixMilli(scheduledAtMs)))
	return nil
}

func (r *REPL) handleHandlers() error {
	if r.handlers == nil {
		fmt.Println("no handler registry configured")
		return nil
	}
	list := r.handlers.List()
	if len(list) == 0 {
		fmt.Println("no custom-alarm handlers registered")
		return nil
	}
	for _, h := range list {
		available := "available"
		if !h.IsAvailable() {
			available = "unavailable"
		}
		fmt.Printf("  %-24s %s\n", h.ID(), available)
	}
	return nil
}

func (r *REPL) handleActor(cmd Command) error {
	if cmd.ID == "" {
		return ValidationError{Command: cmd.Type, Reason: "usage: actor <id>"}
	}
	if r.actors == nil {
		fmt.Println("no actor-state manager configured")
		return nil
	}
	meta, snap, err := r.actors.Load(r.ctx, cmd.ID)
	if err != nil {
		return err
	}
	if meta == nil {
		fmt.Printf("no record for actor %q\n", cmd.ID)
		return nil
	}
	fmt.Printf("actor %q: status=%s lastActive=%s\n", meta.ActorID, meta.Status, humanize.Time(time.UnixMilli(meta.LastActiveMs)))
	if snap != nil {
		fmt.Printf("  snapshot version=%d updated=%s\n", snap.Version, humanize.Time(time.UnixMilli(snap.UpdatedAt)))
	}
	return nil
}

func (r *REPL) shutdown() {
	r.shutdownOnce.Do(func() {
		r.cancel()
		r.rl.Close()
	})
}
