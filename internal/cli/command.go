// Package cli is the administrative REPL for operating a running alarm
// subsystem by hand: schedule, cancel, list, due, drain, status. Grounded
// on internal/ui.Chat and internal/ui.IntentParser in the teacher repo —
// a readline loop paired with pattern-based command classification,
// generalized from "parse chat intent" to "parse admin command".
package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CommandType enumerates the admin commands this REPL understands.
type CommandType string

const (
	CmdSchedule CommandType = "schedule"
	CmdCancel   CommandType = "cancel"
	CmdList     CommandType = "list"
	CmdDue      CommandType = "due"
	CmdDrain    CommandType = "drain"
	CmdStatus   CommandType = "status"
	CmdHandlers CommandType = "handlers"
	CmdActor    CommandType = "actor"
	CmdHelp     CommandType = "help"
	CmdExit     CommandType = "exit"
	CmdUnknown  CommandType = "unknown"
)

// Command is a parsed REPL line.
type Command struct {
	Type           CommandType
	ID             string
	AlarmType      string
	DelayMs        int64
	RepeatMs       int64
	HasRepeat      bool
	Raw            string
}

var optionPattern = regexp.MustCompile(`(\w+)=([^\s]+)`)

var aliases = map[string]CommandType{
	"schedule": CmdSchedule, "sched": CmdSchedule,
	"cancel": CmdCancel,
	"list":   CmdList, "ls": CmdList, "pending": CmdList,
	"due":    CmdDue,
	"drain":  CmdDrain, "wake": CmdDrain, "fire": CmdDrain,
	"status": CmdStatus, "armed": CmdStatus,
	"handlers": CmdHandlers,
	"actor":    CmdActor,
	"help":     CmdHelp, "?": CmdHelp,
	"exit": CmdExit, "quit": CmdExit, "/exit": CmdExit, "/quit": CmdExit,
}

// Parse classifies one line of operator input.
//
// Forms:
//
//	schedule <id> <type> delay=<ms> [repeat=<ms>]
//	cancel <id>
//	list | due | drain | status | help | exit
func Parse(line string) Command {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return Command{Type: CmdUnknown, Raw: raw}
	}

	fields := strings.Fields(raw)
	head := strings.ToLower(fields[0])
	typ, ok := aliases[head]
	if !ok {
		return Command{Type: CmdUnknown, Raw: raw}
	}

	cmd := Command{Type: typ, Raw: raw}

	switch typ {
	case CmdSchedule:
		if len(fields) >= 3 {
			cmd.ID = fields[1]
			cmd.AlarmType = fields[2]
		}
		for _, m := range optionPattern.FindAllStringSubmatch(raw, -1) {
			key, val := m[1], m[2]
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				continue
			}
			switch key {
			case "delay":
				cmd.DelayMs = n
			case "repeat":
				cmd.RepeatMs = n
				cmd.HasRepeat = true
			}
		}
	case CmdCancel, CmdActor:
		if len(fields) >= 2 {
			cmd.ID = fields[1]
		}
	}

	return cmd
}

// HelpText is printed for the "help" command.
const HelpText = `Commands:
  schedule <id> <type> delay=<ms> [repeat=<ms>]   schedule an alarm
  cancel <id>                                     cancel an alarm by id
  list                                            list all pending alarms
  due                                             list alarms due right now
  drain                                           simulate a wakeup firing
  status                                           show the armed wakeup slot
  handlers                                         list registered custom-alarm handlers
  actor <id>                                       show an actor's bookkeeping row
  help                                             show this text
  exit                                             quit
`

// ValidationError is returned by handlers that consume a Command missing
// required fields.
type ValidationError struct {
	Command CommandType
	Reason  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("cli: invalid %s command: %s", e.Command, e.Reason)
}
