package hostserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrCommandQueueFull is returned by Submit when the loop is not keeping up.
var ErrCommandQueueFull = errors.New("hostserver: command queue full")

// CommandKind names an operator action.
type CommandKind int

const (
	CmdAdvance CommandKind = iota
	CmdRetreat
	CmdSetIndex
	CmdDispatch
	CmdRequestClientState
	CmdRequestReconcile
)

// Command is an operator action applied on the loop goroutine.
type Command struct {
	Kind CommandKind
	// PlayerID addresses CmdDispatch.
	PlayerID string
	// Index is the target of CmdSetIndex.
	Index int
}

// Submit queues cmd for the next tick without blocking.
func (l *Loop) Submit(cmd Command) error {
	select {
	case l.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.commands:
			l.apply(cmd)
		default:
			return
		}
	}
}

func (l *Loop) apply(cmd Command) {
	catalog := l.deps.Catalog
	switch cmd.Kind {
	case CmdAdvance:
		catalog.Advance()
		l.logger.Info("trigger selected", zap.Int("trigger_idx", catalog.Index()), zap.String("trigger", catalog.Current()))
	case CmdRetreat:
		catalog.Retreat()
		l.logger.Info("trigger selected", zap.Int("trigger_idx", catalog.Index()), zap.String("trigger", catalog.Current()))
	case CmdSetIndex:
		catalog.SetIndex(cmd.Index)
		l.logger.Info("trigger selected", zap.Int("trigger_idx", catalog.Index()), zap.String("trigger", catalog.Current()))
	case CmdDispatch:
		l.dispatcher.Dispatch(cmd.PlayerID)
	case CmdRequestClientState:
		l.clientState.Request()
	case CmdRequestReconcile:
		l.playerInit.Request()
	default:
		l.logger.Warn("unknown operator command", zap.Int("kind", int(cmd.Kind)))
	}
}

// ParseCommand reads one console line:
//
//	next | prev | select <n> | run <player_id> | state | reconcile
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	switch verb := strings.ToLower(fields[0]); verb {
	case "next":
		return Command{Kind: CmdAdvance}, nil
	case "prev":
		return Command{Kind: CmdRetreat}, nil
	case "select":
		if len(fields) != 2 {
			return Command{}, errors.New("usage: select <index>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("select: %w", err)
		}
		return Command{Kind: CmdSetIndex, Index: n}, nil
	case "run":
		if len(fields) != 2 {
			return Command{}, errors.New("usage: run <player_id>")
		}
		return Command{Kind: CmdDispatch, PlayerID: fields[1]}, nil
	case "state":
		return Command{Kind: CmdRequestClientState}, nil
	case "reconcile":
		return Command{Kind: CmdRequestReconcile}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", verb)
	}
}
