// Package repl provides an interactive console over a single debug
// session.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/gdbtap/gdbtap/internal/gdb"
)

// errExit is a sentinel error used to signal REPL exit.
var errExit = errors.New("exit")

// Session is the slice of a debug session the console drives. It is
// satisfied by *gdb.Session.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Started() bool
	State() gdb.ExecState

	Run(ctx context.Context) error
	Continue(ctx context.Context) error
	StepInstruction(ctx context.Context) error
	NextInstruction(ctx context.Context) error
	StepLine(ctx context.Context) error
	NextLine(ctx context.Context) error
	FinishFrame(ctx context.Context) error

	Snapshot(ctx context.Context) (*gdb.Snapshot, error)
	InsertBreakpoint(ctx context.Context, spec string, opts gdb.InsertOptions) (*gdb.Breakpoint, error)
	DeleteBreakpoint(ctx context.Context, number string) error
	EnableBreakpoint(ctx context.Context, number string) error
	DisableBreakpoint(ctx context.Context, number string) error
	ListBreakpoints(ctx context.Context) ([]gdb.Breakpoint, error)
	ToggleBreakpointAtAddress(ctx context.Context, addr string) (bool, error)
	ClearAllBreakpoints(ctx context.Context) error
}

// commandHandler executes one console command.
type commandHandler func(ctx context.Context, args []string) error

// REPL is the interactive console loop.
type REPL struct {
	session  Session
	out      io.Writer
	handlers map[string]commandHandler
}

// New creates a console over the given session, writing to out.
func New(session Session, out io.Writer) *REPL {
	r := &REPL{session: session, out: out}
	r.handlers = r.buildHandlers()
	return r
}

func (r *REPL) buildHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help":     r.cmdHelp,
		"start":    r.cmdStart,
		"run":      r.stepCommand(Session.Run),
		"continue": r.stepCommand(Session.Continue),
		"stepi":    r.stepCommand(Session.StepInstruction),
		"nexti":    r.stepCommand(Session.NextInstruction),
		"step":     r.stepCommand(Session.StepLine),
		"next":     r.stepCommand(Session.NextLine),
		"finish":   r.stepCommand(Session.FinishFrame),
		"break":    r.cmdBreak,
		"tbreak":   r.cmdTempBreak,
		"delete":   r.cmdDelete,
		"enable":   r.cmdEnable,
		"disable":  r.cmdDisable,
		"toggle":   r.cmdToggle,
		"clear":    r.cmdClear,
		"info":     r.cmdInfo,
		"regs":     r.cmdRegs,
		"stack":    r.cmdStack,
		"disas":    r.cmdDisas,
		"state":    r.cmdState,
		"quit":     r.cmdQuit,
		"exit":     r.cmdQuit,
	}
}

// Run starts the console loop and blocks until exit or ctx cancel.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".gdbtap_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gdbtap> ",
		HistoryFile:     historyFile,
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintln(r.out, "gdbtap console. Type 'help' for commands, TAB to complete.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.execute(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

// execute parses and dispatches a single input line.
func (r *REPL) execute(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	name, args := fields[0], fields[1:]

	handler := r.handlers[name]
	if handler == nil {
		return fmt.Errorf("unknown command %q, try 'help'", name)
	}
	return handler(ctx, args)
}

func (r *REPL) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for name := range r.handlers {
		if name == "info" {
			items = append(items, readline.PcItem("info", readline.PcItem("break")))
			continue
		}
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func filterInput(ch rune) (rune, bool) {
	switch ch {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return ch, false
	}
	return ch, true
}

func (r *REPL) cmdHelp(ctx context.Context, args []string) error {
	fmt.Fprint(r.out, `Commands:
  start                 launch the debugger for the configured program
  run                   start the debuggee from the beginning
  continue              resume until the next stop
  stepi / nexti         one instruction, into / over calls
  step / next           one source line, into / over calls
  finish                run until the current frame returns
  break LOC [if COND]   set a breakpoint (function, file:line, *0xADDR)
  tbreak LOC [if COND]  as break, removed after first hit
  delete N              delete breakpoint N
  enable N / disable N  toggle breakpoint N on or off
  toggle ADDR           flip the breakpoint at a hex address
  clear                 delete all breakpoints
  info break            list breakpoints
  regs / stack / disas  show one state section
  state                 show the full state snapshot
  quit                  exit the console
`)
	return nil
}

func (r *REPL) cmdStart(ctx context.Context, args []string) error {
	if r.session.Started() {
		fmt.Fprintln(r.out, "already started")
		return nil
	}
	if err := r.session.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "started")
	return nil
}

// stepCommand wraps an execution method with the shared
// run-then-show-state flow.
func (r *REPL) stepCommand(fn func(Session, context.Context) error) commandHandler {
	return func(ctx context.Context, args []string) error {
		if err := fn(r.session, ctx); err != nil {
			return err
		}
		return r.showSnapshot(ctx)
	}
}

func (r *REPL) cmdBreak(ctx context.Context, args []string) error {
	return r.insertBreak(ctx, args, false)
}

func (r *REPL) cmdTempBreak(ctx context.Context, args []string) error {
	return r.insertBreak(ctx, args, true)
}

func (r *REPL) insertBreak(ctx context.Context, args []string, temporary bool) error {
	if len(args) == 0 {
		return errors.New("usage: break LOCATION [if CONDITION]")
	}

	opts := gdb.InsertOptions{Temporary: temporary}
	spec := args[0]
	if len(args) >= 3 && args[1] == "if" {
		opts.Condition = strings.Join(args[2:], " ")
	}

	bp, err := r.session.InsertBreakpoint(ctx, gdb.CanonicalBreakSpec(spec), opts)
	if err != nil {
		return err
	}
	if bp == nil {
		fmt.Fprintln(r.out, "breakpoint not confirmed")
		return nil
	}
	fmt.Fprintf(r.out, "breakpoint %s at %s %s\n", bp.Number, bp.Addr, bp.Func)
	return nil
}

func (r *REPL) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete NUMBER")
	}
	return r.session.DeleteBreakpoint(ctx, args[0])
}

func (r *REPL) cmdEnable(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: enable NUMBER")
	}
	return r.session.EnableBreakpoint(ctx, args[0])
}

func (r *REPL) cmdDisable(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: disable NUMBER")
	}
	return r.session.DisableBreakpoint(ctx, args[0])
}

func (r *REPL) cmdToggle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: toggle ADDRESS")
	}
	inserted, err := r.session.ToggleBreakpointAtAddress(ctx, args[0])
	if err != nil {
		return err
	}
	if inserted {
		fmt.Fprintln(r.out, "breakpoint inserted")
	} else {
		fmt.Fprintln(r.out, "breakpoint removed")
	}
	return nil
}

func (r *REPL) cmdClear(ctx context.Context, args []string) error {
	if err := r.session.ClearAllBreakpoints(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "all breakpoints cleared")
	return nil
}

func (r *REPL) cmdInfo(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] != "break" {
		return errors.New("usage: info break")
	}

	bps, err := r.session.ListBreakpoints(ctx)
	if err != nil {
		return err
	}
	printBreakpoints(r.out, bps)
	return nil
}

func (r *REPL) cmdRegs(ctx context.Context, args []string) error {
	snap, err := r.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	printRegisters(r.out, snap.Registers)
	return nil
}

func (r *REPL) cmdStack(ctx context.Context, args []string) error {
	snap, err := r.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	printStack(r.out, snap.Stack)
	printFrames(r.out, snap.Frames)
	return nil
}

func (r *REPL) cmdDisas(ctx context.Context, args []string) error {
	snap, err := r.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	printDisassembly(r.out, snap.Disassembly)
	return nil
}

func (r *REPL) cmdState(ctx context.Context, args []string) error {
	return r.showSnapshot(ctx)
}

func (r *REPL) cmdQuit(ctx context.Context, args []string) error {
	return errExit
}

func (r *REPL) showSnapshot(ctx context.Context) error {
	snap, err := r.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	printSnapshot(r.out, snap)
	return nil
}
