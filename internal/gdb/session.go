package gdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdbtap/gdbtap/internal/mi"
)

// ExecState tracks where the debuggee is in its run lifecycle.
type ExecState int

const (
	// StateIdle is before the first run.
	StateIdle ExecState = iota
	// StateRunning means a continuation command was issued and no stop
	// event has been drained since.
	StateRunning
	// StateStopped means an async stopped event has been drained.
	StateStopped
)

// String returns a human-readable state name.
func (s ExecState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WaitAny matches any result class when passed as the wait class.
const WaitAny = "any"

const (
	defaultCommandTimeout = 2 * time.Second
	defaultStopTimeout    = 5 * time.Second
)

// Config configures a debug session.
type Config struct {
	// GDBPath is the debugger binary. Default "gdb".
	GDBPath string

	// Program is the executable to load.
	Program string

	// Args are passed to the debuggee.
	Args []string

	// CommandTimeout bounds the wait for a command result.
	CommandTimeout time.Duration

	// StopTimeout bounds the secondary wait for a stop event after a
	// continuation command. Step and continue may take arbitrarily
	// long in the debuggee, so this is deliberately longer.
	StopTimeout time.Duration

	// Logger receives session logging. Nil discards.
	Logger *slog.Logger
}

func (c *Config) fillDefaults() {
	if c.GDBPath == "" {
		c.GDBPath = "gdb"
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Session drives one gdb process. All commands are serialized through
// an internal mutex: the correlator has no notion of multiple
// simultaneous waiters, so concurrent callers queue up rather than
// misattribute results.
type Session struct {
	cfg Config

	// cmdMu serializes correlated commands; at most one is in flight.
	cmdMu     sync.Mutex
	transport Transport

	// mu guards the state fields below.
	mu       sync.RWMutex
	regNames []string
	lastStop mi.Value
	state    ExecState
	stopSeq  uint64
}

// NewSession creates an unstarted session.
func NewSession(cfg Config) *Session {
	cfg.fillDefaults()
	return &Session{
		cfg:      cfg,
		lastStop: mi.MappingValue(),
	}
}

// newSessionWithTransport attaches an already-open transport; used by
// tests to substitute a scripted transport for a live process.
func newSessionWithTransport(cfg Config, tr Transport) *Session {
	s := NewSession(cfg)
	s.transport = tr
	return s
}

// Start spawns the debugger, loads the target program and its symbols,
// sets program arguments, and fetches the register-name table. Spawn
// failure is fatal; initialization commands are best-effort like any
// other command.
func (s *Session) Start(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.transport != nil {
		return ErrAlreadyStarted
	}

	tr, err := newStdioTransport(s.cfg.GDBPath, s.cfg.Logger)
	if err != nil {
		return fmt.Errorf("spawn debugger: %w", err)
	}
	s.transport = tr

	s.cfg.Logger.Info("session started", "program", s.cfg.Program)
	return s.initialize(ctx)
}

// initialize issues the fixed setup sequence. Caller holds cmdMu.
func (s *Session) initialize(ctx context.Context) error {
	s.correlate(ctx, "-gdb-set disassembly-flavor intel", "done")
	s.correlate(ctx, "-file-exec-and-symbols "+s.cfg.Program, "done")

	if len(s.cfg.Args) > 0 {
		s.correlate(ctx, "-exec-arguments "+strings.Join(s.cfg.Args, " "), "done")
	}

	// Register names are fetched once and treated as immutable for the
	// process lifetime.
	rec, err := s.correlate(ctx, "-data-list-register-names", "done")
	if err != nil {
		return err
	}

	var names []string
	if rec != nil {
		for _, el := range rec.Payload.GetList("register-names").Elems() {
			names = append(names, el.Str())
		}
	}

	s.mu.Lock()
	s.regNames = names
	s.mu.Unlock()

	return nil
}

// Stop tears the session down: best-effort graceful exit command, then
// forced termination, then release of the process handle. Idempotent;
// calling it on an already-stopped session is a no-op.
func (s *Session) Stop() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.transport == nil {
		return
	}

	// Fire-and-forget; the process may already be gone.
	_ = s.transport.WriteLine("-gdb-exit")
	_ = s.transport.Close()
	s.transport = nil

	s.cfg.Logger.Info("session stopped", "program", s.cfg.Program)
}

// Started reports whether the session owns a live process handle.
func (s *Session) Started() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.transport != nil
}

// State returns the current execution state.
func (s *Session) State() ExecState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastStop returns the payload of the most recent stop event. It is
// replaced wholesale on each stop.
func (s *Session) LastStop() mi.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStop
}

// RegisterNames returns the ordinal-indexed register-name table.
func (s *Session) RegisterNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.regNames...)
}

// correlate writes a command and waits for a matching result record,
// with the configured command timeout layered onto ctx. Caller holds
// cmdMu. An empty waitClass makes the command fire-and-forget. On
// timeout it returns the last result record seen, possibly nil: the
// debuggee may exit without producing any further structured record,
// and the caller still gets a best-effort answer rather than a hard
// failure. Async, notify, and stream records that arrive while waiting
// are absorbed into session state, never dropped.
func (s *Session) correlate(ctx context.Context, command, waitClass string) (*mi.Record, error) {
	if s.transport == nil {
		return nil, ErrNotStarted
	}

	if err := s.transport.WriteLine(command); err != nil {
		return nil, fmt.Errorf("send %q: %w", command, err)
	}
	if waitClass == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	var last *mi.Record
	for {
		select {
		case rec, ok := <-s.transport.Records():
			if !ok {
				// Output stream closed: process exited.
				return last, nil
			}
			if rec.Kind != mi.KindResult {
				s.absorb(rec)
				continue
			}
			last = rec
			if rec.Class == waitClass || waitClass == WaitAny {
				return rec, nil
			}
		case <-ctx.Done():
			s.cfg.Logger.Warn("result wait timed out", "command", command, "want", waitClass)
			return last, nil
		}
	}
}

// absorb folds an async, notify, or stream record into session state.
// Only async stopped events carry state this engine tracks; everything
// else is consumed and discarded.
func (s *Session) absorb(rec *mi.Record) {
	switch rec.Kind {
	case mi.KindAsync:
		if rec.Class == "stopped" {
			s.mu.Lock()
			s.lastStop = rec.Payload
			s.state = StateStopped
			s.stopSeq++
			s.mu.Unlock()
		}
	case mi.KindStream:
		s.cfg.Logger.Debug("stream", "channel", rec.Stream.String(), "text", rec.Text)
	}
}

// waitForStop drains records until a stop event lands or the deadline
// elapses. If no stop arrives the state simply remains Running: the
// debuggee may have terminated without an explicit stop notification,
// and callers should re-query rather than assume deadlock.
func (s *Session) waitForStop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()

	for {
		select {
		case rec, ok := <-s.transport.Records():
			if !ok {
				return
			}
			if rec.Kind == mi.KindResult {
				continue
			}
			s.absorb(rec)
			if rec.Kind == mi.KindAsync && rec.Class == "stopped" {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// currentStopSeq reads the stop-event counter.
func (s *Session) currentStopSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopSeq
}

// execute issues one continuation command: correlate its running
// acknowledgement, then wait (with the longer stop deadline) for the
// resulting stop event.
func (s *Session) execute(ctx context.Context, command string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.transport == nil {
		return ErrNotStarted
	}

	before := s.currentStopSeq()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	if _, err := s.correlate(ctx, command, "running"); err != nil {
		return err
	}

	// The stop may already have been drained while correlating the
	// acknowledgement; a breakpoint at the entry point hits fast.
	if s.currentStopSeq() != before {
		return nil
	}

	s.waitForStop(ctx)
	return nil
}

// Run starts the debuggee from the beginning.
func (s *Session) Run(ctx context.Context) error {
	return s.execute(ctx, "-exec-run")
}

// Continue resumes the debuggee.
func (s *Session) Continue(ctx context.Context) error {
	return s.execute(ctx, "-exec-continue")
}

// StepInstruction executes one machine instruction, entering calls.
func (s *Session) StepInstruction(ctx context.Context) error {
	return s.execute(ctx, "-exec-step-instruction")
}

// NextInstruction executes one machine instruction, stepping over calls.
func (s *Session) NextInstruction(ctx context.Context) error {
	return s.execute(ctx, "-exec-next-instruction")
}

// StepLine executes one source line, entering calls.
func (s *Session) StepLine(ctx context.Context) error {
	return s.execute(ctx, "-exec-step")
}

// NextLine executes one source line, stepping over calls.
func (s *Session) NextLine(ctx context.Context) error {
	return s.execute(ctx, "-exec-next")
}

// FinishFrame runs until the current frame returns.
func (s *Session) FinishFrame(ctx context.Context) error {
	return s.execute(ctx, "-exec-finish")
}
