package gdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gdbtap/gdbtap/internal/mi"
)

// Breakpoint is a projection of the mapping gdb reports for one
// breakpoint. The debugger owns these; the engine never trusts a local
// copy across calls and always re-fetches the list.
type Breakpoint struct {
	// Number is the debugger-assigned breakpoint number.
	Number string `json:"number"`

	// Type is the breakpoint type ("breakpoint", "watchpoint").
	Type string `json:"type,omitempty"`

	// Disp is the disposition ("keep" or "del" for temporaries).
	Disp string `json:"disp,omitempty"`

	// Enabled reports whether the breakpoint is active.
	Enabled bool `json:"enabled"`

	// Addr is the hex address, when resolved.
	Addr string `json:"addr,omitempty"`

	// Func is the containing function, when known.
	Func string `json:"func,omitempty"`

	// File and Line locate the breakpoint in source, when known.
	File string `json:"file,omitempty"`
	Line string `json:"line,omitempty"`

	// Condition is the stop condition, when set.
	Condition string `json:"condition,omitempty"`

	// Times is the hit count gdb reports.
	Times string `json:"times,omitempty"`
}

// breakpointFromValue projects one bkpt mapping.
func breakpointFromValue(v mi.Value) Breakpoint {
	return Breakpoint{
		Number:    v.GetString("number"),
		Type:      v.GetString("type"),
		Disp:      v.GetString("disp"),
		Enabled:   v.GetString("enabled") == "y",
		Addr:      v.GetString("addr"),
		Func:      v.GetString("func"),
		File:      v.GetString("file"),
		Line:      v.GetString("line"),
		Condition: v.GetString("cond"),
		Times:     v.GetString("times"),
	}
}

// InsertOptions carries the optional breakpoint-insert modifiers.
type InsertOptions struct {
	// Condition makes the breakpoint conditional.
	Condition string

	// Temporary deletes the breakpoint after the first hit.
	Temporary bool
}

// InsertBreakpoint sets a breakpoint at spec: a function name, a
// file:line location, or *0xADDR for a raw address. It returns the
// breakpoint gdb reports, or nil when no confirmation arrived in time.
func (s *Session) InsertBreakpoint(ctx context.Context, spec string, opts InsertOptions) (*Breakpoint, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.insertBreakpoint(ctx, spec, opts)
}

// insertBreakpoint is InsertBreakpoint without the lock; caller holds
// cmdMu.
func (s *Session) insertBreakpoint(ctx context.Context, spec string, opts InsertOptions) (*Breakpoint, error) {
	var b strings.Builder
	b.WriteString("-break-insert")
	if opts.Temporary {
		b.WriteString(" -t")
	}
	if opts.Condition != "" {
		fmt.Fprintf(&b, " -c %q", opts.Condition)
	}
	b.WriteString(" ")
	b.WriteString(spec)

	rec, err := s.correlate(ctx, b.String(), "done")
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Class != "done" {
		return nil, nil
	}
	bkpt, ok := rec.Payload.Get("bkpt")
	if !ok {
		return nil, nil
	}
	bp := breakpointFromValue(bkpt)
	return &bp, nil
}

// DeleteBreakpoint removes a breakpoint by number.
func (s *Session) DeleteBreakpoint(ctx context.Context, number string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.deleteBreakpoint(ctx, number)
}

func (s *Session) deleteBreakpoint(ctx context.Context, number string) error {
	_, err := s.correlate(ctx, "-break-delete "+number, "done")
	return err
}

// EnableBreakpoint enables a breakpoint by number.
func (s *Session) EnableBreakpoint(ctx context.Context, number string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	_, err := s.correlate(ctx, "-break-enable "+number, "done")
	return err
}

// DisableBreakpoint disables a breakpoint by number.
func (s *Session) DisableBreakpoint(ctx context.Context, number string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	_, err := s.correlate(ctx, "-break-disable "+number, "done")
	return err
}

// ListBreakpoints fetches the current breakpoint table and flattens its
// rows. A degraded (empty) result on timeout is not an error.
func (s *Session) ListBreakpoints(ctx context.Context) ([]Breakpoint, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.listBreakpoints(ctx)
}

func (s *Session) listBreakpoints(ctx context.Context) ([]Breakpoint, error) {
	rec, err := s.correlate(ctx, "-break-list", "done")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	body := rec.Payload.GetMapping("BreakpointTable").GetList("body")

	var out []Breakpoint
	for _, row := range body.Elems() {
		if row.Kind() != mi.KindMapping {
			continue
		}
		bkpt, ok := row.Get("bkpt")
		if !ok {
			continue
		}
		out = append(out, breakpointFromValue(bkpt))
	}
	return out, nil
}

// ToggleBreakpointAtAddress removes the breakpoint at addr if one
// exists, comparing addresses numerically so hex formatting differences
// do not matter, and otherwise inserts one at the canonical *0x form.
// Breakpoints whose reported address is missing or unparsable are
// skipped silently rather than failing the whole operation. The
// returned flag reports whether a breakpoint was added (true) or
// removed (false).
func (s *Session) ToggleBreakpointAtAddress(ctx context.Context, addr string) (bool, error) {
	want, err := parseHexAddress(addr)
	if err != nil {
		return false, err
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	bps, err := s.listBreakpoints(ctx)
	if err != nil {
		return false, err
	}

	for _, bp := range bps {
		if bp.Addr == "" {
			continue
		}
		have, err := parseHexAddress(bp.Addr)
		if err != nil {
			continue
		}
		if have == want {
			return false, s.deleteBreakpoint(ctx, bp.Number)
		}
	}

	_, err = s.insertBreakpoint(ctx, fmt.Sprintf("*0x%x", want), InsertOptions{})
	return true, err
}

// ClearAllBreakpoints deletes every breakpoint the debugger reports.
func (s *Session) ClearAllBreakpoints(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	bps, err := s.listBreakpoints(ctx)
	if err != nil {
		return err
	}

	for _, bp := range bps {
		if bp.Number == "" {
			continue
		}
		if err := s.deleteBreakpoint(ctx, bp.Number); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalBreakSpec rewrites a 0x-prefixed hex address into the *0x
// form gdb expects for address breakpoints. Function names, file:line
// locations, and specs already carrying * pass through unchanged. A
// bare hex word is left alone: it may be a function name.
func CanonicalBreakSpec(spec string) string {
	trimmed := strings.TrimSpace(spec)
	if len(trimmed) < 2 || trimmed[0] != '0' || (trimmed[1] != 'x' && trimmed[1] != 'X') {
		return spec
	}
	n, err := parseHexAddress(trimmed)
	if err != nil {
		return spec
	}
	return fmt.Sprintf("*0x%x", n)
}

// parseHexAddress parses a hex address with or without the 0x prefix.
func parseHexAddress(addr string) (uint64, error) {
	trimmed := strings.TrimSpace(addr)
	if len(trimmed) > 1 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	n, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	return n, nil
}
