package gdb

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/gdbtap/gdbtap/internal/mi"
)

const (
	// disasmWindow is the byte span read on each side of the program
	// counter for the disassembly section.
	disasmWindow = 64

	// stackReadBytes is how much raw stack memory one snapshot reads.
	stackReadBytes = 256

	// stackWordSize groups raw stack bytes into little-endian words.
	stackWordSize = 8
)

// Register is one named register value.
type Register struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StackWord is one decoded word of raw stack memory: its address, the
// little-endian value, and a printable rendering of the raw bytes.
type StackWord struct {
	Addr  string `json:"addr"`
	Qword string `json:"qword"`
	ASCII string `json:"ascii"`
}

// Snapshot is a composite view of the debuggee assembled from several
// independent round-trips. It reflects the debugger's state at call
// time and may be slightly inconsistent if the debuggee changes state
// mid-assembly; each section is independently best-effort and degrades
// to its empty value on timeout.
type Snapshot struct {
	// Status is the execution state at assembly time.
	Status string `json:"status"`

	// Stop is the payload of the most recent stop event.
	Stop mi.Value `json:"stop"`

	// Registers holds the named register values in register order.
	Registers []Register `json:"registers"`

	// Frames is the stack frame list as the debugger reported it.
	Frames mi.Value `json:"frames"`

	// Disassembly is the instruction window around the program counter.
	Disassembly mi.Value `json:"disasm"`

	// Stack is the decoded raw stack memory, empty when the pointer
	// register is unavailable.
	Stack []StackWord `json:"stack"`

	// Breakpoints is the current breakpoint list.
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// Snapshot assembles a full-state view: registers, stack frames, a
// disassembly window around the program counter, raw stack memory, and
// the breakpoint list. A failure in any one section leaves that
// section empty and never aborts the rest.
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.transport == nil {
		return nil, ErrNotStarted
	}

	snap := &Snapshot{
		Status:      s.State().String(),
		Stop:        s.LastStop(),
		Frames:      mi.ListValue(),
		Disassembly: mi.ListValue(),
	}

	snap.Registers = s.readRegisters(ctx)

	if rec, _ := s.correlate(ctx, "-stack-list-frames", "done"); rec != nil {
		if frames, ok := rec.Payload.Get("stack"); ok {
			snap.Frames = frames
		}
	}

	disasm := fmt.Sprintf("-data-disassemble -s $pc-%d -e $pc+%d -- 0", disasmWindow, disasmWindow)
	if rec, _ := s.correlate(ctx, disasm, "done"); rec != nil {
		if insns, ok := rec.Payload.Get("asm_insns"); ok {
			snap.Disassembly = insns
		}
	}

	// Raw stack memory is read only when the stack pointer is known;
	// a missing pointer register yields an empty section, not an error.
	if sp := findRegister(snap.Registers, "rsp"); sp != "" {
		snap.Stack = s.readStack(ctx, sp)
	}

	if bps, err := s.listBreakpoints(ctx); err == nil {
		snap.Breakpoints = bps
	}

	return snap, nil
}

// readRegisters fetches all register values and resolves names through
// the session's register-name table. Ordinals beyond the table get a
// synthetic name; entries whose resolved name is empty are omitted.
func (s *Session) readRegisters(ctx context.Context) []Register {
	rec, _ := s.correlate(ctx, "-data-list-register-values x", "done")
	if rec == nil {
		return nil
	}

	names := s.RegisterNames()

	var out []Register
	for _, rv := range rec.Payload.GetList("register-values").Elems() {
		if rv.Kind() != mi.KindMapping {
			continue
		}
		num, err := strconv.Atoi(rv.GetString("number"))
		if err != nil {
			continue
		}

		name := ""
		switch {
		case num >= 0 && num < len(names):
			name = names[num]
		case num >= 0:
			name = fmt.Sprintf("r%d", num)
		}
		if name == "" {
			continue
		}

		out = append(out, Register{Name: name, Value: rv.GetString("value")})
	}
	return out
}

// readStack reads raw memory at the stack pointer and decodes it into
// words with a printable-ASCII rendering.
func (s *Session) readStack(ctx context.Context, sp string) []StackWord {
	base, err := parseHexAddress(sp)
	if err != nil {
		return nil
	}

	cmd := fmt.Sprintf("-data-read-memory-bytes %s %d", sp, stackReadBytes)
	rec, _ := s.correlate(ctx, cmd, "done")
	if rec == nil {
		return nil
	}

	memory := rec.Payload.GetList("memory")
	if memory.Len() == 0 {
		return nil
	}
	first := memory.Elems()[0]
	if first.Kind() != mi.KindMapping {
		return nil
	}

	raw, err := hex.DecodeString(first.GetString("contents"))
	if err != nil || len(raw) == 0 {
		return nil
	}
	if len(raw) > stackReadBytes {
		raw = raw[:stackReadBytes]
	}

	var out []StackWord
	for i := 0; i < len(raw); i += stackWordSize {
		end := i + stackWordSize
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[i:end]

		var qword uint64
		ascii := make([]byte, len(chunk))
		for j, b := range chunk {
			qword |= uint64(b) << (8 * j)
			if b >= 0x20 && b <= 0x7e {
				ascii[j] = b
			} else {
				ascii[j] = '.'
			}
		}

		out = append(out, StackWord{
			Addr:  fmt.Sprintf("0x%x", base+uint64(i)),
			Qword: fmt.Sprintf("0x%x", qword),
			ASCII: string(ascii),
		})
	}
	return out
}

// findRegister returns the value of the named register, or "".
func findRegister(regs []Register, name string) string {
	for _, r := range regs {
		if r.Name == name {
			return r.Value
		}
	}
	return ""
}
