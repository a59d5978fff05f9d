package repl

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gdbtap/gdbtap/internal/gdb"
	"github.com/gdbtap/gdbtap/internal/mi"
)

// printSnapshot renders the full state snapshot.
func printSnapshot(w io.Writer, snap *gdb.Snapshot) {
	fmt.Fprintf(w, "status: %s\n", snap.Status)

	if reason := snap.Stop.GetString("reason"); reason != "" {
		frame := snap.Stop.GetMapping("frame")
		fmt.Fprintf(w, "stopped: %s at %s %s\n",
			reason, frame.GetString("addr"), frame.GetString("func"))
	}

	if len(snap.Registers) > 0 {
		fmt.Fprintln(w)
		printRegisters(w, snap.Registers)
	}
	if snap.Disassembly.Len() > 0 {
		fmt.Fprintln(w)
		printDisassembly(w, snap.Disassembly)
	}
	if len(snap.Stack) > 0 {
		fmt.Fprintln(w)
		printStack(w, snap.Stack)
	}
	if snap.Frames.Len() > 0 {
		fmt.Fprintln(w)
		printFrames(w, snap.Frames)
	}
	if len(snap.Breakpoints) > 0 {
		fmt.Fprintln(w)
		printBreakpoints(w, snap.Breakpoints)
	}
}

// printRegisters renders registers three to a row.
func printRegisters(w io.Writer, regs []gdb.Register) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, reg := range regs {
		fmt.Fprintf(tw, "%s\t%s", reg.Name, reg.Value)
		if i%3 == 2 || i == len(regs)-1 {
			fmt.Fprintln(tw)
		} else {
			fmt.Fprint(tw, "\t")
		}
	}
	tw.Flush()
}

// printStack renders raw stack words with their ASCII view.
func printStack(w io.Writer, words []gdb.StackWord) {
	for _, word := range words {
		fmt.Fprintf(w, "%s  %s  |%s|\n", word.Addr, word.Qword, word.ASCII)
	}
}

// printFrames renders the call stack reported by the debugger.
func printFrames(w io.Writer, frames mi.Value) {
	for _, elem := range frames.Elems() {
		frame, ok := elem.Get("frame")
		if !ok {
			continue
		}
		fmt.Fprintf(w, "#%s  %s in %s", frame.GetString("level"),
			frame.GetString("addr"), frame.GetString("func"))
		if file := frame.GetString("file"); file != "" {
			fmt.Fprintf(w, " at %s:%s", file, frame.GetString("line"))
		}
		fmt.Fprintln(w)
	}
}

// printDisassembly renders the instruction window around the pc.
func printDisassembly(w io.Writer, insns mi.Value) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, insn := range insns.Elems() {
		if insn.Kind() != mi.KindMapping {
			continue
		}
		loc := insn.GetString("func-name")
		if loc != "" {
			loc = fmt.Sprintf("<%s+%s>", loc, insn.GetString("offset"))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", insn.GetString("address"), loc, insn.GetString("inst"))
	}
	tw.Flush()
}

// printBreakpoints renders the breakpoint table.
func printBreakpoints(w io.Writer, bps []gdb.Breakpoint) {
	if len(bps) == 0 {
		fmt.Fprintln(w, "no breakpoints")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "num\tenb\taddr\twhat\thits")
	for _, bp := range bps {
		enb := "y"
		if !bp.Enabled {
			enb = "n"
		}
		what := bp.Func
		if bp.File != "" {
			what = fmt.Sprintf("%s at %s:%s", bp.Func, bp.File, bp.Line)
		}
		if bp.Condition != "" {
			what += " if " + bp.Condition
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", bp.Number, enb, bp.Addr, what, bp.Times)
	}
	tw.Flush()
}
