// Package gdb drives an external gdb process through its MI protocol:
// process transport, command/response correlation, execution state
// tracking, breakpoints, and full-state snapshots.
package gdb

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/gdbtap/gdbtap/internal/mi"
)

// recordQueueSize bounds the record channel. The correlator drains
// while waiting, so in practice the reader never blocks here.
const recordQueueSize = 256

// Transport owns the debugger process and turns its output into a
// stream of classified records.
type Transport interface {
	// WriteLine sends one command line, appending the newline.
	WriteLine(line string) error

	// Records returns the channel of classified records. It is closed
	// when the process output ends.
	Records() <-chan *mi.Record

	// Close terminates the process and releases the pipes.
	Close() error
}

// stdioTransport runs gdb as a child process with MI output on a merged
// stdout/stderr pipe. A single reader goroutine classifies lines and
// feeds the record channel for the life of the process.
type stdioTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *os.File
	records chan *mi.Record
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// newStdioTransport spawns the debugger in machine-interface mode and
// starts the reader goroutine.
func newStdioTransport(gdbPath string, logger *slog.Logger) (*stdioTransport, error) {
	cmd := exec.Command(gdbPath, "--interpreter=mi2", "--quiet", "--nx")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", gdbPath, err)
	}
	// Parent keeps only the read end; the child holds the write end
	// open, so EOF arrives exactly when the process exits.
	pw.Close()

	t := &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		out:     pr,
		records: make(chan *mi.Record, recordQueueSize),
		logger:  logger,
	}
	go t.readLoop()

	return t, nil
}

// readLoop classifies output lines until the stream closes. Stream
// close (process exited or killed) ends the loop without error.
func (t *stdioTransport) readLoop() {
	pump(t.out, t.records, t.logger)
}

// pump scans r line by line, classifies each line, and pushes records
// onto out. Unrecognized lines are dropped. The channel is closed when
// r is exhausted.
func pump(r io.Reader, out chan<- *mi.Record, logger *slog.Logger) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		rec, ok := mi.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		if logger != nil {
			logger.Debug("record", "kind", rec.Kind.String(), "class", rec.Class)
		}
		out <- rec
	}
}

// WriteLine sends one command line and flushes immediately. Writes are
// serialized; the correlator ensures at most one correlated command is
// outstanding.
func (t *stdioTransport) WriteLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Records returns the record channel.
func (t *stdioTransport) Records() <-chan *mi.Record {
	return t.records
}

// Close kills the process and reaps it. Safe to call more than once
// and tolerant of a process that already exited.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.stdin.Close()
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		t.closeErr = t.cmd.Wait()
		t.out.Close()
	})
	return t.closeErr
}
