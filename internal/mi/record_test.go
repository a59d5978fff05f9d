package mi

import "testing"

func TestParseLineResult(t *testing.T) {
	rec, ok := ParseLine(`^done,value="42"`)
	if !ok {
		t.Fatal("expected a record")
	}

	if rec.Kind != KindResult {
		t.Errorf("expected result, got %s", rec.Kind)
	}
	if rec.Class != "done" {
		t.Errorf("expected class done, got %q", rec.Class)
	}
	if got := rec.Payload.GetString("value"); got != "42" {
		t.Errorf("expected value=42, got %q", got)
	}
}

func TestParseLineResultNoPayload(t *testing.T) {
	rec, ok := ParseLine(`^running`)
	if !ok {
		t.Fatal("expected a record")
	}

	if rec.Class != "running" {
		t.Errorf("expected class running, got %q", rec.Class)
	}
	if rec.Payload.Len() != 0 {
		t.Errorf("expected empty payload, got %d entries", rec.Payload.Len())
	}
}

func TestParseLineAsyncStopped(t *testing.T) {
	line := `*stopped,reason="breakpoint-hit",frame={func="main",addr="0x401000"}`
	rec, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected a record")
	}

	if rec.Kind != KindAsync {
		t.Errorf("expected async, got %s", rec.Kind)
	}
	if rec.Class != "stopped" {
		t.Errorf("expected class stopped, got %q", rec.Class)
	}

	frame := rec.Payload.GetMapping("frame")
	if got := frame.GetString("func"); got != "main" {
		t.Errorf("expected func=main, got %q", got)
	}
	if got := frame.GetString("addr"); got != "0x401000" {
		t.Errorf("expected addr=0x401000, got %q", got)
	}
}

func TestParseLineNotify(t *testing.T) {
	rec, ok := ParseLine(`=breakpoint-created,bkpt={number="1"}`)
	if !ok {
		t.Fatal("expected a record")
	}

	if rec.Kind != KindNotify {
		t.Errorf("expected notify, got %s", rec.Kind)
	}
	if rec.Class != "breakpoint-created" {
		t.Errorf("expected class breakpoint-created, got %q", rec.Class)
	}
}

func TestParseLineStreams(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		channel StreamChannel
		text    string
	}{
		{"console", `~"Reading symbols...\n"`, StreamConsole, "Reading symbols...\n"},
		{"log", `&"warning: bad thing\n"`, StreamLog, "warning: bad thing\n"},
		{"target", `@"program output"`, StreamTarget, "program output"},
		{"unquoted passthrough", `~raw text`, StreamConsole, "raw text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := ParseLine(tt.in)
			if !ok {
				t.Fatal("expected a record")
			}
			if rec.Kind != KindStream {
				t.Fatalf("expected stream, got %s", rec.Kind)
			}
			if rec.Stream != tt.channel {
				t.Errorf("expected channel %s, got %s", tt.channel, rec.Stream)
			}
			if rec.Text != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, rec.Text)
			}
		})
	}
}

func TestParseLineDropped(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"(gdb)",
		"(gdb) ",
		"GNU gdb (GDB) 13.2",
		"some stray text",
	}

	for _, line := range lines {
		if rec, ok := ParseLine(line); ok {
			t.Errorf("expected %q to be dropped, got %+v", line, rec)
		}
	}
}

func TestParseLinePayloadCommaInString(t *testing.T) {
	rec, ok := ParseLine(`^done,msg="a, b",n="1"`)
	if !ok {
		t.Fatal("expected a record")
	}

	if got := rec.Payload.GetString("msg"); got != "a, b" {
		t.Errorf("payload split inside quoted string: %q", got)
	}
	if got := rec.Payload.GetString("n"); got != "1" {
		t.Errorf("expected n=1, got %q", got)
	}
}

func TestParseLineBreakpointTable(t *testing.T) {
	line := `^done,BreakpointTable={nr_rows="1",body=[bkpt={number="1",addr="0x0000000000401000",enabled="y"}]}`
	rec, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected a record")
	}

	table := rec.Payload.GetMapping("BreakpointTable")
	body := table.GetList("body")
	if body.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", body.Len())
	}

	bkpt := body.Elems()[0].GetMapping("bkpt")
	if got := bkpt.GetString("number"); got != "1" {
		t.Errorf("expected number=1, got %q", got)
	}
	if got := bkpt.GetString("addr"); got != "0x0000000000401000" {
		t.Errorf("expected full addr, got %q", got)
	}
}
