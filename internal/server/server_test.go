package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gdbtap/gdbtap/internal/gdb"
	"github.com/gdbtap/gdbtap/internal/target"
)

// fakeEngine records calls and serves canned snapshots.
type fakeEngine struct {
	program string
	args    []string
	calls   []string

	startErr  error
	toggleOut bool
	toggleErr error
	snapshot  *gdb.Snapshot
	insertBP  *gdb.Breakpoint
}

func (f *fakeEngine) call(name string) { f.calls = append(f.calls, name) }

func (f *fakeEngine) Start(ctx context.Context) error { f.call("start"); return f.startErr }
func (f *fakeEngine) Stop()                           { f.call("stop") }

func (f *fakeEngine) Run(ctx context.Context) error             { f.call("run"); return nil }
func (f *fakeEngine) Continue(ctx context.Context) error        { f.call("continue"); return nil }
func (f *fakeEngine) StepInstruction(ctx context.Context) error { f.call("stepi"); return nil }
func (f *fakeEngine) NextInstruction(ctx context.Context) error { f.call("nexti"); return nil }
func (f *fakeEngine) StepLine(ctx context.Context) error        { f.call("step"); return nil }
func (f *fakeEngine) NextLine(ctx context.Context) error        { f.call("next"); return nil }
func (f *fakeEngine) FinishFrame(ctx context.Context) error     { f.call("finish"); return nil }

func (f *fakeEngine) Snapshot(ctx context.Context) (*gdb.Snapshot, error) {
	f.call("snapshot")
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &gdb.Snapshot{Status: "idle"}, nil
}

func (f *fakeEngine) InsertBreakpoint(ctx context.Context, spec string, opts gdb.InsertOptions) (*gdb.Breakpoint, error) {
	f.call("insert " + spec)
	return f.insertBP, nil
}

func (f *fakeEngine) ToggleBreakpointAtAddress(ctx context.Context, addr string) (bool, error) {
	f.call("toggle " + addr)
	return f.toggleOut, f.toggleErr
}

func (f *fakeEngine) ClearAllBreakpoints(ctx context.Context) error {
	f.call("clear")
	return nil
}

// testServer builds a server over a temp catalog holding one target.
func testServer(t *testing.T) (*Server, *fakeEngine) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "crackme"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write target: %v", err)
	}

	cat, err := target.NewCatalog(dir, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	engine := &fakeEngine{}
	factory := func(program string, args []string) Engine {
		engine.program = program
		engine.args = args
		return engine
	}

	return New(cat, factory, nil), engine
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// createSession creates a session and returns its id.
func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"target":"crackme"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if out.ID == "" {
		t.Fatal("create response missing id")
	}
	return out.ID
}

func TestListTargets(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/targets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out struct {
		Targets []string `json:"targets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Targets) != 1 || out.Targets[0] != "crackme" {
		t.Errorf("targets = %v", out.Targets)
	}
}

func TestCreateSessionStartsAndRuns(t *testing.T) {
	srv, engine := testServer(t)

	id := createSession(t, srv)
	if id == "" {
		t.Fatal("empty session id")
	}

	want := []string{"start", "insert main", "run"}
	if len(engine.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", engine.calls, want)
	}
	for i := range want {
		if engine.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", engine.calls, want)
		}
	}
	if !strings.HasSuffix(engine.program, "/crackme") {
		t.Errorf("program = %q", engine.program)
	}
}

func TestCreateSessionPassesArgs(t *testing.T) {
	srv, engine := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions",
		`{"target":"crackme","args":["--flag","value"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(engine.args) != 2 || engine.args[0] != "--flag" || engine.args[1] != "value" {
		t.Errorf("args = %v", engine.args)
	}
}

func TestCreateSessionUnknownTarget(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"target":"../etc/passwd"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCreateSessionMalformedBody(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"target":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDeleteSessionStopsEngine(t *testing.T) {
	srv, engine := testServer(t)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodDelete, "/api/sessions/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if engine.calls[len(engine.calls)-1] != "stop" {
		t.Errorf("calls = %v", engine.calls)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions/"+id+"/state", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("state after delete: status = %d", rec.Code)
	}
}

func TestControlActions(t *testing.T) {
	actions := []string{"run", "continue", "stepi", "nexti", "step", "next", "finish"}

	for _, action := range actions {
		t.Run(action, func(t *testing.T) {
			srv, engine := testServer(t)
			id := createSession(t, srv)

			rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/ctrl",
				fmt.Sprintf(`{"action":%q}`, action))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
			}

			calls := engine.calls
			if len(calls) != 5 || calls[3] != action || calls[4] != "snapshot" {
				t.Errorf("calls = %v, want create flow then %s and snapshot", calls, action)
			}
		})
	}
}

func TestControlUnknownAction(t *testing.T) {
	srv, _ := testServer(t)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/ctrl", `{"action":"explode"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestControlMissingSession(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/nope/ctrl", `{"action":"run"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	srv, engine := testServer(t)
	engine.snapshot = &gdb.Snapshot{
		Status:    "stopped",
		Registers: []gdb.Register{{Name: "rip", Value: "0x401000"}},
	}
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/api/sessions/"+id+"/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out struct {
		Status    string `json:"status"`
		Registers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"registers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "stopped" || len(out.Registers) != 1 || out.Registers[0].Name != "rip" {
		t.Errorf("snapshot = %+v", out)
	}
}

func TestInsertBreakpoint(t *testing.T) {
	srv, engine := testServer(t)
	engine.insertBP = &gdb.Breakpoint{Number: "1", Addr: "0x401000", Func: "main", Enabled: true}
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break",
		`{"location":"helper","condition":"x > 5","temporary":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	calls := engine.calls
	if calls[len(calls)-2] != "insert helper" || calls[len(calls)-1] != "snapshot" {
		t.Errorf("calls = %v", calls)
	}

	var out struct {
		Breakpoint struct {
			Number string `json:"number"`
		} `json:"breakpoint"`
		State struct {
			Status string `json:"status"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Breakpoint.Number != "1" || out.State.Status == "" {
		t.Errorf("response = %s", rec.Body.String())
	}
}

func TestInsertBreakpointNormalizesHexAddress(t *testing.T) {
	srv, engine := testServer(t)
	engine.insertBP = &gdb.Breakpoint{Number: "1"}
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break",
		`{"location":"0x401000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	calls := engine.calls
	if calls[len(calls)-2] != "insert *0x401000" {
		t.Errorf("calls = %v", calls)
	}
}

func TestInsertBreakpointMissingLocation(t *testing.T) {
	srv, _ := testServer(t)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestToggleBreakpoint(t *testing.T) {
	srv, engine := testServer(t)
	engine.toggleOut = true
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break/toggle", `{"addr":"0x401000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out struct {
		Inserted bool `json:"inserted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Inserted {
		t.Error("inserted = false, want true")
	}
}

func TestToggleBadAddress(t *testing.T) {
	srv, engine := testServer(t)
	engine.toggleErr = fmt.Errorf("toggle: %w", gdb.ErrBadAddress)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break/toggle", `{"addr":"banana"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestClearBreakpoints(t *testing.T) {
	srv, engine := testServer(t)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/break/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	calls := engine.calls
	if calls[len(calls)-2] != "clear" || calls[len(calls)-1] != "snapshot" {
		t.Errorf("calls = %v", calls)
	}
}

func TestShutdownStopsSessions(t *testing.T) {
	srv, engine := testServer(t)
	createSession(t, srv)

	srv.Shutdown()
	if engine.calls[len(engine.calls)-1] != "stop" {
		t.Errorf("calls = %v", engine.calls)
	}
}
