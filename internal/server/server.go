// Package server exposes debug sessions over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/gdbtap/gdbtap/internal/gdb"
	"github.com/gdbtap/gdbtap/internal/target"
)

// Engine is the slice of a debug session the server drives. It is
// satisfied by *gdb.Session.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Run(ctx context.Context) error
	Continue(ctx context.Context) error
	StepInstruction(ctx context.Context) error
	NextInstruction(ctx context.Context) error
	StepLine(ctx context.Context) error
	NextLine(ctx context.Context) error
	FinishFrame(ctx context.Context) error
	Snapshot(ctx context.Context) (*gdb.Snapshot, error)
	InsertBreakpoint(ctx context.Context, spec string, opts gdb.InsertOptions) (*gdb.Breakpoint, error)
	ToggleBreakpointAtAddress(ctx context.Context, addr string) (bool, error)
	ClearAllBreakpoints(ctx context.Context) error
}

// EngineFactory builds a session engine for a resolved program path
// and its arguments.
type EngineFactory func(program string, args []string) Engine

// session pairs a live engine with its identity.
type session struct {
	ID     string `json:"id"`
	Target string `json:"target"`

	engine Engine
}

// Server routes the HTTP API and owns the session table.
type Server struct {
	catalog *target.Catalog
	factory EngineFactory
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	mux *http.ServeMux
}

// New creates a server over the given target catalog. factory is
// called once per created session.
func New(catalog *target.Catalog, factory EngineFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		catalog:  catalog,
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*session),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/targets", s.handleTargets)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/state", s.handleState)
	s.mux.HandleFunc("POST /api/sessions/{id}/ctrl", s.handleControl)
	s.mux.HandleFunc("POST /api/sessions/{id}/break", s.handleInsertBreakpoint)
	s.mux.HandleFunc("POST /api/sessions/{id}/break/toggle", s.handleToggleBreakpoint)
	s.mux.HandleFunc("POST /api/sessions/{id}/break/clear", s.handleClearBreakpoints)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown stops every live session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		sess.engine.Stop()
		s.logger.Info("session stopped", "session", id)
		delete(s.sessions, id)
	}
}

// lookup returns the session for the {id} path value, or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *session {
	id := r.PathValue("id")

	s.mu.RLock()
	sess := s.sessions[id]
	s.mu.RUnlock()

	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no session %q", id))
		return nil
	}
	return sess
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": names})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	name := gjson.GetBytes(body, "target").String()
	program, err := s.catalog.Resolve(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var args []string
	for _, a := range gjson.GetBytes(body, "args").Array() {
		args = append(args, a.String())
	}

	engine := s.factory(program, args)
	if err := engine.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start session: %v", err))
		return
	}

	sess := &session{
		ID:     uuid.NewString(),
		Target: name,
		engine: engine,
	}

	// New sessions come up stopped at the program entry: break at main
	// and run. Both are best-effort; a stripped binary still gets a
	// usable session.
	if _, err := engine.InsertBreakpoint(r.Context(), "main", gdb.InsertOptions{}); err != nil {
		s.logger.Warn("initial breakpoint failed", "session", sess.ID, "error", err)
	}
	if err := engine.Run(r.Context()); err != nil {
		s.logger.Warn("initial run failed", "session", sess.ID, "error", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session", sess.ID, "target", name)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no session %q", id))
		return
	}

	sess.engine.Stop()
	s.logger.Info("session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}

	snap, err := sess.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// controlActions maps ctrl request actions to engine methods.
var controlActions = map[string]func(Engine, context.Context) error{
	"run":      Engine.Run,
	"continue": Engine.Continue,
	"stepi":    Engine.StepInstruction,
	"nexti":    Engine.NextInstruction,
	"step":     Engine.StepLine,
	"next":     Engine.NextLine,
	"finish":   Engine.FinishFrame,
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	action := gjson.GetBytes(body, "action").String()
	fn := controlActions[action]
	if fn == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}

	if err := fn(sess.engine, r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap, err := sess.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleInsertBreakpoint(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	location := gjson.GetBytes(body, "location").String()
	if location == "" {
		writeError(w, http.StatusBadRequest, "missing location")
		return
	}

	opts := gdb.InsertOptions{
		Condition: gjson.GetBytes(body, "condition").String(),
		Temporary: gjson.GetBytes(body, "temporary").Bool(),
	}

	bp, err := sess.engine.InsertBreakpoint(r.Context(), gdb.CanonicalBreakSpec(location), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bp == nil {
		writeError(w, http.StatusBadGateway, "breakpoint not confirmed")
		return
	}

	snap, err := sess.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"breakpoint": bp, "state": snap})
}

func (s *Server) handleToggleBreakpoint(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	addr := gjson.GetBytes(body, "addr").String()
	inserted, err := sess.engine.ToggleBreakpointAtAddress(r.Context(), addr)
	if err != nil {
		if errors.Is(err, gdb.ErrBadAddress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap, err := sess.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted, "state": snap})
}

func (s *Server) handleClearBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}

	if err := sess.engine.ClearAllBreakpoints(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap, err := sess.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
