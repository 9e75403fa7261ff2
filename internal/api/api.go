// Package api serves the control surface over HTTP: every mutation a
// CLI or UI can perform on the fleet, plus the read-only status and
// timeline endpoints federation peers poll.
//
// All responses are JSON envelopes {ok, error?, data?}. Mutating
// endpoints require the shared X-API-Key header when a key is
// configured; GET endpoints never do. Mutations go through the
// session registry, so they serialize with the monitor and supervisor
// loops and remote sessions stay read-only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/history"
	"github.com/steveyegge/overcode/internal/launch"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// shutdownGrace bounds how long Serve waits for in-flight requests
// after its context is canceled.
const shutdownGrace = 5 * time.Second

// DaemonControl is what the daemon host exposes so the API can restart
// the monitor loop and start or stop the supervisor loop in-process.
type DaemonControl interface {
	RestartMonitor() error
	StartSupervisor() error
	StopSupervisor() error
}

// envelope is the wire shape of every response.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// Port to bind on 127.0.0.1. Zero picks an ephemeral port; the
	// chosen port is written to web_server.port either way.
	Port int
	// APIKey guards mutating endpoints. Empty disables the check.
	APIKey string
	// Agent supplies launch defaults (command, permissiveness, hook
	// detection, time context) for sessions created over the API.
	Agent config.Agent
	// Control handles the /api/daemon endpoints. Nil makes them 503.
	Control DaemonControl

	Recorder events.Recorder
	Log      io.Writer
}

// Server is the control API. Construct with New, then Listen followed
// by Serve; Handler is exposed separately for tests.
type Server struct {
	reg   *registry.Registry
	m     mux.Multiplexer
	fs    fsys.FS
	paths state.Paths
	hist  *history.Log

	port    int
	apiKey  string
	agent   config.Agent
	control DaemonControl
	rec     events.Recorder
	log     io.Writer

	lis net.Listener
}

// New returns a Server over the given registry and multiplexer.
func New(reg *registry.Registry, m mux.Multiplexer, fs fsys.FS, paths state.Paths, hist *history.Log, opts Options) *Server {
	if opts.Recorder == nil {
		opts.Recorder = events.Discard
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	return &Server{
		reg:     reg,
		m:       m,
		fs:      fs,
		paths:   paths,
		hist:    hist,
		port:    opts.Port,
		apiKey:  opts.APIKey,
		agent:   opts.Agent,
		control: opts.Control,
		rec:     opts.Recorder,
		log:     opts.Log,
	}
}

// Listen binds the configured port on loopback and writes the chosen
// port to web_server.port. Returns the bound port.
func (s *Server) Listen() (int, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return 0, fmt.Errorf("binding control api: %w", err)
	}
	s.lis = lis
	port := lis.Addr().(*net.TCPAddr).Port
	if err := s.fs.WriteFile(s.paths.WebPort(), []byte(strconv.Itoa(port)+"\n"), 0o644); err != nil {
		lis.Close() //nolint:errcheck // closing after write failure
		return 0, fmt.Errorf("writing port file: %w", err)
	}
	return port, nil
}

// Serve handles requests on the listener from Listen until ctx is
// canceled, then drains in-flight requests within shutdownGrace and
// removes the port file.
func (s *Server) Serve(ctx context.Context) error {
	if s.lis == nil {
		return fmt.Errorf("control api: Serve before Listen")
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	ictx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ictx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shCancel()
		srv.Shutdown(shCtx) //nolint:errcheck // best-effort drain
	}()
	err := srv.Serve(s.lis)
	cancel()
	<-done
	s.fs.Remove(s.paths.WebPort()) //nolint:errcheck // best-effort cleanup
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// Handler returns the routed handler. Exposed so tests can drive the
// full surface through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mx := http.NewServeMux()

	// Fleet mutations.
	mx.Handle("POST /api/agents/launch", s.auth(s.handleLaunch))
	mx.Handle("POST /api/agents/{name}/send", s.auth(s.handleSend))
	mx.Handle("POST /api/agents/{name}/keys", s.auth(s.handleKeys))
	mx.Handle("POST /api/agents/{name}/kill", s.auth(s.handleKill))
	mx.Handle("POST /api/agents/{name}/restart", s.auth(s.handleRestart))
	mx.Handle("PUT /api/agents/{name}/standing-orders", s.auth(s.handleOrdersSet))
	mx.Handle("DELETE /api/agents/{name}/standing-orders", s.auth(s.handleOrdersClear))
	mx.Handle("PUT /api/agents/{name}/budget", s.auth(s.handleBudget))
	mx.Handle("PUT /api/agents/{name}/value", s.auth(s.handleValue))
	mx.Handle("PUT /api/agents/{name}/annotation", s.auth(s.handleAnnotation))
	mx.Handle("POST /api/agents/{name}/sleep", s.auth(s.handleSleep))
	mx.Handle("PUT /api/agents/{name}/heartbeat", s.auth(s.handleHeartbeat))
	mx.Handle("POST /api/agents/{name}/heartbeat/pause", s.auth(s.handleHeartbeatPause))
	mx.Handle("POST /api/agents/{name}/heartbeat/resume", s.auth(s.handleHeartbeatResume))
	mx.Handle("PUT /api/agents/{name}/time-context", s.auth(s.handleTimeContext))
	mx.Handle("PUT /api/agents/{name}/hook-detection", s.auth(s.handleHookDetection))
	mx.Handle("POST /api/agents/transport", s.auth(s.handleTransport))
	mx.Handle("POST /api/agents/cleanup", s.auth(s.handleCleanup))

	// Daemon control.
	mx.Handle("POST /api/daemon/monitor/restart", s.auth(s.handleMonitorRestart))
	mx.Handle("POST /api/daemon/supervisor/start", s.auth(s.handleSupervisorStart))
	mx.Handle("POST /api/daemon/supervisor/stop", s.auth(s.handleSupervisorStop))

	// Read-only, unauthenticated. Federation peers poll /api/status.
	mx.HandleFunc("GET /api/status", s.handleStatus)
	mx.HandleFunc("GET /api/timeline/raw", s.handleTimeline)

	return mx
}

// auth wraps a mutating handler with the shared-secret check. Header
// name lookup is case-insensitive per HTTP; the key value is not.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			respondErr(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next(w, r)
	})
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: true, Data: data}) //nolint:errcheck // client gone
}

func respondErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: false, Error: msg}) //nolint:errcheck // client gone
}

// errStatus maps registry and multiplexer errors onto HTTP codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, mux.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNameInUse):
		return http.StatusConflict
	case errors.Is(err, registry.ErrRemoteReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status.
func fail(w http.ResponseWriter, err error) {
	respondErr(w, errStatus(err), err.Error())
}

// decode reads the request body into v. An empty body decodes to the
// zero value so bare POSTs work for endpoints with optional bodies.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// lookup resolves a path name to a session. Live local sessions win;
// otherwise any visible session whose name or id matches, so mutations
// against remote sessions reach the registry and fail read-only there.
func (s *Server) lookup(name string) (*state.Session, error) {
	if sess, err := s.reg.GetByName(name); err == nil {
		return sess, nil
	}
	all := s.reg.ListVisible(registry.Filter{IncludeAsleep: true, IncludeTerminated: true, IncludeDone: true})
	for _, sess := range all {
		if sess.Name == name || sess.ID == name {
			return sess, nil
		}
	}
	return nil, registry.ErrNotFound
}

// agentRef is the identifier payload returned by launch and restart.
type agentRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Window string `json:"window,omitempty"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Directory   string `json:"directory"`
		Name        string `json:"name"`
		Prompt      string `json:"prompt,omitempty"`
		Permissions string `json:"permissions,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondErr(w, http.StatusBadRequest, "name is required")
		return
	}
	perm, err := parsePermissions(req.Permissions, s.agent.Permissiveness)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	argv := launch.Compose(s.agent.Command, perm, req.Prompt)
	sess, err := s.reg.Create(req.Name, argv, req.Directory, registry.CreateOptions{
		Permissiveness: perm,
		HookDetection:  s.agent.HookDetection,
		TimeContext:    s.agent.TimeContext,
	})
	telemetry.RecordAgentCreate(r.Context(), req.Name, err)
	if err != nil {
		fail(w, err)
		return
	}
	s.rec.Record(events.Event{Type: events.AgentCreated, Actor: "api", Subject: sess.Name})
	respond(w, http.StatusCreated, agentRef{ID: sess.ID, Name: sess.Name, Window: sess.MultiplexerWindow})
}

// parsePermissions maps the request field onto a permissiveness level,
// falling back to the configured default when the field is empty.
func parsePermissions(v, fallback string) (state.Permissiveness, error) {
	if v == "" {
		v = fallback
	}
	switch v {
	case "", string(state.PermNormal):
		return state.PermNormal, nil
	case string(state.PermPermissive):
		return state.PermPermissive, nil
	case string(state.PermBypass):
		return state.PermBypass, nil
	default:
		return "", fmt.Errorf("unknown permissions %q", v)
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Enter bool   `json:"enter"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.lookup(r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	if sess.Remote() {
		fail(w, registry.ErrRemoteReadOnly)
		return
	}
	if err := s.m.SendText(s.paths.Group, sess.MultiplexerWindow, req.Text, req.Enter); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		respondErr(w, http.StatusBadRequest, "key is required")
		return
	}
	sess, err := s.lookup(r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	if sess.Remote() {
		fail(w, registry.ErrRemoteReadOnly)
		return
	}
	if err := s.m.SendKey(s.paths.Group, sess.MultiplexerWindow, req.Key); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cascade bool `json:"cascade"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.lookup(r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	err = s.reg.Terminate(sess.ID, req.Cascade)
	telemetry.RecordAgentTerminate(r.Context(), sess.Name, "api", err)
	if err != nil {
		fail(w, err)
		return
	}
	s.rec.Record(events.Event{Type: events.AgentTerminated, Actor: "api", Subject: sess.Name})
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sess, err := s.lookup(name)
	if err != nil {
		fail(w, err)
		return
	}
	if sess.Remote() {
		fail(w, registry.ErrRemoteReadOnly)
		return
	}
	fresh, err := s.reg.Restart(sess.Name)
	telemetry.RecordAgentRestart(r.Context(), name, err)
	if err != nil {
		fail(w, err)
		return
	}
	s.rec.Record(events.Event{Type: events.AgentRestarted, Actor: "api", Subject: fresh.Name})
	respond(w, http.StatusOK, agentRef{ID: fresh.ID, Name: fresh.Name, Window: fresh.MultiplexerWindow})
}

func (s *Server) handleOrdersSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string `json:"text,omitempty"`
		Preset string `json:"preset,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	input := req.Text
	if req.Preset != "" {
		input = req.Preset
	}
	if input == "" {
		respondErr(w, http.StatusBadRequest, "text or preset is required")
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetStandingOrders(id, input)
	})
}

func (s *Server) handleOrdersClear(w http.ResponseWriter, r *http.Request) {
	s.mutateByName(w, r, s.reg.ClearStandingOrders)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		USD float64 `json:"usd"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.USD < 0 {
		respondErr(w, http.StatusBadRequest, "usd must be non-negative")
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetBudget(id, req.USD)
	})
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value int `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetValue(id, req.Value)
	})
}

func (s *Server) handleAnnotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.Annotate(id, req.Text)
	})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asleep bool `json:"asleep"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetSleep(id, req.Asleep)
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled     bool   `json:"enabled"`
		Frequency   int    `json:"frequency,omitempty"`
		Instruction string `json:"instruction,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled && req.Frequency <= 0 {
		respondErr(w, http.StatusBadRequest, "frequency must be positive")
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetHeartbeat(id, req.Enabled, req.Frequency, req.Instruction)
	})
}

func (s *Server) handleHeartbeatPause(w http.ResponseWriter, r *http.Request) {
	s.mutateByName(w, r, s.reg.PauseHeartbeat)
}

func (s *Server) handleHeartbeatResume(w http.ResponseWriter, r *http.Request) {
	s.mutateByName(w, r, s.reg.ResumeHeartbeat)
}

func (s *Server) handleTimeContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetTimeContext(id, req.Enabled)
	})
}

func (s *Server) handleHookDetection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mutateByName(w, r, func(id string) error {
		return s.reg.SetHookDetection(id, req.Enabled)
	})
}

// mutateByName resolves the path name and applies fn to the session id,
// answering with the mapped error or a bare ok.
func (s *Server) mutateByName(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	sess, err := s.lookup(r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	if err := fn(sess.ID); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleTransport(w http.ResponseWriter, _ *http.Request) {
	moved, err := s.reg.Transport()
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"moved": moved, "count": len(moved)})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IncludeDone bool `json:"include_done"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.reg.Cleanup(req.IncludeDone)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleMonitorRestart(w http.ResponseWriter, _ *http.Request) {
	s.daemonOp(w, func(c DaemonControl) error { return c.RestartMonitor() })
}

func (s *Server) handleSupervisorStart(w http.ResponseWriter, _ *http.Request) {
	s.daemonOp(w, func(c DaemonControl) error { return c.StartSupervisor() })
}

func (s *Server) handleSupervisorStop(w http.ResponseWriter, _ *http.Request) {
	s.daemonOp(w, func(c DaemonControl) error { return c.StopSupervisor() })
}

func (s *Server) daemonOp(w http.ResponseWriter, fn func(DaemonControl) error) {
	if s.control == nil {
		respondErr(w, http.StatusServiceUnavailable, "daemon control not available")
		return
	}
	if err := fn(s.control); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

// handleStatus serves the monitor's last written state document. This
// is the endpoint federation peers poll; it needs no key.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var ms state.MonitorState
	err := state.LoadJSON(s.fs, s.paths.MonitorState(), &ms)
	if os.IsNotExist(err) {
		respondErr(w, http.StatusServiceUnavailable, "monitor state not yet written")
		return
	}
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, ms)
}

// timelinePoint is one (timestamp, status) observation.
type timelinePoint struct {
	Ts     time.Time    `json:"ts"`
	Status state.Status `json:"status"`
}

// handleTimeline serves the last H hours of status transitions per
// agent from the history log. hours defaults to 1.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := 1.0
	if h := r.URL.Query().Get("hours"); h != "" {
		v, err := strconv.ParseFloat(h, 64)
		if err != nil || v <= 0 {
			respondErr(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
		hours = v
	}
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	rows, err := s.hist.Since(cutoff)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	agents := make(map[string][]timelinePoint)
	for _, row := range rows {
		agents[row.Agent] = append(agents[row.Agent], timelinePoint{Ts: row.Timestamp, Status: row.Status})
	}
	respond(w, http.StatusOK, map[string]any{"hours": hours, "agents": agents})
}
