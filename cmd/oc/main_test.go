package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hookstate"
	"github.com/steveyegge/overcode/internal/state"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"oc": func() { os.Exit(run(os.Args[1:], os.Stdout, os.Stderr)) },
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: filepath.Join("testdata", "script"),
	})
}

// isolate pins the persistent-flag globals and environment overrides so
// each test sees a fresh resolution chain.
func isolate(t *testing.T) {
	t.Helper()
	stateDirFlag = ""
	groupFlag = ""
	t.Setenv("OVERCODE_STATE_DIR", "")
	t.Setenv("OVERCODE_GROUP", "")
	t.Setenv("OVERCODE_API_KEY", "")
	t.Setenv("SESSION_NAME", "")
	t.Setenv("MULTIPLEXER_GROUP", "")
}

// seedMonitorState writes a monitor snapshot into dir's default group.
func seedMonitorState(t *testing.T, dir string, ms state.MonitorState) {
	t.Helper()
	paths := state.NewPaths(dir, "agents")
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveJSON(fsys.OSFS{}, paths.MonitorState(), ms); err != nil {
		t.Fatal(err)
	}
}

// --- run ---

func TestRunNoArgs(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer
	code := run(nil, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Errorf("run(nil) = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "Available Commands") {
		t.Errorf("stdout missing help text: %q", stdout.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer
	code := run([]string{"blorp"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([blorp]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "blorp"`) {
		t.Errorf("stderr = %q, want 'unknown command'", stderr.String())
	}
}

// --- oc version ---

func TestVersion(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer
	code := run([]string{"version"}, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Errorf("run([version]) = %d, want 0", code)
	}
	out := stdout.String()
	// Default values when not built with ldflags.
	if !strings.Contains(out, "oc dev") {
		t.Errorf("stdout missing 'oc dev': %q", out)
	}
	if !strings.Contains(out, "commit:") {
		t.Errorf("stdout missing 'commit:': %q", out)
	}
}

// --- oc init ---

func TestInitScaffoldsStateDir(t *testing.T) {
	isolate(t)
	dir := filepath.Join(t.TempDir(), "overcode")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "init"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run([init]) = %d, want 0; stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Initialized Overcode state") {
		t.Errorf("stdout missing init message: %q", stdout.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "overcode.toml"))
	if err != nil {
		t.Fatalf("overcode.toml: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Overcode configuration.") {
		t.Errorf("config missing header comment: %q", data)
	}

	fi, err := os.Stat(filepath.Join(dir, "agents"))
	if err != nil {
		t.Fatalf("group dir: %v", err)
	}
	if !fi.IsDir() {
		t.Error("group dir: not a directory")
	}
}

func TestInitRefusesSecondRun(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	code := run([]string{"--state-dir", dir, "init"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("first init = %d, want 0", code)
	}

	var stderr bytes.Buffer
	code = run([]string{"--state-dir", dir, "init"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("second init = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "already initialized") {
		t.Errorf("stderr = %q, want 'already initialized'", stderr.String())
	}
}

func TestInitHonorsGroupFlag(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "--group", "night-shift", "init"}, &bytes.Buffer{}, &stderr)
	if code != 0 {
		t.Fatalf("run([init]) = %d, want 0; stderr: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "night-shift")); err != nil {
		t.Errorf("group dir: %v", err)
	}
}

// --- oc status ---

func TestStatusNoState(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "status"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([status]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "no monitor state") {
		t.Errorf("stderr = %q, want 'no monitor state'", stderr.String())
	}
}

func TestStatusFleetTable(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	seedMonitorState(t, dir, state.MonitorState{
		LoopCount:     7,
		DaemonVersion: "test",
		Agents: []state.AgentSnapshot{
			{ID: "agents:1", Name: "builder", Window: "agents:1", Status: state.StatusRunning,
				EstimatedCostUSD: 1.25, TotalTokens: 5000},
			{ID: "agents:2", Name: "tester", Window: "agents:2", Status: state.StatusWaitingUser},
		},
		Aggregate: state.Aggregate{GreenCount: 1, ActiveCount: 2},
	})

	var stdout, stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "status"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run([status]) = %d, want 0; stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"NAME", "builder", "tester", "$1.25", "2 agents (1 green, 2 active)"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q: %q", want, out)
		}
	}
	// No live daemon behind the snapshot.
	if !strings.Contains(stderr.String(), "daemon is not running") {
		t.Errorf("stderr missing staleness warning: %q", stderr.String())
	}
}

func TestStatusAgentDetail(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	budget := 10.0
	seedMonitorState(t, dir, state.MonitorState{
		Agents: []state.AgentSnapshot{
			{ID: "agents:1", Name: "builder", Window: "agents:1", Status: state.StatusRunning,
				EstimatedCostUSD: 2.50, CostBudget: &budget, TotalTokens: 123},
		},
	})

	var stdout bytes.Buffer
	code := run([]string{"--state-dir", dir, "status", "builder"}, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("run([status builder]) = %d, want 0", code)
	}
	out := stdout.String()
	for _, want := range []string{"builder:", "Window:", "$2.50 of $10.00 budget", "Tokens:      123"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q: %q", want, out)
		}
	}
}

func TestStatusAgentNotFound(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	seedMonitorState(t, dir, state.MonitorState{})

	var stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "status", "ghost"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([status ghost]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `agent "ghost" not found`) {
		t.Errorf("stderr = %q, want 'not found'", stderr.String())
	}
}

func TestStatusJSON(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	seedMonitorState(t, dir, state.MonitorState{LoopCount: 42, DaemonVersion: "test"})

	var stdout bytes.Buffer
	code := run([]string{"--state-dir", dir, "status", "--json"}, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("run([status --json]) = %d, want 0", code)
	}
	var ms state.MonitorState
	if err := json.Unmarshal(stdout.Bytes(), &ms); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if ms.LoopCount != 42 {
		t.Errorf("loop_count = %d, want 42", ms.LoopCount)
	}
}

// --- oc agent (control API plumbing) ---

// fakeDaemon stands in for the control API: an httptest server plus the
// port file the CLI uses to find it.
func fakeDaemon(t *testing.T, dir string, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	paths := state.NewPaths(dir, "agents")
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.WebPort(), []byte(u.Port()+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestAgentSend(t *testing.T) {
	isolate(t)
	t.Setenv("OVERCODE_API_KEY", "sekrit")
	dir := t.TempDir()

	var got struct {
		Text  string `json:"text"`
		Enter bool   `json:"enter"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/builder/send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if key := r.Header.Get("X-API-Key"); key != "sekrit" {
			t.Errorf("X-API-Key = %q, want sekrit", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	fakeDaemon(t, dir, mux)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "agent", "send", "builder", "hello", "world"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run([agent send]) = %d, want 0; stderr: %s", code, stderr.String())
	}
	if got.Text != "hello world" {
		t.Errorf("text = %q, want 'hello world'", got.Text)
	}
	if !got.Enter {
		t.Error("enter = false, want true")
	}
	if !strings.Contains(stdout.String(), "Sent to builder") {
		t.Errorf("stdout = %q, want 'Sent to builder'", stdout.String())
	}
}

func TestAgentSendNoEnter(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var got struct {
		Enter bool `json:"enter"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/builder/send", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck // test server
		fmt.Fprint(w, `{"ok":true}`)
	})
	fakeDaemon(t, dir, mux)

	code := run([]string{"--state-dir", dir, "agent", "send", "--no-enter", "builder", "y"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("run([agent send --no-enter]) = %d, want 0", code)
	}
	if got.Enter {
		t.Error("enter = true, want false")
	}
}

func TestAgentKillAPIError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/ghost/kill", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error":"agent \"ghost\" not found"}`)
	})
	fakeDaemon(t, dir, mux)

	var stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "agent", "kill", "ghost"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([agent kill ghost]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `agent "ghost" not found`) {
		t.Errorf("stderr = %q, want server error message", stderr.String())
	}
}

func TestAgentSendDaemonDown(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var stderr bytes.Buffer
	code := run([]string{"--state-dir", dir, "agent", "send", "builder", "hi"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([agent send]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "daemon is not running") {
		t.Errorf("stderr = %q, want 'daemon is not running'", stderr.String())
	}
}

func TestAgentListFromState(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	seedMonitorState(t, dir, state.MonitorState{
		Agents: []state.AgentSnapshot{
			{Name: "tester", Status: state.StatusWaitingUser},
			{Name: "builder", Status: state.StatusRunning},
		},
	})

	var stdout bytes.Buffer
	code := run([]string{"--state-dir", dir, "agent", "list"}, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("run([agent list]) = %d, want 0", code)
	}
	// Sorted by name.
	want := "builder running\ntester waiting_user\n"
	if stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

// --- oc hook ---

func TestHookOutsideManagedWindow(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	code := doHook(strings.NewReader(`{"hook_event_name":"Stop"}`), &stdout, &stderr)
	if code != 0 {
		t.Errorf("doHook = %d, want 0", code)
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Errorf("expected silence, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestHookRecordsEvent(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("OVERCODE_STATE_DIR", dir)
	t.Setenv("SESSION_NAME", "builder")
	paths := state.NewPaths(dir, "agents")
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := doHook(strings.NewReader(`{"hook_event_name":"Stop"}`), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("doHook = %d, want 0; stderr: %s", code, stderr.String())
	}

	var rec hookstate.Record
	if err := state.LoadJSON(fsys.OSFS{}, paths.HookState("builder"), &rec); err != nil {
		t.Fatalf("hook state: %v", err)
	}
	if rec.Event != hookstate.EventStop {
		t.Errorf("event = %q, want Stop", rec.Event)
	}
}

func TestHookBudgetGate(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("OVERCODE_STATE_DIR", dir)
	t.Setenv("SESSION_NAME", "builder")
	budget := 5.0
	seedMonitorState(t, dir, state.MonitorState{
		Agents: []state.AgentSnapshot{
			{Name: "builder", Status: state.StatusRunning,
				CostBudget: &budget, BudgetExceeded: true, EstimatedCostUSD: 6.12},
		},
	})

	var stdout, stderr bytes.Buffer
	code := doHook(strings.NewReader(`{"hook_event_name":"UserPromptSubmit"}`), &stdout, &stderr)
	if code != hookstate.ExitBudgetExceeded {
		t.Errorf("doHook = %d, want %d", code, hookstate.ExitBudgetExceeded)
	}
	if !strings.Contains(stderr.String(), "Budget exceeded for builder") {
		t.Errorf("stderr = %q, want budget message", stderr.String())
	}
}

func TestRunHookBudgetExitCode(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("SESSION_NAME", "builder")
	budget := 5.0
	seedMonitorState(t, dir, state.MonitorState{
		Agents: []state.AgentSnapshot{
			{Name: "builder", CostBudget: &budget, BudgetExceeded: true},
		},
	})

	// The hook subcommand reads os.Stdin; feed it through a pipe.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString(`{"hook_event_name":"UserPromptSubmit"}`); err != nil {
		t.Fatal(err)
	}
	w.Close() //nolint:errcheck // write side done
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()

	code := run([]string{"--state-dir", dir, "hook"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != hookstate.ExitBudgetExceeded {
		t.Errorf("run([hook]) = %d, want %d", code, hookstate.ExitBudgetExceeded)
	}
}

// --- oc daemon status ---

func TestDaemonStatusNotRunning(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	var stdout bytes.Buffer
	code := run([]string{"--state-dir", dir, "daemon", "status"}, &stdout, &bytes.Buffer{})
	if code != 1 {
		t.Errorf("run([daemon status]) = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Daemon is not running") {
		t.Errorf("stdout = %q, want 'Daemon is not running'", stdout.String())
	}
}

func TestDaemonStatusCleansStalePIDFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	paths := state.NewPaths(dir, "agents")
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	// PID unlikely to be alive.
	if err := os.WriteFile(paths.MonitorPID(), []byte("99999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"--state-dir", dir, "daemon", "status"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 1 {
		t.Errorf("run([daemon status]) = %d, want 1", code)
	}
	if _, err := os.Stat(paths.MonitorPID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

// --- oc gendoc ---

func TestGenDocOutsideRepoRoot(t *testing.T) {
	isolate(t)
	t.Chdir(t.TempDir())

	var stderr bytes.Buffer
	code := run([]string{"gendoc"}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Errorf("run([gendoc]) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "must run from repository root") {
		t.Errorf("stderr = %q, want repo-root error", stderr.String())
	}
}
