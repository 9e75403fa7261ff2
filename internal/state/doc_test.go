package state

import (
	"os"
	"strings"
	"testing"

	"github.com/steveyegge/overcode/internal/fsys"
)

func TestSaveJSONAtomic(t *testing.T) {
	fs := fsys.NewFake()

	if err := SaveJSON(fs, "/state/agents/sessions.json", map[string]int{"n": 1}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	// Write goes to the temp sibling first, then renames over the target.
	if len(fs.Calls) != 2 {
		t.Fatalf("calls = %+v, want WriteFile then Rename", fs.Calls)
	}
	if fs.Calls[0].Method != "WriteFile" || fs.Calls[0].Path != "/state/agents/sessions.json.tmp" {
		t.Errorf("first call = %+v, want WriteFile on .tmp sibling", fs.Calls[0])
	}
	if fs.Calls[1].Method != "Rename" {
		t.Errorf("second call = %+v, want Rename", fs.Calls[1])
	}
	if _, ok := fs.Files["/state/agents/sessions.json.tmp"]; ok {
		t.Error("temp file left behind after rename")
	}

	got := string(fs.Files["/state/agents/sessions.json"])
	if !strings.HasSuffix(got, "\n") {
		t.Error("document missing trailing newline")
	}
	if !strings.Contains(got, `"n": 1`) {
		t.Errorf("document content = %q", got)
	}
}

func TestSaveJSONWriteError(t *testing.T) {
	fs := fsys.NewFake()
	fs.Errors["/state/agents/sessions.json.tmp"] = os.ErrPermission

	err := SaveJSON(fs, "/state/agents/sessions.json", map[string]int{})
	if err == nil {
		t.Fatal("expected error when temp write fails")
	}
	// The destination must be untouched.
	if _, ok := fs.Files["/state/agents/sessions.json"]; ok {
		t.Error("destination written despite temp failure")
	}
}

func TestLoadJSONMissing(t *testing.T) {
	fs := fsys.NewFake()

	var out map[string]int
	err := LoadJSON(fs, "/state/agents/sessions.json", &out)
	if !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist, got %v", err)
	}
}

func TestLoadJSONMalformed(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/state/agents/sessions.json"] = []byte("{truncated")

	var out map[string]int
	err := LoadJSON(fs, "/state/agents/sessions.json", &out)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if os.IsNotExist(err) {
		t.Error("malformed document reported as missing")
	}
}

func TestConcurrentReadNeverSeesPartialWrite(t *testing.T) {
	// Rename-based replacement means a reader opening the document at
	// any moment parses a complete JSON value, old or new.
	fs := fsys.OSFS{}
	path := t.TempDir() + "/sessions.json"

	type doc struct {
		Rev  int    `json:"rev"`
		Fill string `json:"fill"`
	}
	fill := strings.Repeat("x", 4096)
	if err := SaveJSON(fs, path, doc{Rev: 0, Fill: fill}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	stop := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for {
			select {
			case <-stop:
				return
			default:
			}
			var out doc
			if err := LoadJSON(fs, path, &out); err != nil {
				errc <- err
				return
			}
			if out.Fill != fill {
				errc <- os.ErrInvalid
				return
			}
		}
	}()

	for rev := 1; rev <= 200; rev++ {
		if err := SaveJSON(fs, path, doc{Rev: rev, Fill: fill}); err != nil {
			t.Fatalf("SaveJSON rev %d: %v", rev, err)
		}
	}
	close(stop)
	if err := <-errc; err != nil {
		t.Fatalf("reader observed a torn document: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := fsys.NewFake()
	in := MonitorState{LoopCount: 42, DaemonVersion: "test"}

	if err := SaveJSON(fs, "/state/agents/monitor_daemon_state.json", &in); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	var out MonitorState
	if err := LoadJSON(fs, "/state/agents/monitor_daemon_state.json", &out); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if out.LoopCount != 42 || out.DaemonVersion != "test" {
		t.Errorf("round trip = %+v", out)
	}
}

func TestPathsLayout(t *testing.T) {
	p := NewPaths("/state", "agents")

	want := map[string]string{
		p.Sessions():           "/state/agents/sessions.json",
		p.MonitorState():       "/state/agents/monitor_daemon_state.json",
		p.MonitorPID():         "/state/agents/monitor_daemon.pid",
		p.SupervisorPID():      "/state/agents/supervisor_daemon.pid",
		p.WebPID():             "/state/agents/web_server.pid",
		p.WebPort():            "/state/agents/web_server.port",
		p.HookState("acme"):    "/state/agents/hook_state_acme.json",
		p.HeartbeatLast("a"):   "/state/agents/heartbeat_a.last",
		p.History():            "/state/agents/status_history.csv",
		p.Presence():           "/state/presence_log.csv",
		p.Events():             "/state/agents/events.jsonl",
		p.MonitorLog():         "/state/agents/monitor_daemon.log",
		p.SupervisorLog():      "/state/agents/supervisor_daemon.log",
	}
	for got, expect := range want {
		if got != expect {
			t.Errorf("path = %q, want %q", got, expect)
		}
	}
}
