package demo_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hooks"
)

// demoDir returns the absolute path to the contrib/demo directory.
// go test runs from the package directory, so "." resolves to it.
func demoDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(".")
	if err != nil {
		t.Fatalf("resolving demo dir: %v", err)
	}
	return dir
}

// loadDemoConfig parses contrib/demo/overcode.toml.
func loadDemoConfig(t *testing.T) *config.Config {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(demoDir(t), "overcode.toml"))
	if err != nil {
		t.Fatalf("reading demo config: %v", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		t.Fatalf("parsing demo config: %v", err)
	}
	return cfg
}

// TestDemoConfig_Parses checks the shipped demo config against the
// values the comments promise.
func TestDemoConfig_Parses(t *testing.T) {
	cfg := loadDemoConfig(t)

	if cfg.Group != "demo" {
		t.Errorf("group = %q, want demo", cfg.Group)
	}
	if cfg.Web.Port != 7777 {
		t.Errorf("web.port = %d, want 7777", cfg.Web.Port)
	}
	if len(cfg.Federation.Peers) != 2 {
		t.Fatalf("federation.peers = %d entries, want 2", len(cfg.Federation.Peers))
	}
	for _, p := range cfg.Federation.Peers {
		if p.Name == "" || p.URL == "" {
			t.Errorf("peer %+v missing name or url", p)
		}
	}
}

// TestDemoConfig_EnumsValid flags enum typos that Parse would accept
// silently but the runtime would reject or misread.
func TestDemoConfig_EnumsValid(t *testing.T) {
	cfg := loadDemoConfig(t)

	switch cfg.Agent.Permissiveness {
	case "", "normal", "permissive", "bypass":
	default:
		t.Errorf("agent.permissiveness = %q, want normal, permissive, or bypass", cfg.Agent.Permissiveness)
	}
	switch cfg.Multiplexer.Backend {
	case "", "tmux", "kubernetes":
	default:
		t.Errorf("multiplexer.backend = %q, want tmux or kubernetes", cfg.Multiplexer.Backend)
	}
}

// TestDemoConfig_OfficeHours verifies the office window parses: a
// weekday noon must land inside 09:00-18:00 and a Saturday outside.
func TestDemoConfig_OfficeHours(t *testing.T) {
	cfg := loadDemoConfig(t)

	wednesdayNoon := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.Local)
	if !cfg.Office.Within(wednesdayNoon) {
		t.Errorf("Within(%v) = false, want true (malformed start/end?)", wednesdayNoon)
	}
	saturday := time.Date(2025, time.March, 8, 12, 0, 0, 0, time.Local)
	if cfg.Office.Within(saturday) {
		t.Errorf("Within(%v) = true, want false", saturday)
	}
}

// TestDemoConfig_NotifyPlaceholder keeps the notify example useful: a
// command without {{message}} would fire with no text.
func TestDemoConfig_NotifyPlaceholder(t *testing.T) {
	cfg := loadDemoConfig(t)
	if cfg.Notify.Command == "" {
		t.Skip("demo config has no notify command")
	}
	if !strings.Contains(cfg.Notify.Command, "{{message}}") {
		t.Errorf("notify.command = %q, missing {{message}} placeholder", cfg.Notify.Command)
	}
}

// TestDemoConfig_RoundTrips re-encodes the parsed demo config and
// parses it again, so Marshal stays usable for `oc init`-style writes.
func TestDemoConfig_RoundTrips(t *testing.T) {
	cfg := loadDemoConfig(t)
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := config.Parse(data)
	if err != nil {
		t.Fatalf("reparsing marshaled config: %v", err)
	}
	if again.Group != cfg.Group {
		t.Errorf("round-trip group = %q, want %q", again.Group, cfg.Group)
	}
	if len(again.Federation.Peers) != len(cfg.Federation.Peers) {
		t.Errorf("round-trip peers = %d, want %d", len(again.Federation.Peers), len(cfg.Federation.Peers))
	}
}

// TestDemoSettings_HooksInstalled checks that the sample settings.json
// matches what `oc hooks install` produces: every lifecycle event
// routed to the hook command.
func TestDemoSettings_HooksInstalled(t *testing.T) {
	path := filepath.Join(demoDir(t), "settings.json")
	installed, err := hooks.Status(fsys.OSFS{}, path)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, event := range hooks.Events {
		if !installed[event] {
			t.Errorf("event %s not wired to %q in settings.json", event, hooks.Command)
		}
	}
}

// TestDemoSettings_InstallIsNoOp reinstalls over the sample; a non-empty
// result means the sample drifted from the embedded template.
func TestDemoSettings_InstallIsNoOp(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(demoDir(t), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	scratch := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		t.Fatal(err)
	}
	added, err := hooks.Install(fsys.OSFS{}, scratch)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("Install added %v, want nothing (sample out of date)", added)
	}
}
