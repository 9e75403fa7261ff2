// Package config handles loading and parsing overcode.toml configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/overcode/internal/accum"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/state"
)

// Filename is the config file name, looked up in the state directory.
const Filename = "overcode.toml"

// Config is the top-level configuration for an Overcode instance.
type Config struct {
	StateDir string `toml:"state_dir,omitempty"`
	Group    string `toml:"group,omitempty"`

	Monitor     Monitor     `toml:"monitor,omitempty"`
	Supervisor  Supervisor  `toml:"supervisor,omitempty"`
	Web         Web         `toml:"web,omitempty"`
	Agent       Agent       `toml:"agent,omitempty"`
	Prices      Prices      `toml:"prices,omitempty"`
	Office      Office      `toml:"office,omitempty"`
	Notify      Notify      `toml:"notify,omitempty"`
	Archive     Archive     `toml:"archive,omitempty"`
	Multiplexer Multiplexer `toml:"multiplexer,omitempty"`
	Federation  Federation  `toml:"federation,omitempty"`
}

// Monitor holds Monitor Loop settings.
type Monitor struct {
	TickSeconds int `toml:"tick_seconds,omitempty"` // default 5
	ScanLines   int `toml:"scan_lines,omitempty"`   // default 50
}

// Supervisor holds Supervisor Loop settings.
type Supervisor struct {
	MinLaunchSeconds int      `toml:"min_launch_seconds,omitempty"` // default 60
	Mission          string   `toml:"mission,omitempty"`            // overrides the built-in mission statement
	ActionPhrases    []string `toml:"action_phrases,omitempty"`
	NoActionPhrases  []string `toml:"no_action_phrases,omitempty"`
}

// Web holds Control API server settings.
type Web struct {
	Port   int    `toml:"port,omitempty"` // 0 picks an ephemeral port
	APIKey string `toml:"api_key,omitempty"`
}

// Agent holds defaults for launching agent CLI processes.
type Agent struct {
	Command        string `toml:"command,omitempty"` // default "claude"
	Permissiveness string `toml:"permissiveness,omitempty" jsonschema:"enum=normal,enum=permissive,enum=bypass"`
	HookDetection  bool   `toml:"hook_detection,omitempty"`
	TimeContext    bool   `toml:"time_context,omitempty"`
}

// Prices holds per-model token prices in USD per million tokens.
type Prices struct {
	Input      float64 `toml:"input,omitempty"`
	Output     float64 `toml:"output,omitempty"`
	CacheWrite float64 `toml:"cache_write,omitempty"`
	CacheRead  float64 `toml:"cache_read,omitempty"`
}

// Office defines working hours for the hook receiver's time context.
// Times are "HH:MM" in the local clock; weekends are never office hours.
type Office struct {
	Start string `toml:"start,omitempty"` // default "09:00"
	End   string `toml:"end,omitempty"`   // default "18:00"
}

// Notify configures the attention bell. Command is a shell command run
// once per tick when any session newly needs attention; the literal
// {{message}} placeholder is replaced before execution. Empty disables
// notifications.
type Notify struct {
	Command string `toml:"command,omitempty"`
}

// Archive configures the optional status-history mirror. A non-empty
// DSN enables best-effort writes to a MySQL-compatible server.
type Archive struct {
	DSN   string `toml:"dsn,omitempty"`
	Table string `toml:"table,omitempty"` // default "status_history"
}

// Multiplexer selects and configures the window backend.
type Multiplexer struct {
	Backend    string `toml:"backend,omitempty" jsonschema:"enum=tmux,enum=kubernetes"` // "tmux" (default) or "kubernetes"
	Namespace  string `toml:"namespace,omitempty"`
	Image      string `toml:"image,omitempty"`
	Kubeconfig string `toml:"kubeconfig,omitempty"`
}

// Federation configures polling of peer Overcode instances.
type Federation struct {
	PollSeconds int    `toml:"poll_seconds,omitempty"` // default = monitor tick
	Peers       []Peer `toml:"peers"`
}

// Peer is one remote Overcode instance to mirror.
type Peer struct {
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key,omitempty"`
}

// Default returns the configuration used when no overcode.toml exists.
func Default() *Config {
	return &Config{
		Group: "agents",
		Monitor: Monitor{
			TickSeconds: 5,
			ScanLines:   50,
		},
		Supervisor: Supervisor{
			MinLaunchSeconds: 60,
			ActionPhrases:    []string{"approved", "sent", "told", "instructed"},
			NoActionPhrases:  []string{"no intervention needed"},
		},
		Agent: Agent{
			Command:        "claude",
			Permissiveness: string(state.PermNormal),
			TimeContext:    true,
		},
		Prices: Prices{
			Input:      15.00,
			Output:     75.00,
			CacheWrite: 18.75,
			CacheRead:  1.50,
		},
		Office: Office{
			Start: "09:00",
			End:   "18:00",
		},
		Archive: Archive{
			Table: "status_history",
		},
		Multiplexer: Multiplexer{
			Backend: "tmux",
		},
	}
}

// DefaultStateDir returns ~/.overcode, or a relative fallback when the
// home directory cannot be determined.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".overcode"
	}
	return filepath.Join(home, ".overcode")
}

// Paths returns the state-directory layout this config resolves to.
func (c *Config) Paths() state.Paths {
	dir := c.StateDir
	if dir == "" {
		dir = DefaultStateDir()
	}
	return state.NewPaths(dir, c.Group)
}

// Tick is the Monitor Loop interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Monitor.TickSeconds) * time.Second
}

// PollInterval is the Federation Poller interval, defaulting to the
// monitor tick when unset.
func (c *Config) PollInterval() time.Duration {
	if c.Federation.PollSeconds > 0 {
		return time.Duration(c.Federation.PollSeconds) * time.Second
	}
	return c.Tick()
}

// MinLaunchInterval is the minimum gap between supervisor launches.
func (c *Config) MinLaunchInterval() time.Duration {
	return time.Duration(c.Supervisor.MinLaunchSeconds) * time.Second
}

// Vector converts configured prices to the accumulator's price vector.
func (p Prices) Vector() accum.Prices {
	return accum.Prices{
		Input:      p.Input,
		Output:     p.Output,
		CacheWrite: p.CacheWrite,
		CacheRead:  p.CacheRead,
	}
}

// Within reports whether now falls inside office hours. Malformed
// bounds and weekends report false.
func (o Office) Within(now time.Time) bool {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	start, ok := parseClock(o.Start)
	if !ok {
		return false
	}
	end, ok := parseClock(o.End)
	if !ok {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, false
	}
	return hour*60 + min, true
}

// Marshal encodes a Config to TOML bytes.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads and parses an overcode.toml file at the given path using
// the provided filesystem. All file I/O goes through fs for testability.
func Load(fs fsys.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the default configuration
// when the file does not exist.
func LoadOrDefault(fs fsys.FS, path string) (*Config, error) {
	cfg, err := Load(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into a Config and fills unset fields with
// defaults, so a partial file behaves like an override layer.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Group == "" {
		cfg.Group = "agents"
	}
	return cfg, nil
}
