package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/archive"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hooks"
	"github.com/steveyegge/overcode/internal/state"
)

// dialTimeout bounds the port and archive reachability probes.
const dialTimeout = 2 * time.Second

// --- State directory ---

// StateDirCheck verifies the state directory exists and is writable.
type StateDirCheck struct{}

// Name returns the check identifier.
func (c *StateDirCheck) Name() string { return "state-dir" }

// Run stats the directory and probes writability with a scratch file.
func (c *StateDirCheck) Run(ctx *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	fi, err := os.Stat(ctx.StateDir)
	if err != nil {
		r.Status = StatusError
		r.Message = "state directory missing"
		r.FixHint = "run 'oc init'"
		return r
	}
	if !fi.IsDir() {
		r.Status = StatusError
		r.Message = fmt.Sprintf("%s is not a directory", ctx.StateDir)
		return r
	}
	probe := filepath.Join(ctx.StateDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("not writable: %v", err)
		return r
	}
	os.Remove(probe) //nolint:errcheck // best-effort cleanup
	r.Status = StatusOK
	r.Message = fmt.Sprintf("%s writable", ctx.StateDir)
	return r
}

// CanFix returns true — a missing directory can be created.
func (c *StateDirCheck) CanFix() bool { return true }

// Fix creates the state directory and the group subdirectory.
func (c *StateDirCheck) Fix(ctx *CheckContext) error {
	if err := os.MkdirAll(ctx.StateDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(state.NewPaths(ctx.StateDir, ctx.Group).GroupDir(), 0o755)
}

// --- Config ---

// ConfigCheck verifies overcode.toml parses. A missing file is fine,
// defaults apply then.
type ConfigCheck struct{}

// Name returns the check identifier.
func (c *ConfigCheck) Name() string { return "config" }

// Run parses the config file.
func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	path := filepath.Join(ctx.StateDir, config.Filename)
	if _, err := os.Stat(path); err != nil {
		r.Status = StatusWarning
		r.Message = "overcode.toml not found (defaults in effect)"
		r.FixHint = "run 'oc init'"
		return r
	}
	cfg, err := config.Load(fsys.OSFS{}, path)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("parse error: %v", err)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("loaded (group %q, %d federation peers)", cfg.Group, len(cfg.Federation.Peers))
	return r
}

// CanFix returns false.
func (c *ConfigCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *ConfigCheck) Fix(_ *CheckContext) error { return nil }

// --- Binaries ---

// LookPathFunc is the function used to find binaries. Defaults to
// exec.LookPath. Tests can override it.
type LookPathFunc func(file string) (string, error)

// BinaryCheck verifies a binary is on PATH.
type BinaryCheck struct {
	binary   string
	skipMsg  string // non-empty means skip with OK + this message
	lookPath LookPathFunc
}

// NewBinaryCheck creates a check for the given binary. A non-empty
// skipMsg makes the check report OK with that message, used when the
// binary is not needed (e.g. tmux under the kubernetes backend).
func NewBinaryCheck(binary, skipMsg string, lp LookPathFunc) *BinaryCheck {
	if lp == nil {
		lp = exec.LookPath
	}
	return &BinaryCheck{binary: binary, skipMsg: skipMsg, lookPath: lp}
}

// Name returns the check identifier.
func (c *BinaryCheck) Name() string { return c.binary + "-binary" }

// Run checks if the binary is on PATH.
func (c *BinaryCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	if c.skipMsg != "" {
		r.Status = StatusOK
		r.Message = c.skipMsg
		return r
	}
	path, err := c.lookPath(c.binary)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("%s not found in PATH", c.binary)
		r.FixHint = fmt.Sprintf("install %s and ensure it's in PATH", c.binary)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("found %s", path)
	return r
}

// CanFix returns false.
func (c *BinaryCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *BinaryCheck) Fix(_ *CheckContext) error { return nil }

// --- Daemon locks ---

// PIDAliveFunc reports whether the process with the given PID exists.
type PIDAliveFunc func(pid int) bool

// DaemonCheck inspects the three PID files. All absent is fine (no
// daemon), all present with a live PID is fine (daemon running);
// anything else is stale state from a crash.
type DaemonCheck struct {
	fs    fsys.FS
	paths state.Paths
	alive PIDAliveFunc
}

// NewDaemonCheck creates a check for stale daemon PID files.
func NewDaemonCheck(fs fsys.FS, paths state.Paths, alive PIDAliveFunc) *DaemonCheck {
	return &DaemonCheck{fs: fs, paths: paths, alive: alive}
}

// Name returns the check identifier.
func (c *DaemonCheck) Name() string { return "daemon-locks" }

func (c *DaemonCheck) pidFiles() []string {
	return []string{c.paths.MonitorPID(), c.paths.SupervisorPID(), c.paths.WebPID()}
}

// Run reads each PID file and tests the recorded process.
func (c *DaemonCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	var stale []string
	live := 0
	present := 0
	livePID := 0
	for _, path := range c.pidFiles() {
		data, err := c.fs.ReadFile(path)
		if err != nil {
			continue
		}
		present++
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || !c.alive(pid) {
			stale = append(stale, filepath.Base(path))
			continue
		}
		live++
		livePID = pid
	}
	switch {
	case present == 0:
		r.Status = StatusOK
		r.Message = "no daemon running"
	case len(stale) > 0:
		r.Status = StatusWarning
		r.Message = fmt.Sprintf("%d stale PID file(s)", len(stale))
		r.Details = stale
		r.FixHint = "run 'oc doctor --fix' or 'oc daemon start'"
	default:
		r.Status = StatusOK
		r.Message = fmt.Sprintf("daemon running (PID %d, %d locks)", livePID, live)
	}
	return r
}

// CanFix returns true — stale PID files can be removed.
func (c *DaemonCheck) CanFix() bool { return true }

// Fix removes PID files whose process is gone.
func (c *DaemonCheck) Fix(_ *CheckContext) error {
	for _, path := range c.pidFiles() {
		data, err := c.fs.ReadFile(path)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil && c.alive(pid) {
			continue
		}
		if err := c.fs.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// --- Hook wiring ---

// HooksCheck verifies the agent CLI settings route the lifecycle
// events to oc hook.
type HooksCheck struct {
	fs   fsys.FS
	path string
}

// NewHooksCheck creates a check for the settings file at path.
func NewHooksCheck(fs fsys.FS, path string) *HooksCheck {
	return &HooksCheck{fs: fs, path: path}
}

// Name returns the check identifier.
func (c *HooksCheck) Name() string { return "hooks" }

// Run reports which lifecycle events are unwired.
func (c *HooksCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	installed, err := hooks.Status(c.fs, c.path)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("reading %s: %v", c.path, err)
		return r
	}
	var missing []string
	for _, event := range hooks.Events {
		if !installed[event] {
			missing = append(missing, event)
		}
	}
	if len(missing) == 0 {
		r.Status = StatusOK
		r.Message = fmt.Sprintf("all %d events wired", len(hooks.Events))
		return r
	}
	r.Status = StatusWarning
	r.Message = fmt.Sprintf("%d event(s) unwired", len(missing))
	r.Details = missing
	r.FixHint = "run 'oc hooks install'"
	return r
}

// CanFix returns true — install is idempotent.
func (c *HooksCheck) CanFix() bool { return true }

// Fix installs the missing entries.
func (c *HooksCheck) Fix(_ *CheckContext) error {
	_, err := hooks.Install(c.fs, c.path)
	return err
}

// --- API port ---

// PortCheck verifies the control API port: serving when the daemon
// wrote a port file, free otherwise.
type PortCheck struct {
	fs    fsys.FS
	paths state.Paths
	port  int // configured port; 0 means ephemeral
}

// NewPortCheck creates a check for the control API port.
func NewPortCheck(fs fsys.FS, paths state.Paths, port int) *PortCheck {
	return &PortCheck{fs: fs, paths: paths, port: port}
}

// Name returns the check identifier.
func (c *PortCheck) Name() string { return "api-port" }

// Run dials the recorded port, or tests that the configured one is
// bindable when no daemon wrote a port file.
func (c *PortCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	if data, err := c.fs.ReadFile(c.paths.WebPort()); err == nil {
		port, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			r.Status = StatusError
			r.Message = "web_server.port is malformed"
			return r
		}
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), dialTimeout)
		if err != nil {
			r.Status = StatusError
			r.Message = fmt.Sprintf("port file says %d but nothing is serving there", port)
			r.FixHint = "restart the daemon"
			return r
		}
		conn.Close() //nolint:errcheck // best-effort close
		r.Status = StatusOK
		r.Message = fmt.Sprintf("API serving on port %d", port)
		return r
	}
	if c.port == 0 {
		r.Status = StatusOK
		r.Message = "ephemeral port (assigned at daemon start)"
		return r
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", c.port))
	if err != nil {
		r.Status = StatusWarning
		r.Message = fmt.Sprintf("configured port %d is already in use", c.port)
		return r
	}
	ln.Close() //nolint:errcheck // best-effort close
	r.Status = StatusOK
	r.Message = fmt.Sprintf("configured port %d is free", c.port)
	return r
}

// CanFix returns false.
func (c *PortCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *PortCheck) Fix(_ *CheckContext) error { return nil }

// --- History archive ---

// ArchiveCheck verifies the archive database is reachable when a DSN
// is configured.
type ArchiveCheck struct {
	dsn   string
	table string
}

// NewArchiveCheck creates a check for the archive DSN.
func NewArchiveCheck(dsn, table string) *ArchiveCheck {
	return &ArchiveCheck{dsn: dsn, table: table}
}

// Name returns the check identifier.
func (c *ArchiveCheck) Name() string { return "archive" }

// Run opens and pings the archive database.
func (c *ArchiveCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	if c.dsn == "" {
		r.Status = StatusOK
		r.Message = "skipped (no archive configured)"
		return r
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	a, err := archive.Open(ctx, c.dsn, c.table)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("unreachable: %v", err)
		return r
	}
	a.Close() //nolint:errcheck // best-effort close
	r.Status = StatusOK
	r.Message = "archive reachable"
	return r
}

// CanFix returns false.
func (c *ArchiveCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *ArchiveCheck) Fix(_ *CheckContext) error { return nil }
