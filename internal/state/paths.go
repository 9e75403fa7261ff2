package state

import "path/filepath"

// Paths resolves every file in one multiplexer group's state directory.
// The layout is shared with out-of-process collaborators (hook receiver,
// presence sensor, UI), so names here are load-bearing.
type Paths struct {
	StateDir string
	Group    string
}

// NewPaths returns path helpers for the given state directory and group.
func NewPaths(stateDir, group string) Paths {
	return Paths{StateDir: stateDir, Group: group}
}

// GroupDir is the per-group directory holding all state files.
func (p Paths) GroupDir() string {
	return filepath.Join(p.StateDir, p.Group)
}

// Sessions is the full registry document.
func (p Paths) Sessions() string {
	return filepath.Join(p.GroupDir(), "sessions.json")
}

// MonitorState is the per-tick MonitorState snapshot.
func (p Paths) MonitorState() string {
	return filepath.Join(p.GroupDir(), "monitor_daemon_state.json")
}

// MonitorPID is the monitor daemon's exclusive-lock PID file.
func (p Paths) MonitorPID() string {
	return filepath.Join(p.GroupDir(), "monitor_daemon.pid")
}

// SupervisorPID is the supervisor daemon's PID file.
func (p Paths) SupervisorPID() string {
	return filepath.Join(p.GroupDir(), "supervisor_daemon.pid")
}

// WebPID is the control API server's PID file.
func (p Paths) WebPID() string {
	return filepath.Join(p.GroupDir(), "web_server.pid")
}

// WebPort holds the control API's bound port as an ASCII integer.
func (p Paths) WebPort() string {
	return filepath.Join(p.GroupDir(), "web_server.port")
}

// HookState is the per-session hook marker written by the hook receiver.
func (p Paths) HookState(name string) string {
	return filepath.Join(p.GroupDir(), "hook_state_"+name+".json")
}

// HeartbeatLast holds the ISO-8601 timestamp of a session's last heartbeat.
func (p Paths) HeartbeatLast(name string) string {
	return filepath.Join(p.GroupDir(), "heartbeat_"+name+".last")
}

// History is the append-only status transition log.
func (p Paths) History() string {
	return filepath.Join(p.GroupDir(), "status_history.csv")
}

// Presence is the presence sensor's log. Overcode only reads it.
func (p Paths) Presence() string {
	return filepath.Join(p.StateDir, "presence_log.csv")
}

// Events is the daemon lifecycle journal.
func (p Paths) Events() string {
	return filepath.Join(p.GroupDir(), "events.jsonl")
}

// MonitorLog is the monitor daemon's free-form log.
func (p Paths) MonitorLog() string {
	return filepath.Join(p.GroupDir(), "monitor_daemon.log")
}

// SupervisorLog is the supervisor daemon's free-form log.
func (p Paths) SupervisorLog() string {
	return filepath.Join(p.GroupDir(), "supervisor_daemon.log")
}
