// Package heartbeat decides when a session's periodic instruction is
// due and delivers it. The monitor loop calls Due/Fire each tick; the
// hook receiver uses Next to render the remaining time.
package heartbeat

import (
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/state"
)

// Scheduler delivers due heartbeats into multiplexer windows and
// stamps the per-session .last marker.
type Scheduler struct {
	fs    fsys.FS
	m     mux.Multiplexer
	paths state.Paths
	group string
}

// NewScheduler returns a Scheduler for one multiplexer group.
func NewScheduler(fs fsys.FS, m mux.Multiplexer, paths state.Paths, group string) *Scheduler {
	return &Scheduler{fs: fs, m: m, paths: paths, group: group}
}

// Due reports whether the session's heartbeat should fire at now. A
// heartbeat fires only for sessions parked in waiting_user, with an
// enabled, unpaused schedule whose interval has elapsed since the last
// delivery. A schedule that has never fired is due immediately.
func Due(s *state.Session, now time.Time) bool {
	hb := s.Heartbeat
	if hb == nil || hb.Paused || hb.IntervalSeconds <= 0 {
		return false
	}
	if s.Terminated() || s.IsAsleep || s.Status != state.StatusWaitingUser {
		return false
	}
	if hb.LastFired.IsZero() {
		return true
	}
	return now.Sub(hb.LastFired) >= time.Duration(hb.IntervalSeconds)*time.Second
}

// Next returns the time remaining until the schedule next fires,
// floored at zero. A nil or disabled schedule reports zero.
func Next(hb *state.Heartbeat, now time.Time) time.Duration {
	if hb == nil || hb.IntervalSeconds <= 0 {
		return 0
	}
	if hb.LastFired.IsZero() {
		return 0
	}
	remaining := time.Duration(hb.IntervalSeconds)*time.Second - now.Sub(hb.LastFired)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Fire types the configured instruction into the session's window and
// stamps heartbeat_<name>.last. The caller records last_fired and the
// running_heartbeat status on success, waiting_heartbeat on failure.
func (sc *Scheduler) Fire(s *state.Session, now time.Time) error {
	instruction := strings.TrimSpace(s.Heartbeat.Instruction)
	if instruction == "" {
		instruction = "Status check: report what you are working on and whether you are blocked."
	}
	if err := sc.m.SendText(sc.group, s.MultiplexerWindow, instruction, true); err != nil {
		return fmt.Errorf("delivering heartbeat to %s: %w", s.Name, err)
	}
	stamp := now.UTC().Format(time.RFC3339) + "\n"
	if err := sc.fs.WriteFile(sc.paths.HeartbeatLast(s.Name), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("stamping heartbeat for %s: %w", s.Name, err)
	}
	return nil
}

// Describe renders the schedule for the hook receiver's time-context
// line: "300s (next: 4m10s)" or "300s (next: now)".
func Describe(hb *state.Heartbeat, now time.Time) string {
	if hb == nil || hb.IntervalSeconds <= 0 {
		return ""
	}
	remaining := Next(hb, now)
	next := "now"
	if remaining > 0 {
		next = remaining.Round(time.Second).String()
	}
	return fmt.Sprintf("%ds (next: %s)", hb.IntervalSeconds, next)
}
