// Package tmuxtest provides helpers for integration tests that need real
// tmux.
//
// Guard manages tmux session lifecycle for tests: it generates a unique
// group name with an "octest-" prefix and guarantees the group's session
// is killed even on test failures. Two layers prevent orphan sessions:
//
//  1. Pre/post sweep (TestMain): kill all octest-* sessions left over
//     from prior crashes.
//  2. Per-test (t.Cleanup): kill the session created by this guard.
package tmuxtest

import (
	"crypto/rand"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

// RequireTmux skips the test if tmux is not installed.
func RequireTmux(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

// Guard manages one test's tmux footprint. A group maps to a single
// tmux session (each agent is a window in it), so cleanup is one
// kill-session on the guard's unique group name.
type Guard struct {
	t     testing.TB
	group string // "octest-<8hex>"
}

// NewGuard creates a guard with a unique group name and registers
// t.Cleanup to kill the group's session.
func NewGuard(t testing.TB) *Guard {
	t.Helper()
	RequireTmux(t)

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("tmuxtest: generating random group name: %v", err)
	}
	g := &Guard{t: t, group: fmt.Sprintf("octest-%x", b)}
	t.Cleanup(func() {
		_ = exec.Command("tmux", "kill-session", "-t", g.group).Run()
	})
	return g
}

// Group returns the unique group name (e.g. "octest-a1b2c3d4").
func (g *Guard) Group() string {
	return g.group
}

// HasSession reports whether the guard's tmux session exists.
func (g *Guard) HasSession() bool {
	g.t.Helper()
	// has-session exits 1 both when the session is missing and when no
	// server runs. Both mean "not found".
	return exec.Command("tmux", "has-session", "-t", g.group).Run() == nil
}

// KillAllTestSessions kills all tmux sessions matching "octest-*" and
// returns how many it found. Call from TestMain before and after test
// runs to clean up orphans.
func KillAllTestSessions() int {
	sessions := listSessionsWithPrefix("octest-")
	for _, s := range sessions {
		_ = exec.Command("tmux", "kill-session", "-t", s).Run()
	}
	return len(sessions)
}

// listSessionsWithPrefix returns all tmux session names starting with
// prefix. A missing tmux server means no sessions to clean.
func listSessionsWithPrefix(prefix string) []string {
	out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		return nil
	}
	var matches []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" && strings.HasPrefix(line, prefix) {
			matches = append(matches, line)
		}
	}
	return matches
}
