package mux

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/telemetry"
)

// tmuxRunner executes one tmux invocation and returns combined output.
// Production uses execTmux; tests substitute a canned runner.
type tmuxRunner func(ctx context.Context, args ...string) (string, error)

// Tmux is the production [Multiplexer] backed by a local tmux server.
// A group maps to a tmux session; each agent occupies one window
// identified by its tmux window id (e.g. "@3").
type Tmux struct {
	run tmuxRunner
}

// NewTmux returns a [Tmux] that shells out to the tmux binary.
func NewTmux() *Tmux {
	return &Tmux{run: execTmux}
}

// newTmuxWithRunner builds a Tmux with a custom command runner for tests.
func newTmuxWithRunner(run tmuxRunner) *Tmux {
	return &Tmux{run: run}
}

func execTmux(ctx context.Context, args ...string) (string, error) {
	start := time.Now()
	out, err := exec.CommandContext(ctx, "tmux", args...).CombinedOutput()
	telemetry.RecordMuxCall(ctx, args, float64(time.Since(start).Milliseconds()), err, string(out))
	return string(out), err
}

// ansiRE matches ANSI/CSI escape sequences in captured pane text.
var ansiRE = regexp.MustCompile(`[\x1b\x9b][[()#;?]*(?:[0-9]{1,4}(?:;[0-9]{0,4})*)?[0-9A-ORZcf-nqry=><]`)

// StripANSI removes ANSI/CSI escape sequences from captured pane text.
// Shared by all backends that scrape raw terminal content.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// TailLines returns the last n lines of s with any trailing newline
// removed. n <= 0 returns s unchanged apart from the trim.
func TailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// notFoundOutput reports whether tmux output indicates a missing
// session or window rather than a real failure.
func notFoundOutput(out string) bool {
	low := strings.ToLower(out)
	return strings.Contains(low, "can't find") ||
		strings.Contains(low, "no such") ||
		strings.Contains(low, "no server running") ||
		strings.Contains(low, "session not found")
}

func (t *Tmux) target(group, handle string) string {
	return group + ":" + handle
}

// NewWindow creates a window in the group's tmux session, creating the
// session itself on first use. Returns the tmux window id.
func (t *Tmux) NewWindow(group, name, workDir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	if _, err := t.run(ctx, "has-session", "-t", group); err != nil {
		out, err := t.run(ctx, "new-session", "-d", "-s", group, "-n", name, "-c", workDir, "-P", "-F", "#{window_id}")
		if err != nil {
			return "", fmt.Errorf("creating multiplexer group %s: %w", group, err)
		}
		return strings.TrimSpace(out), nil
	}

	out, err := t.run(ctx, "new-window", "-t", group, "-n", name, "-c", workDir, "-P", "-F", "#{window_id}")
	if err != nil {
		return "", fmt.Errorf("creating window %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// KillWindow destroys the window. A missing window, a vanished server,
// or an operation timeout all report [ErrNotFound].
func (t *Tmux) KillWindow(group, handle string) error {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	out, err := t.run(ctx, "kill-window", "-t", t.target(group, handle))
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return ErrNotFound
		}
		return fmt.Errorf("killing window %s: %w", handle, err)
	}
	return nil
}

// ListWindows returns the group's windows. A missing group or a
// timeout yields an empty list.
func (t *Tmux) ListWindows(group string) ([]Window, error) {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	out, err := t.run(ctx, "list-windows", "-t", group, "-F", "#{window_id}\t#{window_name}")
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing windows in %s: %w", group, err)
	}

	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		handle, name, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		windows = append(windows, Window{Handle: handle, Name: name})
	}
	return windows, nil
}

// CapturePane scrapes the last maxLines lines of the window's pane.
// ANSI sequences are stripped; interior empty lines survive. A missing
// window or a timeout yields ("", ErrNotFound).
func (t *Tmux) CapturePane(group, handle string, maxLines int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	args := []string{"capture-pane", "-p", "-t", t.target(group, handle)}
	if maxLines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(maxLines))
	}
	out, err := t.run(ctx, args...)
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("capturing pane %s: %w", handle, err)
	}

	return TailLines(StripANSI(out), maxLines), nil
}

// SendText delivers text to the window with send-keys -l so embedded
// newlines reach the agent intact, then optionally presses Enter.
func (t *Tmux) SendText(group, handle, text string, pressEnter bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	target := t.target(group, handle)
	out, err := t.run(ctx, "send-keys", "-t", target, "-l", "--", text)
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return ErrNotFound
		}
		return fmt.Errorf("sending text to %s: %w", handle, err)
	}
	if !pressEnter {
		return nil
	}
	out, err = t.run(ctx, "send-keys", "-t", target, "Enter")
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return ErrNotFound
		}
		return fmt.Errorf("sending Enter to %s: %w", handle, err)
	}
	return nil
}

// SendKey sends one named tmux key (Enter, Escape, C-c, Down, ...).
func (t *Tmux) SendKey(group, handle, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), OpTimeout)
	defer cancel()

	out, err := t.run(ctx, "send-keys", "-t", t.target(group, handle), key)
	if err != nil {
		if ctx.Err() != nil || notFoundOutput(out) {
			return ErrNotFound
		}
		return fmt.Errorf("sending key %s to %s: %w", key, handle, err)
	}
	return nil
}
