// Package notify dispatches the attention bell: one notification per
// monitor tick naming the sessions that newly started waiting for user
// input.
package notify

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// runTimeout bounds the notifier command; a hung notifier must not
// stall the monitor loop.
const runTimeout = 10 * time.Second

// placeholder in the configured command is replaced with the message.
const placeholder = "{{message}}"

// Notifier runs the configured shell command, or falls back to a
// terminal bell on the given writer when no command is configured.
type Notifier struct {
	command string
	out     io.Writer
	run     func(ctx context.Context, command string) error
}

// New returns a Notifier. command may contain the literal {{message}}
// placeholder; empty means bell-to-writer fallback.
func New(command string, out io.Writer) *Notifier {
	return &Notifier{command: command, out: out, run: runShell}
}

// Notify announces that the named sessions newly wait for input. The
// list is coalesced into a single dispatch; an empty list is a no-op.
func (n *Notifier) Notify(names []string) error {
	if len(names) == 0 {
		return nil
	}
	msg := message(names)
	if n.command == "" {
		_, err := fmt.Fprintf(n.out, "\a%s\n", msg)
		return err
	}
	cmd := strings.ReplaceAll(n.command, placeholder, msg)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := n.run(ctx, cmd); err != nil {
		return fmt.Errorf("notify command: %w", err)
	}
	return nil
}

func message(names []string) string {
	if len(names) == 1 {
		return names[0] + " is waiting for input"
	}
	return strings.Join(names, ", ") + " are waiting for input"
}

func runShell(ctx context.Context, command string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
