package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hookstate"
)

// newHookCmd creates the "oc hook" subcommand. The agent CLI's hook
// configuration invokes it with the event payload on stdin; it is not
// meant to be run by hand.
func newHookCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Receive an agent hook event on stdin (invoked by hooks, not by hand)",
		Long: `Receives one hook event from the agent CLI on stdin.

The session is identified by $SESSION_NAME and $MULTIPLEXER_GROUP, which
Overcode seeds into every window it creates. Invocations outside a
managed window are silent no-ops: hooks must never break an unmanaged
agent. Exit code 2 signals the agent to stop (budget exceeded).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code := doHook(cmd.InOrStdin(), stdout, stderr)
			if code == hookstate.ExitBudgetExceeded {
				return errBudget
			}
			if code != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doHook reads the event payload and routes it through the hook
// receiver. Every failure path is a silent success: a broken or absent
// Overcode install must not block the user's agent.
func doHook(stdin io.Reader, stdout, stderr io.Writer) int {
	name := os.Getenv("SESSION_NAME")
	if name == "" {
		return 0
	}

	payload, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return 0
	}

	cfg, err := loadConfig()
	if err != nil {
		return 0
	}
	if g := os.Getenv("MULTIPLEXER_GROUP"); g != "" {
		cfg.Group = g
	}

	r := hookstate.NewReceiver(fsys.OSFS{}, cfg.Paths(), cfg.Office)
	res := r.Process(name, payload)
	if res.Stdout != "" {
		fmt.Fprint(stdout, res.Stdout) //nolint:errcheck // best-effort stdout
	}
	if res.Stderr != "" {
		fmt.Fprint(stderr, res.Stderr) //nolint:errcheck // best-effort stderr
	}
	return res.ExitCode
}
