// oc is the Overcode CLI — fleet supervision for interactive coding agents.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hookstate"
	"github.com/steveyegge/overcode/internal/state"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by cobra RunE functions to signal
// non-zero exit. The command has already written its own error to stderr.
var errExit = errors.New("exit")

// errBudget is errExit's sibling for the hook receiver's budget gate,
// which must surface exit code 2 to the calling agent.
var errBudget = errors.New("budget exceeded")

// stateDirFlag holds the value of the --state-dir persistent flag.
// Empty means "use OVERCODE_STATE_DIR, else ~/.overcode."
var stateDirFlag string

// groupFlag holds the value of the --group persistent flag.
// Empty means "use OVERCODE_GROUP, else the configured group."
var groupFlag string

// run executes the oc CLI with the given args, writing output to stdout and
// errors to stderr. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if errors.Is(err, errBudget) {
			return hookstate.ExitBudgetExceeded
		}
		return 1
	}
	return 0
}

// newRootCmd creates the root cobra command with all subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "oc",
		Short:         "Overcode CLI — supervision for fleets of interactive coding agents",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "oc: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	root.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "",
		"path to the state directory (default: $OVERCODE_STATE_DIR, else ~/.overcode)")
	root.PersistentFlags().StringVar(&groupFlag, "group", "",
		"multiplexer group to operate on (default: $OVERCODE_GROUP, else from config)")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newInitCmd(stdout, stderr),
		newDaemonCmd(stdout, stderr),
		newStatusCmd(stdout, stderr),
		newAgentCmd(stdout, stderr),
		newHookCmd(stdout, stderr),
		newHooksCmd(stdout, stderr),
		newEventsCmd(stdout, stderr),
		newDoctorCmd(stdout, stderr),
		newGenDocCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

// resolveStateDir returns the state directory: the --state-dir flag if
// set, else OVERCODE_STATE_DIR, else ~/.overcode.
func resolveStateDir() (string, error) {
	dir := stateDirFlag
	if dir == "" {
		dir = os.Getenv("OVERCODE_STATE_DIR")
	}
	if dir == "" {
		dir = config.DefaultStateDir()
	}
	return filepath.Abs(dir)
}

// loadConfig reads overcode.toml from the state directory, falling back
// to defaults when the file is absent, and applies the --group flag and
// environment overrides on top.
func loadConfig() (config.Config, error) {
	dir, err := resolveStateDir()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadOrDefault(fsys.OSFS{}, filepath.Join(dir, config.Filename))
	if err != nil {
		return config.Config{}, err
	}
	cfg.StateDir = dir
	if g := os.Getenv("OVERCODE_GROUP"); g != "" {
		cfg.Group = g
	}
	if groupFlag != "" {
		cfg.Group = groupFlag
	}
	if key := os.Getenv("OVERCODE_API_KEY"); key != "" {
		cfg.Web.APIKey = key
	}
	return *cfg, nil
}

// statePaths resolves config and derives the per-group state paths. On
// error it writes to stderr and returns a non-zero exit code.
func statePaths(stderr io.Writer, cmdName string) (config.Config, state.Paths, int) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return config.Config{}, state.Paths{}, 1
	}
	return cfg, cfg.Paths(), 0
}

