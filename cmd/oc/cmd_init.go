package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/fsys"
)

// configHeader precedes the generated TOML so a fresh overcode.toml
// explains itself. Marshal output carries no comments of its own.
const configHeader = `# Overcode configuration.
# Every key is optional; missing keys fall back to built-in defaults.
# The daemon re-reads federation peers on SIGHUP; everything else needs
# a daemon restart.

`

func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the state directory and write a default config",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdInit(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// cmdInit resolves the target state directory (honoring --state-dir and
// --group) and scaffolds it.
func cmdInit(stdout, stderr io.Writer) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "oc init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return doInit(fsys.OSFS{}, cfg, stdout, stderr)
}

// doInit creates the state directory skeleton and writes overcode.toml
// with the resolved defaults. Errors if the config file already exists.
// Accepts an injected FS for testability.
func doInit(fs fsys.FS, cfg config.Config, stdout, stderr io.Writer) int {
	tomlPath := filepath.Join(cfg.StateDir, config.Filename)
	if _, err := fs.Stat(tomlPath); err == nil {
		fmt.Fprintf(stderr, "oc init: already initialized (%s exists)\n", tomlPath) //nolint:errcheck // best-effort stderr
		return 1
	}

	if err := fs.MkdirAll(cfg.StateDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "oc init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := fs.MkdirAll(cfg.Paths().GroupDir(), 0o755); err != nil {
		fmt.Fprintf(stderr, "oc init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	content, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "oc init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := fs.WriteFile(tomlPath, append([]byte(configHeader), content...), 0o644); err != nil {
		fmt.Fprintf(stderr, "oc init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Initialized Overcode state in %s (group %q).\n", cfg.StateDir, cfg.Group) //nolint:errcheck // best-effort stdout
	fmt.Fprintln(stdout, "Next steps:")                                                            //nolint:errcheck // best-effort stdout
	fmt.Fprintln(stdout, "  oc hooks install   # wire your agent's lifecycle hooks to oc")         //nolint:errcheck // best-effort stdout
	fmt.Fprintln(stdout, "  oc daemon start    # start the monitor and supervisor")                //nolint:errcheck // best-effort stdout
	return 0
}
