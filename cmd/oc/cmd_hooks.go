package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hooks"
)

func newHooksCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage the agent CLI hook wiring",
		Long: `Manage the settings entries that make the agent CLI pipe its
lifecycle events to 'oc hook'. By default the user-scope settings file
is edited; pass --dir to target a project instead.`,
	}
	cmd.AddCommand(newHooksInstallCmd(stdout, stderr))
	cmd.AddCommand(newHooksUninstallCmd(stdout, stderr))
	cmd.AddCommand(newHooksStatusCmd(stdout, stderr))
	return cmd
}

func newHooksInstallCmd(stdout, stderr io.Writer) *cobra.Command {
	var dirFlag string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Wire lifecycle events to oc hook",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := hooksSettingsPath(dirFlag)
			if err != nil {
				fmt.Fprintf(stderr, "oc hooks install: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			if doHooksInstall(fsys.OSFS{}, path, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirFlag, "dir", "", "project root to install into (default: user scope)")
	return cmd
}

func newHooksUninstallCmd(stdout, stderr io.Writer) *cobra.Command {
	var dirFlag string
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the oc hook wiring",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := hooksSettingsPath(dirFlag)
			if err != nil {
				fmt.Fprintf(stderr, "oc hooks uninstall: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			if doHooksUninstall(fsys.OSFS{}, path, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirFlag, "dir", "", "project root to uninstall from (default: user scope)")
	return cmd
}

func newHooksStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	var dirFlag string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which lifecycle events are wired",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := hooksSettingsPath(dirFlag)
			if err != nil {
				fmt.Fprintf(stderr, "oc hooks status: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			if doHooksStatus(fsys.OSFS{}, path, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirFlag, "dir", "", "project root to inspect (default: user scope)")
	return cmd
}

// hooksSettingsPath resolves the settings file to operate on: the
// user-scope file when dir is empty, the project-scope file otherwise.
func hooksSettingsPath(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return hooks.SettingsPath(home), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return hooks.SettingsPath(abs), nil
}

func doHooksInstall(fs fsys.FS, path string, stdout, stderr io.Writer) int {
	added, err := hooks.Install(fs, path)
	if err != nil {
		fmt.Fprintf(stderr, "oc hooks install: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if len(added) == 0 {
		fmt.Fprintf(stdout, "Hooks already installed in %s.\n", path) //nolint:errcheck // best-effort stdout
		return 0
	}
	fmt.Fprintf(stdout, "Wired %d event(s) in %s:\n", len(added), path) //nolint:errcheck // best-effort stdout
	for _, event := range added {
		fmt.Fprintf(stdout, "  %s\n", event) //nolint:errcheck // best-effort stdout
	}
	return 0
}

func doHooksUninstall(fs fsys.FS, path string, stdout, stderr io.Writer) int {
	removed, err := hooks.Uninstall(fs, path)
	if err != nil {
		fmt.Fprintf(stderr, "oc hooks uninstall: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if len(removed) == 0 {
		fmt.Fprintf(stdout, "No hooks installed in %s.\n", path) //nolint:errcheck // best-effort stdout
		return 0
	}
	fmt.Fprintf(stdout, "Unwired %d event(s) from %s.\n", len(removed), path) //nolint:errcheck // best-effort stdout
	return 0
}

// doHooksStatus prints one line per lifecycle event. Exits nonzero when
// any event is unwired so scripts (and doctor) can test the state.
func doHooksStatus(fs fsys.FS, path string, stdout, stderr io.Writer) int {
	installed, err := hooks.Status(fs, path)
	if err != nil {
		fmt.Fprintf(stderr, "oc hooks status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	allWired := true
	for _, event := range hooks.Events {
		state := "installed"
		if !installed[event] {
			state = "missing"
			allWired = false
		}
		fmt.Fprintf(w, "%s\t%s\n", event, state) //nolint:errcheck // best-effort stdout
	}
	w.Flush() //nolint:errcheck // best-effort stdout
	if !allWired {
		return 1
	}
	return 0
}
