package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/doctor"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hooks"
)

func newDoctorCmd(stdout, stderr io.Writer) *cobra.Command {
	var fix, verbose bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check installation health",
		Long: `Run diagnostic health checks on the Overcode installation.

Checks the state directory, config validity, the multiplexer and agent
binaries, daemon PID locks, hook wiring, the control API port, and the
history archive. Use --fix to attempt automatic repairs.`,
		Example: `  oc doctor
  oc doctor --fix
  oc doctor --verbose`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDoctor(fix, verbose, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "attempt to fix issues automatically")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show extra diagnostic details")
	return cmd
}

// doDoctor runs all health checks and prints results. A config that
// fails to parse does not abort the run; the config check reports it
// and the rest diagnose against defaults.
func doDoctor(fix, verbose bool, stdout, stderr io.Writer) int {
	dir, err := resolveStateDir()
	if err != nil {
		fmt.Fprintf(stderr, "oc doctor: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := loadConfig()
	if err != nil {
		c := config.Default()
		c.StateDir = dir
		cfg = *c
	}
	paths := cfg.Paths()
	fs := fsys.OSFS{}

	d := &doctor.Doctor{}
	ctx := &doctor.CheckContext{StateDir: cfg.StateDir, Group: cfg.Group, Verbose: verbose}

	d.Register(&doctor.StateDirCheck{})
	d.Register(&doctor.ConfigCheck{})

	if cfg.Multiplexer.Backend == "kubernetes" {
		d.Register(doctor.NewBinaryCheck("tmux", "skipped (kubernetes backend)", nil))
	} else {
		d.Register(doctor.NewBinaryCheck("tmux", "", nil))
	}
	if fields := strings.Fields(cfg.Agent.Command); len(fields) > 0 {
		d.Register(doctor.NewBinaryCheck(fields[0], "", nil))
	}

	d.Register(doctor.NewDaemonCheck(fs, paths, isDaemonAlive))

	if home, err := os.UserHomeDir(); err == nil {
		d.Register(doctor.NewHooksCheck(fs, hooks.SettingsPath(home)))
	}

	d.Register(doctor.NewPortCheck(fs, paths, cfg.Web.Port))
	d.Register(doctor.NewArchiveCheck(cfg.Archive.DSN, cfg.Archive.Table))

	report := d.Run(ctx, stdout, fix)
	doctor.PrintSummary(stdout, report)

	if report.Failed > 0 {
		return 1
	}
	return 0
}
