package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/state"
)

// stopGrace is how long "oc daemon stop" waits for a graceful exit
// before escalating to a kill.
const stopGrace = 5 * time.Second

// newDaemonCmd creates the "oc daemon" command group with run, start,
// stop, status, and logs subcommands.
func newDaemonCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the Overcode daemon (monitor, supervisor, web server)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newDaemonRunCmd(stdout, stderr),
		newDaemonStartCmd(stdout, stderr),
		newDaemonStopCmd(stdout, stderr),
		newDaemonStatusCmd(stdout, stderr),
		newDaemonLogsCmd(stdout, stderr),
	)
	return cmd
}

// newDaemonRunCmd creates the "oc daemon run" subcommand — foreground
// daemon with log file output.
func newDaemonRunCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground (with log files)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDaemonRun(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonRun runs the daemon in the foreground, tee-ing the monitor and
// supervisor loops to stdout and their respective log files.
func doDaemonRun(stdout, stderr io.Writer) int {
	cfg, paths, code := statePaths(stderr, "oc daemon run")
	if code != 0 {
		return code
	}
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	monLog, err := os.OpenFile(paths.MonitorLog(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon run: opening monitor log: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer monLog.Close() //nolint:errcheck // best-effort cleanup

	supLog, err := os.OpenFile(paths.SupervisorLog(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon run: opening supervisor log: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer supLog.Close() //nolint:errcheck // best-effort cleanup

	return runDaemon(cfg, io.MultiWriter(stdout, monLog), io.MultiWriter(stdout, supLog), stderr)
}

// newDaemonStartCmd creates the "oc daemon start" subcommand — background fork.
func newDaemonStartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDaemonStart(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStart forks a background "oc daemon run" process.
func doDaemonStart(stdout, stderr io.Writer) int {
	cfg, paths, code := statePaths(stderr, "oc daemon start")
	if code != 0 {
		return code
	}
	if err := os.MkdirAll(paths.GroupDir(), 0o755); err != nil {
		fmt.Fprintf(stderr, "oc daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Pre-check: try the locks to see if a daemon is already running.
	locks, err := acquireDaemonLocks(paths)
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	// Release immediately — the child will re-acquire.
	locks.release()

	ocPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon start: finding executable: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	cmdArgs := []string{"--state-dir", cfg.StateDir, "--group", cfg.Group, "daemon", "run"}
	child := exec.Command(ocPath, cmdArgs...)
	child.SysProcAttr = daemonSysProcAttr()
	// Detach from parent stdio.
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		fmt.Fprintf(stderr, "oc daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	childPID := child.Process.Pid

	// Brief pause then verify the child took the locks.
	time.Sleep(200 * time.Millisecond)
	locks2, err := acquireDaemonLocks(paths)
	if err == nil {
		// Locks succeeded — child didn't start properly.
		locks2.release()
		fmt.Fprintf(stderr, "oc daemon start: child process failed to acquire locks\n") //nolint:errcheck // best-effort stderr
		return 1
	}

	// Verify the PID file matches the child we spawned.
	pid := readPIDFile(paths.MonitorPID())
	if pid != 0 && pid != childPID {
		fmt.Fprintf(stderr, "oc daemon start: PID mismatch (expected %d, got %d)\n", childPID, pid) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Daemon started (PID %d)\n", childPID) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonStopCmd creates the "oc daemon stop" subcommand.
func newDaemonStopCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDaemonStop(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStop terminates the running daemon, gracefully first, then
// forcefully after stopGrace.
func doDaemonStop(stdout, stderr io.Writer) int {
	_, paths, code := statePaths(stderr, "oc daemon stop")
	if code != 0 {
		return code
	}

	pid := readPIDFile(paths.MonitorPID())
	if pid == 0 || !isDaemonAlive(pid) {
		if pid != 0 {
			removePIDFiles(paths)
		}
		fmt.Fprintf(stderr, "oc daemon stop: no daemon is running\n") //nolint:errcheck // best-effort stderr
		return 1
	}

	if err := terminateDaemon(pid); err != nil {
		fmt.Fprintf(stderr, "oc daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !isDaemonAlive(pid) {
			removePIDFiles(paths)
			fmt.Fprintf(stdout, "Daemon stopped (PID %d)\n", pid) //nolint:errcheck // best-effort stdout
			return 0
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Still alive after the grace period — escalate.
	if err := killDaemon(pid); err != nil {
		fmt.Fprintf(stderr, "oc daemon stop: kill: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	removePIDFiles(paths)
	fmt.Fprintf(stdout, "Daemon killed (PID %d)\n", pid) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonStatusCmd creates the "oc daemon status" subcommand.
func newDaemonStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status (PID, uptime)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDaemonStatus(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStatus shows whether the daemon is running, its PID, and uptime.
func doDaemonStatus(stdout, stderr io.Writer) int {
	_, paths, code := statePaths(stderr, "oc daemon status")
	if code != 0 {
		return code
	}

	pid := readPIDFile(paths.MonitorPID())
	if pid == 0 || !isDaemonAlive(pid) {
		// Clean stale PID files if present.
		if pid != 0 {
			removePIDFiles(paths)
		}
		fmt.Fprintln(stdout, "Daemon is not running") //nolint:errcheck // best-effort stdout
		return 1
	}

	// Derive uptime from the monitor state document.
	uptime := "unknown"
	var ms state.MonitorState
	if err := state.LoadJSON(fsys.OSFS{}, paths.MonitorState(), &ms); err == nil && !ms.StartedAt.IsZero() {
		uptime = time.Since(ms.StartedAt).Truncate(time.Second).String()
	}

	fmt.Fprintf(stdout, "Daemon is running (PID %d, uptime %s)\n", pid, uptime) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonLogsCmd creates the "oc daemon logs" subcommand.
func newDaemonLogsCmd(stdout, stderr io.Writer) *cobra.Command {
	var numLines int
	var follow bool
	var supervisor bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail the daemon log file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDaemonLogs(numLines, follow, supervisor, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&numLines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().BoolVar(&supervisor, "supervisor", false, "tail the supervisor log instead of the monitor log")
	return cmd
}

// doDaemonLogs tails the monitor log file, or the supervisor log with
// --supervisor.
func doDaemonLogs(numLines int, follow, supervisor bool, stdout, stderr io.Writer) int {
	_, paths, code := statePaths(stderr, "oc daemon logs")
	if code != 0 {
		return code
	}

	logPath := paths.MonitorLog()
	if supervisor {
		logPath = paths.SupervisorLog()
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(stderr, "oc daemon logs: log file not found: %s\n", logPath) //nolint:errcheck // best-effort stderr
		return 1
	}

	tailArgs := []string{"-n", strconv.Itoa(numLines)}
	if follow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)

	tailCmd := exec.Command("tail", tailArgs...)
	tailCmd.Stdout = stdout
	tailCmd.Stderr = stderr
	if err := tailCmd.Run(); err != nil {
		fmt.Fprintf(stderr, "oc daemon logs: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// --- PID files and locks ---

// daemonLocks holds the exclusive locks on the three PID files. The
// fused daemon takes all three; separate lock files keep the layout
// compatible with tooling that watches the individual loops.
type daemonLocks struct {
	monitor    *flock.Flock
	supervisor *flock.Flock
	web        *flock.Flock
}

// acquireDaemonLocks takes the three PID file locks, or fails if any is
// held by a live process. A dead owner's locks were released by the OS,
// so stale PID files never block acquisition.
func acquireDaemonLocks(paths state.Paths) (*daemonLocks, error) {
	locks := &daemonLocks{
		monitor:    flock.New(paths.MonitorPID()),
		supervisor: flock.New(paths.SupervisorPID()),
		web:        flock.New(paths.WebPID()),
	}
	for _, fl := range []*flock.Flock{locks.monitor, locks.supervisor, locks.web} {
		locked, err := fl.TryLock()
		if err != nil {
			locks.release()
			return nil, fmt.Errorf("acquiring lock on %s: %w", filepath.Base(fl.Path()), err)
		}
		if !locked {
			locks.release()
			return nil, fmt.Errorf("daemon already running (lock held on %s)", filepath.Base(fl.Path()))
		}
	}
	return locks, nil
}

// release unlocks whatever was acquired, in reverse order.
func (l *daemonLocks) release() {
	for _, fl := range []*flock.Flock{l.web, l.supervisor, l.monitor} {
		if fl != nil && fl.Locked() {
			fl.Unlock() //nolint:errcheck // best-effort release
		}
	}
}

// writePIDFiles records our PID in all three PID files. The files are
// already locked; writing through a fresh descriptor keeps the lock,
// which binds to the inode.
func writePIDFiles(paths state.Paths) error {
	pid := []byte(strconv.Itoa(os.Getpid()))
	for _, p := range []string{paths.MonitorPID(), paths.SupervisorPID(), paths.WebPID()} {
		if err := os.WriteFile(p, pid, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// removePIDFiles deletes the PID files and the web port file.
func removePIDFiles(paths state.Paths) {
	for _, p := range []string{paths.MonitorPID(), paths.SupervisorPID(), paths.WebPID(), paths.WebPort()} {
		os.Remove(p) //nolint:errcheck // best-effort cleanup
	}
}

// readPIDFile reads a PID from path. Returns 0 if the file is missing,
// empty, or unparseable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
