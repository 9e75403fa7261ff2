package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/state"
)

// newStatusCmd creates the "oc status" subcommand.
func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show fleet status from the monitor state document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doStatus(args, asJSON, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state document as JSON")
	return cmd
}

// doStatus renders the fleet table, a single agent's detail view, or the
// raw JSON document. Reading the state file is always safe: the monitor
// writes it atomically.
func doStatus(args []string, asJSON bool, stdout, stderr io.Writer) int {
	_, paths, code := statePaths(stderr, "oc status")
	if code != 0 {
		return code
	}

	var ms state.MonitorState
	if err := state.LoadJSON(fsys.OSFS{}, paths.MonitorState(), &ms); err != nil {
		fmt.Fprintf(stderr, "oc status: no monitor state for group %q (is the daemon running?)\n", paths.Group) //nolint:errcheck // best-effort stderr
		return 1
	}

	if pid := readPIDFile(paths.MonitorPID()); pid == 0 || !isDaemonAlive(pid) {
		fmt.Fprintf(stderr, "warning: daemon is not running; state may be stale\n") //nolint:errcheck // best-effort stderr
	}

	if asJSON {
		data, err := json.MarshalIndent(ms, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "oc status: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
		fmt.Fprintf(stdout, "%s\n", data) //nolint:errcheck // best-effort stdout
		return 0
	}

	if len(args) == 1 {
		return printAgentDetail(&ms, args[0], stdout, stderr)
	}
	return printFleet(&ms, stdout)
}

// printFleet renders the one-line-per-agent table plus the aggregate
// footer.
func printFleet(ms *state.MonitorState, stdout io.Writer) int {
	if len(ms.Agents) == 0 {
		fmt.Fprintln(stdout, "No agents.") //nolint:errcheck // best-effort stdout
	} else {
		agents := make([]state.AgentSnapshot, len(ms.Agents))
		copy(agents, ms.Agents)
		sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })

		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tACTIVITY\tCOST\tTOKENS\tSINCE") //nolint:errcheck // best-effort stdout
		for _, a := range agents {
			name := a.Name
			if a.IsRemote {
				name = a.Name + "@" + a.Host
			}
			status := string(a.Status)
			if a.IsAsleep {
				status += " (asleep)"
			}
			activity := a.Activity
			if len(activity) > 40 {
				activity = activity[:37] + "..."
			}
			since := "-"
			if !a.StateSince.IsZero() {
				since = time.Since(a.StateSince).Truncate(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%d\t%s\n",
				name, status, activity, a.EstimatedCostUSD, a.TotalTokens, since) //nolint:errcheck // best-effort stdout
		}
		w.Flush() //nolint:errcheck // best-effort stdout
	}

	uptime := "unknown"
	if !ms.StartedAt.IsZero() {
		uptime = time.Since(ms.StartedAt).Truncate(time.Second).String()
	}
	fmt.Fprintf(stdout, "\n%d agents (%d green, %d active); daemon %s, up %s, loop %d\n",
		len(ms.Agents), ms.Aggregate.GreenCount, ms.Aggregate.ActiveCount,
		ms.DaemonVersion, uptime, ms.LoopCount) //nolint:errcheck // best-effort stdout

	if ms.Presence != "" {
		fmt.Fprintf(stdout, "Presence: %s\n", ms.Presence) //nolint:errcheck // best-effort stdout
	}
	if ms.SupervisorLaunches > 0 || ms.SupervisorClaudeStartedAt != nil {
		line := fmt.Sprintf("Supervisor: %d launches, %.0fs agent runtime", ms.SupervisorLaunches, ms.SupervisorClaudeTotalRunSeconds)
		if ms.SupervisorClaudeStartedAt != nil {
			line += fmt.Sprintf(", running since %s", ms.SupervisorClaudeStartedAt.Format("15:04:05"))
		}
		fmt.Fprintln(stdout, line) //nolint:errcheck // best-effort stdout
	}
	if len(ms.Peers) > 0 {
		names := make([]string, 0, len(ms.Peers))
		for n := range ms.Peers {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintln(stdout, "Peers:") //nolint:errcheck // best-effort stdout
		for _, n := range names {
			p := ms.Peers[n]
			if p.Reachable {
				fmt.Fprintf(stdout, "  %s: %d sessions\n", n, p.SessionCount) //nolint:errcheck // best-effort stdout
			} else {
				fmt.Fprintf(stdout, "  %s: unreachable (%s)\n", n, p.LastError) //nolint:errcheck // best-effort stdout
			}
		}
	}
	return 0
}

// printAgentDetail renders the full snapshot for one agent.
func printAgentDetail(ms *state.MonitorState, name string, stdout, stderr io.Writer) int {
	a := ms.FindAgent(name)
	if a == nil {
		fmt.Fprintf(stderr, "oc status: agent %q not found\n", name) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "%s:\n", a.Name)                     //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  ID:          %s\n", a.ID)         //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  Window:      %s\n", a.Window)     //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  Status:      %s\n", a.Status)     //nolint:errcheck // best-effort stdout
	if a.Activity != "" {
		fmt.Fprintf(stdout, "  Activity:    %s\n", a.Activity) //nolint:errcheck // best-effort stdout
	}
	if a.WorkingDirectory != "" {
		fmt.Fprintf(stdout, "  Directory:   %s\n", a.WorkingDirectory) //nolint:errcheck // best-effort stdout
	}
	if a.Repo != "" {
		fmt.Fprintf(stdout, "  Repo:        %s (%s)\n", a.Repo, a.Branch) //nolint:errcheck // best-effort stdout
	}
	if a.IsRemote {
		fmt.Fprintf(stdout, "  Host:        %s\n", a.Host) //nolint:errcheck // best-effort stdout
	}
	asleep := "no"
	if a.IsAsleep {
		asleep = "yes"
	}
	fmt.Fprintf(stdout, "  Asleep:      %s\n", asleep) //nolint:errcheck // best-effort stdout

	cost := fmt.Sprintf("$%.2f", a.EstimatedCostUSD)
	if a.CostBudget != nil {
		cost += fmt.Sprintf(" of $%.2f budget", *a.CostBudget)
		if a.BudgetExceeded {
			cost += " (EXCEEDED)"
		}
	}
	fmt.Fprintf(stdout, "  Cost:        %s\n", cost)                                                //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  Tokens:      %d\n", a.TotalTokens)                                       //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  Green:       %.0fs (non-green %.0fs)\n", a.GreenSeconds, a.NonGreenSeconds) //nolint:errcheck // best-effort stdout
	fmt.Fprintf(stdout, "  Interactions: %d (%d steers)\n", a.InteractionCount, a.SteerCount)       //nolint:errcheck // best-effort stdout
	if a.MedianWorkSeconds > 0 {
		fmt.Fprintf(stdout, "  Median work: %.0fs\n", a.MedianWorkSeconds) //nolint:errcheck // best-effort stdout
	}
	if a.Heartbeat != nil {
		hb := fmt.Sprintf("every %ds", a.Heartbeat.IntervalSeconds)
		if a.Heartbeat.Paused {
			hb += " (paused)"
		}
		fmt.Fprintf(stdout, "  Heartbeat:   %s\n", hb) //nolint:errcheck // best-effort stdout
	}
	if a.StandingOrders != "" {
		orders := a.StandingOrders
		if len(orders) > 60 {
			orders = orders[:57] + "..."
		}
		done := ""
		if a.StandingOrdersComplete {
			done = " (complete)"
		}
		fmt.Fprintf(stdout, "  Orders:      %s%s\n", orders, done) //nolint:errcheck // best-effort stdout
	}
	if a.Annotation != "" {
		fmt.Fprintf(stdout, "  Annotation:  %s\n", a.Annotation) //nolint:errcheck // best-effort stdout
	}
	if a.AgentValue != 0 {
		fmt.Fprintf(stdout, "  Value:       %d\n", a.AgentValue) //nolint:errcheck // best-effort stdout
	}
	if !a.StartTime.IsZero() {
		fmt.Fprintf(stdout, "  Started:     %s\n", a.StartTime.Format("2006-01-02 15:04:05")) //nolint:errcheck // best-effort stdout
	}
	return 0
}
