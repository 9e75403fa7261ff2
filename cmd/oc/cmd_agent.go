package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/state"
)

// apiTimeout bounds every CLI request to the daemon's control API.
const apiTimeout = 30 * time.Second

// apiClient talks to the local daemon's control API over loopback.
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

// newAPIClient locates the daemon's port file and builds a client. On
// error it writes to stderr and returns a non-zero exit code.
func newAPIClient(stderr io.Writer, cmdName string) (*apiClient, int) {
	cfg, paths, code := statePaths(stderr, cmdName)
	if code != 0 {
		return nil, code
	}
	data, err := os.ReadFile(paths.WebPort())
	if err != nil {
		fmt.Fprintf(stderr, "%s: daemon is not running for group %q (try 'oc daemon start')\n", cmdName, cfg.Group) //nolint:errcheck // best-effort stderr
		return nil, 1
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 {
		fmt.Fprintf(stderr, "%s: malformed port file %s\n", cmdName, paths.WebPort()) //nolint:errcheck // best-effort stderr
		return nil, 1
	}
	return &apiClient{
		base:   fmt.Sprintf("http://127.0.0.1:%d", port),
		apiKey: cfg.Web.APIKey,
		http:   &http.Client{Timeout: apiTimeout},
	}, 0
}

// call performs one request against the control API and unwraps the
// response envelope. A non-ok envelope becomes an error carrying the
// server's message.
func (c *apiClient) call(method, path string, body any) (json.RawMessage, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	var env struct {
		OK    bool            `json:"ok"`
		Error string          `json:"error,omitempty"`
		Data  json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.OK {
		if env.Error == "" {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, errors.New(env.Error)
	}
	return env.Data, nil
}

// newAgentCmd creates the "oc agent" command group.
func newAgentCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents in the supervised fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newAgentLaunchCmd(stdout, stderr),
		newAgentListCmd(stdout, stderr),
		newAgentSendCmd(stdout, stderr),
		newAgentKeysCmd(stdout, stderr),
		newAgentKillCmd(stdout, stderr),
		newAgentRestartCmd(stdout, stderr),
		newAgentOrdersCmd(stdout, stderr),
		newAgentBudgetCmd(stdout, stderr),
		newAgentValueCmd(stdout, stderr),
		newAgentAnnotateCmd(stdout, stderr),
		newAgentSleepCmd(stdout, stderr),
		newAgentWakeCmd(stdout, stderr),
		newAgentHeartbeatCmd(stdout, stderr),
		newAgentTimeContextCmd(stdout, stderr),
		newAgentHookDetectionCmd(stdout, stderr),
		newAgentTransportCmd(stdout, stderr),
		newAgentCleanupCmd(stdout, stderr),
	)
	return cmd
}

// ---------------------------------------------------------------------------
// oc agent launch
// ---------------------------------------------------------------------------

// newAgentLaunchCmd creates the "oc agent launch <name>" subcommand.
func newAgentLaunchCmd(stdout, stderr io.Writer) *cobra.Command {
	var dir, prompt, permissions string
	cmd := &cobra.Command{
		Use:   "launch <name>",
		Short: "Launch a new agent in a fresh multiplexer window",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent launch")
			if code != 0 {
				return errExit
			}
			if doAgentLaunch(c, args[0], dir, prompt, permissions, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "working directory for the agent (default: cwd)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "initial prompt passed on the agent command line")
	cmd.Flags().StringVar(&permissions, "permissions", "", "permissiveness: normal, permissive, or bypass")
	return cmd
}

// doAgentLaunch creates a session through the control API.
func doAgentLaunch(c *apiClient, name, dir, prompt, permissions string, stdout, stderr io.Writer) int {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "oc agent launch: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		fmt.Fprintf(stderr, "oc agent launch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	data, err := c.call(http.MethodPost, "/api/agents/launch", map[string]any{
		"directory":   abs,
		"name":        name,
		"prompt":      prompt,
		"permissions": permissions,
	})
	if err != nil {
		fmt.Fprintf(stderr, "oc agent launch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	var ref struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Window string `json:"window"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		fmt.Fprintf(stderr, "oc agent launch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Launched %s (window %s)\n", ref.Name, ref.Window) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent list
// ---------------------------------------------------------------------------

// newAgentListCmd creates the "oc agent list" subcommand. It reads the
// monitor state document directly, so it works offline too.
func newAgentListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent names and statuses, one per line",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doAgentList(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentList prints "name status" per agent, sorted by name.
func doAgentList(stdout, stderr io.Writer) int {
	_, paths, code := statePaths(stderr, "oc agent list")
	if code != 0 {
		return code
	}
	var ms state.MonitorState
	if err := state.LoadJSON(fsys.OSFS{}, paths.MonitorState(), &ms); err != nil {
		fmt.Fprintf(stderr, "oc agent list: no monitor state for group %q (is the daemon running?)\n", paths.Group) //nolint:errcheck // best-effort stderr
		return 1
	}
	names := make([]string, 0, len(ms.Agents))
	byName := make(map[string]state.AgentSnapshot, len(ms.Agents))
	for _, a := range ms.Agents {
		names = append(names, a.Name)
		byName[a.Name] = a
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(stdout, "%s %s\n", n, byName[n].Status) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// ---------------------------------------------------------------------------
// oc agent send / keys
// ---------------------------------------------------------------------------

// newAgentSendCmd creates the "oc agent send <name> <text...>" subcommand.
func newAgentSendCmd(stdout, stderr io.Writer) *cobra.Command {
	var noEnter bool
	cmd := &cobra.Command{
		Use:   "send <name> <text...>",
		Short: "Type text into an agent's window",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent send")
			if code != 0 {
				return errExit
			}
			text := strings.Join(args[1:], " ")
			if doAgentSend(c, args[0], text, !noEnter, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noEnter, "no-enter", false, "do not press Enter after the text")
	return cmd
}

// doAgentSend delivers text to the agent's window.
func doAgentSend(c *apiClient, name, text string, enter bool, stdout, stderr io.Writer) int {
	_, err := c.call(http.MethodPost, "/api/agents/"+name+"/send", map[string]any{
		"text":  text,
		"enter": enter,
	})
	if err != nil {
		fmt.Fprintf(stderr, "oc agent send: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Sent to %s\n", name) //nolint:errcheck // best-effort stdout
	return 0
}

// newAgentKeysCmd creates the "oc agent keys <name> <key>" subcommand.
func newAgentKeysCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "keys <name> <key>",
		Short: "Send a single key (Enter, Escape, C-c, Up, ...) to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent keys")
			if code != 0 {
				return errExit
			}
			if doAgentKeys(c, args[0], args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentKeys delivers one key press to the agent's window.
func doAgentKeys(c *apiClient, name, key string, stdout, stderr io.Writer) int {
	_, err := c.call(http.MethodPost, "/api/agents/"+name+"/keys", map[string]any{"key": key})
	if err != nil {
		fmt.Fprintf(stderr, "oc agent keys: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Sent %s to %s\n", key, name) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent kill / restart
// ---------------------------------------------------------------------------

// newAgentKillCmd creates the "oc agent kill <name>" subcommand.
func newAgentKillCmd(stdout, stderr io.Writer) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "kill <name>",
		Short: "Terminate an agent (--cascade also kills its window)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent kill")
			if code != 0 {
				return errExit
			}
			if doAgentKill(c, args[0], cascade, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also kill the agent's window")
	return cmd
}

// doAgentKill terminates the session through the control API.
func doAgentKill(c *apiClient, name string, cascade bool, stdout, stderr io.Writer) int {
	_, err := c.call(http.MethodPost, "/api/agents/"+name+"/kill", map[string]any{"cascade": cascade})
	if err != nil {
		fmt.Fprintf(stderr, "oc agent kill: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Killed %s\n", name) //nolint:errcheck // best-effort stdout
	return 0
}

// newAgentRestartCmd creates the "oc agent restart <name>" subcommand.
func newAgentRestartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Terminate and relaunch an agent with its stored command",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent restart")
			if code != 0 {
				return errExit
			}
			if doAgentRestart(c, args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentRestart bounces the session through the control API.
func doAgentRestart(c *apiClient, name string, stdout, stderr io.Writer) int {
	data, err := c.call(http.MethodPost, "/api/agents/"+name+"/restart", nil)
	if err != nil {
		fmt.Fprintf(stderr, "oc agent restart: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	var ref struct {
		Name   string `json:"name"`
		Window string `json:"window"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		fmt.Fprintf(stderr, "oc agent restart: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Restarted %s (window %s)\n", ref.Name, ref.Window) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent orders
// ---------------------------------------------------------------------------

// newAgentOrdersCmd creates the "oc agent orders <name> [text]" subcommand.
func newAgentOrdersCmd(stdout, stderr io.Writer) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "orders <name> [text or preset]",
		Short: "Set or clear an agent's standing orders",
		Long: `Set or clear an agent's standing orders.

The text may be a preset name (STANDARD, CODING, RESEARCH, ...) or free
text. Presets are resolved server-side.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent orders")
			if code != 0 {
				return errExit
			}
			text := strings.Join(args[1:], " ")
			if doAgentOrders(c, args[0], text, clear, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the standing orders")
	return cmd
}

// doAgentOrders sets or clears standing orders through the control API.
func doAgentOrders(c *apiClient, name, text string, clear bool, stdout, stderr io.Writer) int {
	if clear {
		if _, err := c.call(http.MethodDelete, "/api/agents/"+name+"/standing-orders", nil); err != nil {
			fmt.Fprintf(stderr, "oc agent orders: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
		fmt.Fprintf(stdout, "Cleared standing orders for %s\n", name) //nolint:errcheck // best-effort stdout
		return 0
	}
	if text == "" {
		fmt.Fprintln(stderr, "oc agent orders: missing orders text (or use --clear)") //nolint:errcheck // best-effort stderr
		return 1
	}
	if _, err := c.call(http.MethodPut, "/api/agents/"+name+"/standing-orders", map[string]any{"text": text}); err != nil {
		fmt.Fprintf(stderr, "oc agent orders: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Set standing orders for %s\n", name) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent budget / value / annotate
// ---------------------------------------------------------------------------

// newAgentBudgetCmd creates the "oc agent budget <name> <usd>" subcommand.
func newAgentBudgetCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "budget <name> <usd>",
		Short: "Set an agent's cost budget in USD",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent budget")
			if code != 0 {
				return errExit
			}
			if doAgentBudget(c, args[0], args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentBudget sets the cost budget through the control API.
func doAgentBudget(c *apiClient, name, usdStr string, stdout, stderr io.Writer) int {
	usd, err := strconv.ParseFloat(usdStr, 64)
	if err != nil {
		fmt.Fprintf(stderr, "oc agent budget: invalid amount %q\n", usdStr) //nolint:errcheck // best-effort stderr
		return 1
	}
	if _, err := c.call(http.MethodPut, "/api/agents/"+name+"/budget", map[string]any{"usd": usd}); err != nil {
		fmt.Fprintf(stderr, "oc agent budget: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Set budget for %s to $%.2f\n", name, usd) //nolint:errcheck // best-effort stdout
	return 0
}

// newAgentValueCmd creates the "oc agent value <name> <value>" subcommand.
func newAgentValueCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "value <name> <value>",
		Short: "Set an agent's value score (used for supervision priority)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent value")
			if code != 0 {
				return errExit
			}
			if doAgentValue(c, args[0], args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentValue sets the agent value through the control API.
func doAgentValue(c *apiClient, name, valueStr string, stdout, stderr io.Writer) int {
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		fmt.Fprintf(stderr, "oc agent value: invalid value %q\n", valueStr) //nolint:errcheck // best-effort stderr
		return 1
	}
	if _, err := c.call(http.MethodPut, "/api/agents/"+name+"/value", map[string]any{"value": value}); err != nil {
		fmt.Fprintf(stderr, "oc agent value: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Set value for %s to %d\n", name, value) //nolint:errcheck // best-effort stdout
	return 0
}

// newAgentAnnotateCmd creates the "oc agent annotate <name> <text...>" subcommand.
func newAgentAnnotateCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <name> [text...]",
		Short: "Attach a free-text note to an agent (empty text clears)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent annotate")
			if code != 0 {
				return errExit
			}
			if doAgentAnnotate(c, args[0], strings.Join(args[1:], " "), stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentAnnotate sets the annotation through the control API.
func doAgentAnnotate(c *apiClient, name, text string, stdout, stderr io.Writer) int {
	if _, err := c.call(http.MethodPut, "/api/agents/"+name+"/annotation", map[string]any{"text": text}); err != nil {
		fmt.Fprintf(stderr, "oc agent annotate: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if text == "" {
		fmt.Fprintf(stdout, "Cleared annotation for %s\n", name) //nolint:errcheck // best-effort stdout
	} else {
		fmt.Fprintf(stdout, "Annotated %s\n", name) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// ---------------------------------------------------------------------------
// oc agent sleep / wake
// ---------------------------------------------------------------------------

// newAgentSleepCmd creates the "oc agent sleep <name>" subcommand.
func newAgentSleepCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "sleep <name>",
		Short: "Put an agent to sleep (excluded from supervision)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent sleep")
			if code != 0 {
				return errExit
			}
			if doAgentSleep(c, args[0], true, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// newAgentWakeCmd creates the "oc agent wake <name>" subcommand.
func newAgentWakeCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "wake <name>",
		Short: "Wake a sleeping agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent wake")
			if code != 0 {
				return errExit
			}
			if doAgentSleep(c, args[0], false, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentSleep toggles the asleep flag through the control API.
func doAgentSleep(c *apiClient, name string, asleep bool, stdout, stderr io.Writer) int {
	cmdName := "oc agent wake"
	if asleep {
		cmdName = "oc agent sleep"
	}
	if _, err := c.call(http.MethodPost, "/api/agents/"+name+"/sleep", map[string]any{"asleep": asleep}); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if asleep {
		fmt.Fprintf(stdout, "%s is asleep\n", name) //nolint:errcheck // best-effort stdout
	} else {
		fmt.Fprintf(stdout, "%s is awake\n", name) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// ---------------------------------------------------------------------------
// oc agent heartbeat
// ---------------------------------------------------------------------------

// newAgentHeartbeatCmd creates the "oc agent heartbeat <name>" subcommand.
func newAgentHeartbeatCmd(stdout, stderr io.Writer) *cobra.Command {
	var every int
	var instruction string
	var off, pause, resume bool
	cmd := &cobra.Command{
		Use:   "heartbeat <name>",
		Short: "Configure an agent's periodic heartbeat instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent heartbeat")
			if code != 0 {
				return errExit
			}
			if doAgentHeartbeat(c, args[0], every, instruction, off, pause, resume, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&every, "every", 0, "heartbeat interval in seconds (enables the heartbeat)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "instruction to send on each heartbeat")
	cmd.Flags().BoolVar(&off, "off", false, "disable the heartbeat")
	cmd.Flags().BoolVar(&pause, "pause", false, "pause the heartbeat without losing its schedule")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume a paused heartbeat")
	return cmd
}

// doAgentHeartbeat drives the heartbeat endpoints. Exactly one of
// --every, --off, --pause, --resume selects the operation.
func doAgentHeartbeat(c *apiClient, name string, every int, instruction string, off, pause, resume bool, stdout, stderr io.Writer) int {
	modes := 0
	if every > 0 {
		modes++
	}
	if off {
		modes++
	}
	if pause {
		modes++
	}
	if resume {
		modes++
	}
	if modes != 1 {
		fmt.Fprintln(stderr, "oc agent heartbeat: need exactly one of --every, --off, --pause, --resume") //nolint:errcheck // best-effort stderr
		return 1
	}

	var err error
	var msg string
	switch {
	case off:
		_, err = c.call(http.MethodPut, "/api/agents/"+name+"/heartbeat", map[string]any{"enabled": false})
		msg = fmt.Sprintf("Disabled heartbeat for %s", name)
	case pause:
		_, err = c.call(http.MethodPost, "/api/agents/"+name+"/heartbeat/pause", nil)
		msg = fmt.Sprintf("Paused heartbeat for %s", name)
	case resume:
		_, err = c.call(http.MethodPost, "/api/agents/"+name+"/heartbeat/resume", nil)
		msg = fmt.Sprintf("Resumed heartbeat for %s", name)
	default:
		_, err = c.call(http.MethodPut, "/api/agents/"+name+"/heartbeat", map[string]any{
			"enabled":     true,
			"frequency":   every,
			"instruction": instruction,
		})
		msg = fmt.Sprintf("Heartbeat for %s every %ds", name, every)
	}
	if err != nil {
		fmt.Fprintf(stderr, "oc agent heartbeat: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintln(stdout, msg) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent time-context / hook-detection
// ---------------------------------------------------------------------------

// parseOnOff maps "on"/"off" to a bool.
func parseOnOff(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("want on or off, got %q", v)
	}
}

// newAgentTimeContextCmd creates the "oc agent time-context <name> on|off" subcommand.
func newAgentTimeContextCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "time-context <name> on|off",
		Short: "Toggle time-of-day context injection on prompt submit",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent time-context")
			if code != 0 {
				return errExit
			}
			if doAgentToggle(c, "oc agent time-context", args[0], "/time-context", args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// newAgentHookDetectionCmd creates the "oc agent hook-detection <name> on|off" subcommand.
func newAgentHookDetectionCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "hook-detection <name> on|off",
		Short: "Choose the hook-based classifier strategy for an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, code := newAPIClient(stderr, "oc agent hook-detection")
			if code != 0 {
				return errExit
			}
			if doAgentToggle(c, "oc agent hook-detection", args[0], "/hook-detection", args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentToggle PUTs {enabled} to the named per-agent endpoint.
func doAgentToggle(c *apiClient, cmdName, name, endpoint, onOff string, stdout, stderr io.Writer) int {
	enabled, err := parseOnOff(onOff)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if _, err := c.call(http.MethodPut, "/api/agents/"+name+endpoint, map[string]any{"enabled": enabled}); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "%s for %s: %s\n", strings.TrimPrefix(endpoint, "/"), name, onOff) //nolint:errcheck // best-effort stdout
	return 0
}

// ---------------------------------------------------------------------------
// oc agent transport / cleanup
// ---------------------------------------------------------------------------

// newAgentTransportCmd creates the "oc agent transport" subcommand.
func newAgentTransportCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "transport",
		Short: "Move all tracked windows into the current multiplexer group",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, code := newAPIClient(stderr, "oc agent transport")
			if code != 0 {
				return errExit
			}
			if doAgentTransport(c, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doAgentTransport invokes the transport endpoint and reports the count.
func doAgentTransport(c *apiClient, stdout, stderr io.Writer) int {
	data, err := c.call(http.MethodPost, "/api/agents/transport", nil)
	if err != nil {
		fmt.Fprintf(stderr, "oc agent transport: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	var res struct {
		Moved []string `json:"moved"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		fmt.Fprintf(stderr, "oc agent transport: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Moved %d window(s)\n", res.Count) //nolint:errcheck // best-effort stdout
	for _, name := range res.Moved {
		fmt.Fprintf(stdout, "  %s\n", name) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// newAgentCleanupCmd creates the "oc agent cleanup" subcommand.
func newAgentCleanupCmd(stdout, stderr io.Writer) *cobra.Command {
	var includeDone bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove terminated sessions from the registry",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, code := newAPIClient(stderr, "oc agent cleanup")
			if code != 0 {
				return errExit
			}
			if doAgentCleanup(c, includeDone, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDone, "include-done", false, "also remove agents whose standing orders are complete")
	return cmd
}

// doAgentCleanup invokes the cleanup endpoint and reports the count.
func doAgentCleanup(c *apiClient, includeDone bool, stdout, stderr io.Writer) int {
	data, err := c.call(http.MethodPost, "/api/agents/cleanup", map[string]any{"include_done": includeDone})
	if err != nil {
		fmt.Fprintf(stderr, "oc agent cleanup: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	var res struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		fmt.Fprintf(stderr, "oc agent cleanup: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Removed %d session(s)\n", res.Removed) //nolint:errcheck // best-effort stdout
	return 0
}
