// Package hookstate implements the hook receiver: the short-lived
// logic each agent CLI invokes at lifecycle events. It records the
// event for the classifier's hook strategy, gates new user prompts on
// the cost budget, and renders the optional time-context line.
//
// The receiver must never break the agent it serves: unknown events,
// malformed payloads, and missing state all resolve to a silent zero
// exit. Only the budget gate exits non-zero, with the distinguished
// code the host CLI maps to "block this prompt".
package hookstate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/heartbeat"
	"github.com/steveyegge/overcode/internal/history"
	"github.com/steveyegge/overcode/internal/state"
)

// ExitBudgetExceeded is the distinguished exit code for a blocked
// prompt. Everything else exits zero.
const ExitBudgetExceeded = 2

// Event names the receiver records. Anything else is ignored.
const (
	EventUserPromptSubmit  = "UserPromptSubmit"
	EventPostToolUse       = "PostToolUse"
	EventStop              = "Stop"
	EventPermissionRequest = "PermissionRequest"
	EventSessionEnd        = "SessionEnd"
)

var knownEvents = map[string]bool{
	EventUserPromptSubmit:  true,
	EventPostToolUse:       true,
	EventStop:              true,
	EventPermissionRequest: true,
	EventSessionEnd:        true,
}

// Input is the JSON document an agent CLI pipes to the receiver.
type Input struct {
	HookEventName string `json:"hook_event_name"`
	ToolName      string `json:"tool_name,omitempty"`
	Usage         *Usage `json:"usage,omitempty"`
}

// Usage carries cumulative token totals when the CLI reports them.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadTokens  int64 `json:"cache_read_input_tokens"`
}

// Record is the document written to hook_state_<name>.json. The
// monitor's classifier and token accounting both read it.
type Record struct {
	Event     string    `json:"event"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// Result tells the command layer what to emit and how to exit.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Receiver processes hook invocations for one state directory.
type Receiver struct {
	fs     fsys.FS
	paths  state.Paths
	office config.Office
	clock  func() time.Time
}

// NewReceiver returns a Receiver rooted at paths.
func NewReceiver(fs fsys.FS, paths state.Paths, office config.Office) *Receiver {
	return &Receiver{fs: fs, paths: paths, office: office, clock: time.Now}
}

// Process handles one hook payload for the named session.
func (r *Receiver) Process(name string, payload []byte) Result {
	if name == "" {
		return Result{}
	}
	var in Input
	if err := json.Unmarshal(payload, &in); err != nil {
		return Result{}
	}
	if !knownEvents[in.HookEventName] {
		return Result{}
	}

	now := r.clock()
	rec := Record{
		Event:     in.HookEventName,
		ToolName:  in.ToolName,
		Timestamp: now.UTC(),
		Usage:     in.Usage,
	}
	if err := state.SaveJSON(r.fs, r.paths.HookState(name), rec); err != nil {
		// The agent must not be punished for our disk trouble.
		return Result{Stderr: fmt.Sprintf("overcode: recording hook state: %v\n", err)}
	}

	if in.HookEventName != EventUserPromptSubmit {
		return Result{}
	}
	return r.promptSubmit(name, now)
}

// promptSubmit applies the budget gate and renders the time context.
func (r *Receiver) promptSubmit(name string, now time.Time) Result {
	var ms state.MonitorState
	haveState := state.LoadJSON(r.fs, r.paths.MonitorState(), &ms) == nil
	var agent *state.AgentSnapshot
	if haveState {
		agent = ms.FindAgent(name)
	}

	if agent != nil && agent.BudgetExceeded {
		budget := 0.0
		if agent.CostBudget != nil {
			budget = *agent.CostBudget
		}
		msg := fmt.Sprintf(
			"Budget exceeded for %s: $%.2f spent of $%.2f budget. New prompts are blocked until the budget is raised or cleared.\n",
			name, agent.EstimatedCostUSD, budget)
		return Result{ExitCode: ExitBudgetExceeded, Stderr: msg}
	}

	if agent != nil && !agent.TimeContext {
		return Result{}
	}
	return Result{Stdout: r.timeContext(agent, &ms, haveState, now) + "\n"}
}

// timeContext renders the pipe-separated context line, including only
// the fields whose underlying data exists.
func (r *Receiver) timeContext(agent *state.AgentSnapshot, ms *state.MonitorState, haveState bool, now time.Time) string {
	fields := []string{"Clock: " + now.Format("15:04 MST")}

	if haveState && ms.Presence != "" {
		fields = append(fields, "User: "+presenceWord(ms.Presence))
	}

	office := "no"
	if r.office.Within(now) {
		office = "yes"
	}
	fields = append(fields, "Office: "+office)

	if agent != nil && !agent.StartTime.IsZero() {
		fields = append(fields, "Uptime: "+formatUptime(now.Sub(agent.StartTime)))
	}
	if agent != nil && agent.Heartbeat != nil {
		if desc := heartbeat.Describe(agent.Heartbeat, now); desc != "" {
			fields = append(fields, "Heartbeat: "+desc)
		}
	}
	return strings.Join(fields, " | ")
}

// presenceWord maps the sensor states onto the context line's wording.
func presenceWord(p string) string {
	switch history.Presence(p) {
	case history.PresenceActive:
		return "active"
	case history.PresenceInactive:
		return "inactive"
	case history.PresenceLockedOrSleep:
		return "locked"
	default:
		return "unknown"
	}
}

// formatUptime renders a duration as "3h 24m"; sub-hour spans render
// as "24m".
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// Read returns the latest hook record for the named session, or nil
// when the file is absent or unreadable.
func Read(fs fsys.FS, paths state.Paths, name string) *Record {
	var rec Record
	if err := state.LoadJSON(fs, paths.HookState(name), &rec); err != nil {
		return nil
	}
	if rec.Event == "" {
		return nil
	}
	return &rec
}
