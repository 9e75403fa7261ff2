package state

import (
	"fmt"
	"strings"
	"time"
)

// Permissiveness selects how much autonomy the agent CLI is granted at
// launch time. The launch package maps each level to CLI flags.
type Permissiveness string

const (
	PermNormal     Permissiveness = "normal"
	PermPermissive Permissiveness = "permissive"
	PermBypass     Permissiveness = "bypass"
)

// maxWorkDurations bounds the per-session work-duration sample list used
// for the median; older samples are discarded first.
const maxWorkDurations = 50

// Heartbeat is the optional periodic-instruction schedule for a session.
type Heartbeat struct {
	IntervalSeconds int       `json:"interval_s"`
	LastFired       time.Time `json:"last_fired"`
	Paused          bool      `json:"paused,omitempty"`
	Instruction     string    `json:"instruction,omitempty"`
}

// Stats holds a session's accumulators. All time buckets are seconds.
//
// LastAccumulationTime, not StateSince, is the base for "time in current
// state" computations: the monitor advances it after every accumulation,
// so readers that start from it never double-count a period.
type Stats struct {
	CurrentState         Status    `json:"current_state"`
	StateSince           time.Time `json:"state_since"`
	LastAccumulationTime time.Time `json:"last_accumulation_time"`

	GreenSeconds    float64 `json:"green_seconds"`
	NonGreenSeconds float64 `json:"non_green_seconds"`
	SleepSeconds    float64 `json:"sleep_seconds"`

	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	InteractionCount int `json:"interaction_count"`
	SteerCount       int `json:"steer_count"`

	WorkDurations     []float64 `json:"work_durations,omitempty"`
	MedianWorkSeconds float64   `json:"median_work_seconds"`

	// Written by the external summarizer, passed through untouched.
	ActivitySummary        string `json:"activity_summary,omitempty"`
	ActivitySummaryContext string `json:"activity_summary_context,omitempty"`
}

// RecordWorkDuration appends a sample, keeping the list bounded.
func (st *Stats) RecordWorkDuration(seconds float64) {
	st.WorkDurations = append(st.WorkDurations, seconds)
	if len(st.WorkDurations) > maxWorkDurations {
		st.WorkDurations = st.WorkDurations[len(st.WorkDurations)-maxWorkDurations:]
	}
}

// Session is one tracked agent. Local sessions are owned by this host's
// registry; remote sessions are merged from federation peers and are
// read-only here.
type Session struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`

	MultiplexerWindow string   `json:"multiplexer_window"`
	WorkingDirectory  string   `json:"working_directory"`
	Repo              string   `json:"repo,omitempty"`
	Branch            string   `json:"branch,omitempty"`
	Command           []string `json:"command,omitempty"`

	StartTime    time.Time  `json:"start_time"`
	Status       Status     `json:"status"`
	IsAsleep     bool       `json:"is_asleep"`
	IsRemote     bool       `json:"is_remote,omitempty"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`

	StandingOrders         string         `json:"standing_orders,omitempty"`
	StandingOrdersComplete bool           `json:"standing_orders_complete,omitempty"`
	StandingOrdersPreset   string         `json:"standing_orders_preset,omitempty"`
	Permissiveness         Permissiveness `json:"permissiveness,omitempty"`
	AgentValue             int            `json:"agent_value,omitempty"`
	CostBudget             *float64       `json:"cost_budget,omitempty"`
	BudgetExceeded         bool           `json:"budget_exceeded,omitempty"`
	Annotation             string         `json:"annotation,omitempty"`
	Heartbeat              *Heartbeat     `json:"heartbeat,omitempty"`

	// Classifier strategy and hook-receiver behavior toggles.
	HookDetection      bool `json:"hook_detection,omitempty"`
	TimeContextEnabled bool `json:"time_context_enabled,omitempty"`

	// Extracted from the status bar each tick, not part of Status.
	BackgroundProcs int  `json:"background_procs,omitempty"`
	ChildRunning    bool `json:"child_running,omitempty"`

	Activity string `json:"activity,omitempty"`
	Stats    Stats  `json:"stats"`
}

// RemoteID builds the identifier for a session merged from a peer.
func RemoteID(host, name string) string {
	return "remote:" + host + ":" + name
}

// Remote reports whether the session was merged from a federation peer.
func (s *Session) Remote() bool {
	return s.IsRemote || strings.HasPrefix(s.ID, "remote:")
}

// Terminated reports whether the session has been tombstoned. Once true,
// the accumulators never change again.
func (s *Session) Terminated() bool {
	return s.Status == StatusTerminated
}

// Clone returns a deep copy safe to hand to readers.
func (s *Session) Clone() *Session {
	out := *s
	if s.Command != nil {
		out.Command = append([]string(nil), s.Command...)
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		out.TerminatedAt = &t
	}
	if s.CostBudget != nil {
		b := *s.CostBudget
		out.CostBudget = &b
	}
	if s.Heartbeat != nil {
		hb := *s.Heartbeat
		out.Heartbeat = &hb
	}
	if s.Stats.WorkDurations != nil {
		out.Stats.WorkDurations = append([]float64(nil), s.Stats.WorkDurations...)
	}
	return &out
}

// String identifies the session in logs and errors.
func (s *Session) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}
