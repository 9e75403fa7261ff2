package state

import "time"

// AgentSnapshot is the per-session projection embedded in MonitorState.
// It flattens the fields UI consumers, federation peers, and the hook
// receiver need, so none of them parse the full registry document.
type AgentSnapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Window string `json:"window"`

	Status   Status `json:"status"`
	Activity string `json:"activity,omitempty"`
	IsAsleep bool   `json:"is_asleep"`
	IsRemote bool   `json:"is_remote,omitempty"`

	WorkingDirectory string `json:"working_directory,omitempty"`
	Repo             string `json:"repo,omitempty"`
	Branch           string `json:"branch,omitempty"`

	StandingOrders         string `json:"standing_orders,omitempty"`
	StandingOrdersComplete bool   `json:"standing_orders_complete,omitempty"`
	AgentValue             int    `json:"agent_value,omitempty"`
	Annotation             string `json:"annotation,omitempty"`
	TimeContext            bool   `json:"time_context,omitempty"`

	CostBudget       *float64 `json:"cost_budget,omitempty"`
	BudgetExceeded   bool     `json:"budget_exceeded,omitempty"`
	EstimatedCostUSD float64  `json:"estimated_cost_usd"`
	TotalTokens      int64    `json:"total_tokens"`

	GreenSeconds    float64 `json:"green_seconds"`
	NonGreenSeconds float64 `json:"non_green_seconds"`
	SleepSeconds    float64 `json:"sleep_seconds"`

	InteractionCount  int     `json:"interaction_count"`
	SteerCount        int     `json:"steer_count"`
	MedianWorkSeconds float64 `json:"median_work_seconds"`

	BackgroundProcs int  `json:"background_procs,omitempty"`
	ChildRunning    bool `json:"child_running,omitempty"`

	StartTime            time.Time  `json:"start_time"`
	StateSince           time.Time  `json:"state_since"`
	LastAccumulationTime time.Time  `json:"last_accumulation_time"`
	Heartbeat            *Heartbeat `json:"heartbeat,omitempty"`

	ActivitySummary        string `json:"activity_summary,omitempty"`
	ActivitySummaryContext string `json:"activity_summary_context,omitempty"`
}

// Snapshot projects a session into its MonitorState form.
func Snapshot(s *Session) AgentSnapshot {
	snap := AgentSnapshot{
		ID:                     s.ID,
		Name:                   s.Name,
		Host:                   s.Host,
		Window:                 s.MultiplexerWindow,
		Status:                 s.Status,
		Activity:               s.Activity,
		IsAsleep:               s.IsAsleep,
		IsRemote:               s.Remote(),
		WorkingDirectory:       s.WorkingDirectory,
		Repo:                   s.Repo,
		Branch:                 s.Branch,
		StandingOrders:         s.StandingOrders,
		StandingOrdersComplete: s.StandingOrdersComplete,
		AgentValue:             s.AgentValue,
		Annotation:             s.Annotation,
		TimeContext:            s.TimeContextEnabled,
		BudgetExceeded:         s.BudgetExceeded,
		EstimatedCostUSD:       s.Stats.EstimatedCostUSD,
		TotalTokens:            s.Stats.TotalTokens,
		GreenSeconds:           s.Stats.GreenSeconds,
		NonGreenSeconds:        s.Stats.NonGreenSeconds,
		SleepSeconds:           s.Stats.SleepSeconds,
		InteractionCount:       s.Stats.InteractionCount,
		SteerCount:             s.Stats.SteerCount,
		MedianWorkSeconds:      s.Stats.MedianWorkSeconds,
		BackgroundProcs:        s.BackgroundProcs,
		ChildRunning:           s.ChildRunning,
		StartTime:              s.StartTime,
		StateSince:             s.Stats.StateSince,
		LastAccumulationTime:   s.Stats.LastAccumulationTime,
		ActivitySummary:        s.Stats.ActivitySummary,
		ActivitySummaryContext: s.Stats.ActivitySummaryContext,
	}
	if s.CostBudget != nil {
		b := *s.CostBudget
		snap.CostBudget = &b
	}
	if s.Heartbeat != nil {
		hb := *s.Heartbeat
		snap.Heartbeat = &hb
	}
	return snap
}

// PeerState is the federation poller's view of one configured peer.
type PeerState struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Reachable    bool      `json:"reachable"`
	LastError    string    `json:"last_error,omitempty"`
	LastPolled   time.Time `json:"last_polled"`
	SessionCount int       `json:"session_count"`
}

// Aggregate sums the monitor-level counters across non-asleep sessions.
type Aggregate struct {
	GreenCount    int     `json:"green_count"`
	TotalGreen    float64 `json:"total_green"`
	TotalNonGreen float64 `json:"total_non_green"`
	ActiveCount   int     `json:"active_count"`
}

// MonitorState is the process-wide snapshot written atomically to
// monitor_daemon_state.json every tick. A mid-tick reader sees either
// the pre-tick or post-tick document, never a partial fusion.
type MonitorState struct {
	LoopCount           int64     `json:"loop_count"`
	TickIntervalSeconds float64   `json:"tick_interval_s"`
	StartedAt           time.Time `json:"started_at"`
	DaemonVersion       string    `json:"daemon_version"`
	Presence            string    `json:"presence,omitempty"`

	Agents    []AgentSnapshot      `json:"agents"`
	Aggregate Aggregate            `json:"aggregate"`
	Peers     map[string]PeerState `json:"peers,omitempty"`

	// Remediation-agent lifecycle counters.
	SupervisorLaunches              int        `json:"supervisor_launches"`
	SupervisorClaudeStartedAt       *time.Time `json:"supervisor_claude_started_at,omitempty"`
	SupervisorClaudeTotalRunSeconds float64    `json:"supervisor_claude_total_run_seconds"`
}

// FindAgent returns the snapshot with the given name, or nil.
func (m *MonitorState) FindAgent(name string) *AgentSnapshot {
	for i := range m.Agents {
		if m.Agents[i].Name == name {
			return &m.Agents[i]
		}
	}
	return nil
}
