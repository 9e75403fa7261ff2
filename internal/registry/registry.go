// Package registry owns the session map: every tracked agent, local or
// merged from a federation peer, lives here. All mutations serialize
// through one lock so a single total order exists per session; readers
// get deep copies and cross-process readers rely on the atomically
// replaced sessions.json document.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/overcode/internal/accum"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/gitinfo"
	"github.com/steveyegge/overcode/internal/launch"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/orders"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// ErrNotFound is returned when no session matches the given id or name.
var ErrNotFound = errors.New("session not found")

// ErrNameInUse is returned by Create when the caller forbids renaming
// and the name is already held by a live local session.
var ErrNameInUse = errors.New("session name already in use")

// ErrRemoteReadOnly is returned when a mutation targets a session
// merged from a federation peer.
var ErrRemoteReadOnly = errors.New("remote sessions are read-only")

// document is the on-disk shape of sessions.json.
type document struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Sessions  map[string]*state.Session `json:"sessions"`
}

// Filter selects which sessions ListVisible returns.
type Filter struct {
	IncludeAsleep     bool
	IncludeTerminated bool
	IncludeDone       bool
}

// CreateOptions carries the optional knobs for Create.
type CreateOptions struct {
	// NoRename makes a name collision fail with ErrNameInUse instead
	// of suffixing.
	NoRename bool

	Permissiveness state.Permissiveness
	StandingOrders string
	HookDetection  bool
	TimeContext    bool
	AgentValue     int
}

// Registry is the single owner of the session map for one multiplexer
// group. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	fs       fsys.FS
	m        mux.Multiplexer
	paths    state.Paths
	group    string
	host     string
	prices   accum.Prices
	clock    func() time.Time
	detect   func(dir string) gitinfo.Info
	sessions map[string]*state.Session
}

// New builds a Registry persisting under paths and driving windows in
// the given multiplexer group. host names this instance in federation.
func New(fs fsys.FS, m mux.Multiplexer, paths state.Paths, group, host string, prices accum.Prices) *Registry {
	return &Registry{
		fs:       fs,
		m:        m,
		paths:    paths,
		group:    group,
		host:     host,
		prices:   prices,
		clock:    time.Now,
		detect:   gitinfo.Detect,
		sessions: make(map[string]*state.Session),
	}
}

// Load reads sessions.json into the registry. A missing document
// leaves the registry empty; a malformed one is reported.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc document
	if err := state.LoadJSON(r.fs, r.paths.Sessions(), &doc); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading sessions: %w", err)
	}
	if doc.Sessions != nil {
		r.sessions = doc.Sessions
	}
	return nil
}

// persistLocked rewrites sessions.json atomically. Callers hold r.mu.
func (r *Registry) persistLocked() error {
	doc := document{UpdatedAt: r.clock().UTC(), Sessions: r.sessions}
	if err := state.SaveJSON(r.fs, r.paths.Sessions(), doc); err != nil {
		return fmt.Errorf("persisting sessions: %w", err)
	}
	return nil
}

// localLocked returns the live (non-terminated) local session with the
// given name, or nil.
func (r *Registry) localLocked(name string) *state.Session {
	for _, s := range r.sessions {
		if !s.Remote() && !s.Terminated() && s.Name == name {
			return s
		}
	}
	return nil
}

// uniqueNameLocked resolves a requested name against live local
// sessions by appending the lowest n ≥ 2 that frees it.
func (r *Registry) uniqueNameLocked(base string) string {
	if r.localLocked(base) == nil {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + strconv.Itoa(n)
		if r.localLocked(candidate) == nil {
			return candidate
		}
	}
}

// Create opens a multiplexer window, types the agent command into it,
// and records the session. Name collisions are resolved per the
// lowest-suffix rule unless opts.NoRename is set.
func (r *Registry) Create(name string, command []string, directory string, opts CreateOptions) (*state.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.NoRename && r.localLocked(name) != nil {
		return nil, fmt.Errorf("creating session %q: %w", name, ErrNameInUse)
	}
	finalName := r.uniqueNameLocked(name)

	window, err := r.m.NewWindow(r.group, finalName, directory)
	if err != nil {
		return nil, fmt.Errorf("opening window for %q: %w", finalName, err)
	}
	// Seed the window's shell so hook receiver subprocesses can identify
	// their session, whether the agent starts now or by hand later.
	if env := launch.Exports(telemetry.AgentEnv(finalName, r.group)); env != "" {
		if err := r.m.SendText(r.group, window, env, true); err != nil {
			return nil, fmt.Errorf("seeding environment for %q: %w", finalName, err)
		}
	}
	if len(command) > 0 {
		if err := r.m.SendText(r.group, window, launch.ShellLine(command), true); err != nil {
			return nil, fmt.Errorf("starting agent in %q: %w", finalName, err)
		}
	}

	now := r.clock()
	info := r.detect(directory)
	s := &state.Session{
		ID:                 finalName + "-" + strconv.FormatInt(now.UnixNano(), 36),
		Name:               finalName,
		Host:               r.host,
		MultiplexerWindow:  window,
		WorkingDirectory:   directory,
		Repo:               info.Repo,
		Branch:             info.Branch,
		Command:            append([]string(nil), command...),
		StartTime:          now,
		Status:             state.StatusRunning,
		Permissiveness:     opts.Permissiveness,
		AgentValue:         opts.AgentValue,
		HookDetection:      opts.HookDetection,
		TimeContextEnabled: opts.TimeContext,
		Stats: state.Stats{
			CurrentState:         state.StatusRunning,
			StateSince:           now,
			LastAccumulationTime: now,
		},
	}
	if opts.StandingOrders != "" {
		text, preset := orders.Resolve(opts.StandingOrders)
		s.StandingOrders = text
		s.StandingOrdersPreset = string(preset)
	}

	r.sessions[s.ID] = s
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// UpdateStatus records a classifier result for a session: it
// accumulates the elapsed time into the status buckets, advances the
// transition timestamps, and refreshes the cost estimate. Idempotent
// for unchanged statuses; a no-op for terminated sessions.
func (r *Registry) UpdateStatus(id string, status state.Status, activity string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Remote() {
		return ErrRemoteReadOnly
	}
	if s.Terminated() {
		return nil
	}

	prev := s.Stats.CurrentState
	base := s.Stats.LastAccumulationTime
	if base.IsZero() {
		base = s.StartTime
	}
	elapsed := now.Sub(base).Seconds()

	res := accum.UpdateTimes(status, prev, elapsed,
		accum.Buckets{
			Green:    s.Stats.GreenSeconds,
			NonGreen: s.Stats.NonGreenSeconds,
			Sleep:    s.Stats.SleepSeconds,
		},
		s.StartTime, now, accum.DefaultTolerance)
	s.Stats.GreenSeconds = res.Buckets.Green
	s.Stats.NonGreenSeconds = res.Buckets.NonGreen
	s.Stats.SleepSeconds = res.Buckets.Sleep
	s.Stats.LastAccumulationTime = now

	if res.StateChanged {
		// A green burst that just ended is one work sample.
		if prev.Green() && !status.Green() && !s.Stats.StateSince.IsZero() {
			s.Stats.RecordWorkDuration(now.Sub(s.Stats.StateSince).Seconds())
			s.Stats.MedianWorkSeconds = accum.Median(s.Stats.WorkDurations)
		}
		s.Stats.StateSince = now
		s.Stats.CurrentState = status
		s.Status = status
		if status == state.StatusTerminated {
			t := now
			s.TerminatedAt = &t
		}
	}
	s.Activity = activity
	s.Stats.EstimatedCostUSD = accum.CostEstimate(
		s.Stats.InputTokens, s.Stats.OutputTokens,
		s.Stats.CacheWriteTokens, s.Stats.CacheReadTokens, r.prices)

	return r.persistLocked()
}

// UpdateTokens replaces a session's token counters with fresh totals
// and recomputes the derived cost fields.
func (r *Registry) UpdateTokens(id string, in, out, cacheWrite, cacheRead int64) error {
	return r.mutate(id, func(s *state.Session) {
		s.Stats.InputTokens = in
		s.Stats.OutputTokens = out
		s.Stats.CacheWriteTokens = cacheWrite
		s.Stats.CacheReadTokens = cacheRead
		s.Stats.TotalTokens = in + out + cacheWrite + cacheRead
		s.Stats.EstimatedCostUSD = accum.CostEstimate(in, out, cacheWrite, cacheRead, r.prices)
	})
}

// Terminate tombstones the session. With cascade, the multiplexer
// window is killed too; a vanished window is not an error.
func (r *Registry) Terminate(id string, cascade bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Remote() {
		return ErrRemoteReadOnly
	}
	if s.Terminated() {
		return nil
	}

	now := r.clock()
	s.Status = state.StatusTerminated
	s.Stats.CurrentState = state.StatusTerminated
	s.TerminatedAt = &now
	if cascade && s.MultiplexerWindow != "" {
		if err := r.m.KillWindow(r.group, s.MultiplexerWindow); err != nil && !errors.Is(err, mux.ErrNotFound) {
			return fmt.Errorf("killing window for %s: %w", s.Name, err)
		}
	}
	return r.persistLocked()
}

// Restart terminates the named session's window and re-creates it with
// the stored command, directory, and policy fields. Returns the fresh
// session.
func (r *Registry) Restart(name string) (*state.Session, error) {
	r.mu.Lock()
	old := r.localLocked(name)
	if old == nil {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	command := append([]string(nil), old.Command...)
	directory := old.WorkingDirectory
	opts := CreateOptions{
		Permissiveness: old.Permissiveness,
		StandingOrders: old.StandingOrders,
		HookDetection:  old.HookDetection,
		TimeContext:    old.TimeContextEnabled,
		AgentValue:     old.AgentValue,
	}
	id := old.ID
	r.mu.Unlock()

	if err := r.Terminate(id, true); err != nil {
		return nil, err
	}
	return r.Create(name, command, directory, opts)
}

// mutate applies fn to a live local session under the lock and persists.
func (r *Registry) mutate(id string, fn func(*state.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Remote() {
		return ErrRemoteReadOnly
	}
	fn(s)
	return r.persistLocked()
}

// SetStandingOrders resolves the input against the named presets and
// stores the instruction text. Completion state resets.
func (r *Registry) SetStandingOrders(id, textOrPreset string) error {
	return r.mutate(id, func(s *state.Session) {
		text, preset := orders.Resolve(textOrPreset)
		s.StandingOrders = text
		s.StandingOrdersPreset = string(preset)
		s.StandingOrdersComplete = false
	})
}

// ClearStandingOrders removes the session's instruction text.
func (r *Registry) ClearStandingOrders(id string) error {
	return r.mutate(id, func(s *state.Session) {
		s.StandingOrders = ""
		s.StandingOrdersPreset = ""
		s.StandingOrdersComplete = false
	})
}

// MarkOrdersComplete declares the standing orders fulfilled and moves
// the session to done. The monitor keeps done in place while the agent
// merely idles; any fresh activity reclassifies it.
func (r *Registry) MarkOrdersComplete(id string) error {
	return r.mutate(id, func(s *state.Session) {
		s.StandingOrdersComplete = true
		if !s.Terminated() && !s.IsAsleep {
			s.Status = state.StatusDone
			s.Stats.CurrentState = state.StatusDone
			s.Stats.StateSince = r.clock()
		}
	})
}

// SetBudget sets the USD ceiling; usd <= 0 removes it.
func (r *Registry) SetBudget(id string, usd float64) error {
	return r.mutate(id, func(s *state.Session) {
		if usd <= 0 {
			s.CostBudget = nil
			s.BudgetExceeded = false
			return
		}
		s.CostBudget = &usd
	})
}

// SetBudgetExceeded records the monitor's budget verdict.
func (r *Registry) SetBudgetExceeded(id string, exceeded bool) error {
	return r.mutate(id, func(s *state.Session) { s.BudgetExceeded = exceeded })
}

// SetValue sets the integer priority used by remediation ordering.
func (r *Registry) SetValue(id string, value int) error {
	return r.mutate(id, func(s *state.Session) { s.AgentValue = value })
}

// SetSleep toggles is_asleep. Sleeping sessions drop out of
// remediation and accumulate into the sleep bucket; waking restores
// waiting_user until the next classification.
func (r *Registry) SetSleep(id string, asleep bool) error {
	return r.mutate(id, func(s *state.Session) {
		if s.IsAsleep == asleep {
			return
		}
		s.IsAsleep = asleep
		now := r.clock()
		if asleep {
			s.Status = state.StatusAsleep
			s.Stats.CurrentState = state.StatusAsleep
		} else {
			s.Status = state.StatusWaitingUser
			s.Stats.CurrentState = state.StatusWaitingUser
		}
		s.Stats.StateSince = now
	})
}

// Annotate attaches free text to the session.
func (r *Registry) Annotate(id, text string) error {
	return r.mutate(id, func(s *state.Session) { s.Annotation = text })
}

// SetHeartbeat configures the periodic-instruction schedule. Disabling
// drops the schedule entirely.
func (r *Registry) SetHeartbeat(id string, enabled bool, intervalSeconds int, instruction string) error {
	return r.mutate(id, func(s *state.Session) {
		if !enabled {
			s.Heartbeat = nil
			return
		}
		hb := &state.Heartbeat{IntervalSeconds: intervalSeconds, Instruction: instruction}
		if s.Heartbeat != nil {
			hb.LastFired = s.Heartbeat.LastFired
		}
		s.Heartbeat = hb
	})
}

// PauseHeartbeat suspends firing without losing the schedule.
func (r *Registry) PauseHeartbeat(id string) error {
	return r.mutate(id, func(s *state.Session) {
		if s.Heartbeat != nil {
			s.Heartbeat.Paused = true
		}
	})
}

// ResumeHeartbeat re-enables a paused schedule.
func (r *Registry) ResumeHeartbeat(id string) error {
	return r.mutate(id, func(s *state.Session) {
		if s.Heartbeat != nil {
			s.Heartbeat.Paused = false
		}
	})
}

// MarkHeartbeatFired records a delivery and flips the session into the
// heartbeat-driven green state.
func (r *Registry) MarkHeartbeatFired(id string, at time.Time) error {
	return r.mutate(id, func(s *state.Session) {
		if s.Heartbeat == nil {
			return
		}
		s.Heartbeat.LastFired = at
		s.Status = state.StatusRunningHeartbeat
		s.Stats.CurrentState = state.StatusRunningHeartbeat
		s.Stats.StateSince = at
	})
}

// SetTimeContext toggles the hook receiver's time-context line.
func (r *Registry) SetTimeContext(id string, enabled bool) error {
	return r.mutate(id, func(s *state.Session) { s.TimeContextEnabled = enabled })
}

// SetHookDetection chooses the classifier strategy for the session.
func (r *Registry) SetHookDetection(id string, enabled bool) error {
	return r.mutate(id, func(s *state.Session) { s.HookDetection = enabled })
}

// SetStatusBar records the background-process fields scraped from the
// agent CLI's status bar.
func (r *Registry) SetStatusBar(id string, backgroundProcs int, childRunning bool) error {
	return r.mutate(id, func(s *state.Session) {
		s.BackgroundProcs = backgroundProcs
		s.ChildRunning = childRunning
	})
}

// BumpInteraction counts one observed user prompt.
func (r *Registry) BumpInteraction(id string) error {
	return r.mutate(id, func(s *state.Session) { s.Stats.InteractionCount++ })
}

// BumpSteer counts one remediation intervention against the named
// session.
func (r *Registry) BumpSteer(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.localLocked(name)
	if s == nil {
		return ErrNotFound
	}
	s.Stats.SteerCount++
	return r.persistLocked()
}

// Get returns a deep copy of the session with the given id.
func (r *Registry) Get(id string) (*state.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetByName returns a deep copy of the live local session with the
// given name.
func (r *Registry) GetByName(name string) (*state.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.localLocked(name)
	if s == nil {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// ListVisible returns deep copies of the sessions the filter admits,
// local first, then remote, each sorted by name.
func (r *Registry) ListVisible(f Filter) []*state.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var local, remote []*state.Session
	for _, s := range r.sessions {
		switch {
		case s.Terminated() && !f.IncludeTerminated:
			continue
		case s.Status == state.StatusDone && !f.IncludeDone:
			continue
		case s.IsAsleep && !f.IncludeAsleep:
			continue
		}
		if s.Remote() {
			remote = append(remote, s.Clone())
		} else {
			local = append(local, s.Clone())
		}
	}
	sort.Slice(local, func(i, j int) bool { return local[i].Name < local[j].Name })
	sort.Slice(remote, func(i, j int) bool { return remote[i].Name < remote[j].Name })
	return append(local, remote...)
}

// MergeRemote atomically replaces the remote subset for one host with
// the sessions parsed from its latest snapshot.
func (r *Registry) MergeRemote(host string, snaps []state.AgentSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "remote:" + host + ":"
	for id, s := range r.sessions {
		if strings.HasPrefix(s.ID, prefix) {
			delete(r.sessions, id)
		}
	}
	for i := range snaps {
		snap := &snaps[i]
		s := &state.Session{
			ID:                state.RemoteID(host, snap.Name),
			Name:              snap.Name,
			Host:              host,
			MultiplexerWindow: snap.Window,
			WorkingDirectory:  snap.WorkingDirectory,
			Repo:              snap.Repo,
			Branch:            snap.Branch,
			StartTime:         snap.StartTime,
			Status:            snap.Status,
			IsAsleep:          snap.IsAsleep,
			IsRemote:          true,
			StandingOrders:    snap.StandingOrders,
			AgentValue:        snap.AgentValue,
			Annotation:        snap.Annotation,
			Activity:          snap.Activity,
			Stats: state.Stats{
				CurrentState:         snap.Status,
				StateSince:           snap.StateSince,
				LastAccumulationTime: snap.LastAccumulationTime,
				GreenSeconds:         snap.GreenSeconds,
				NonGreenSeconds:      snap.NonGreenSeconds,
				SleepSeconds:         snap.SleepSeconds,
				TotalTokens:          snap.TotalTokens,
				EstimatedCostUSD:     snap.EstimatedCostUSD,
				InteractionCount:     snap.InteractionCount,
				SteerCount:           snap.SteerCount,
				MedianWorkSeconds:    snap.MedianWorkSeconds,
				ActivitySummary:      snap.ActivitySummary,
			},
		}
		r.sessions[s.ID] = s
	}
	return r.persistLocked()
}

// Transport re-homes every live local session whose window is missing
// from the current group: a fresh window is opened and the stored
// command replayed. Returns the names that moved.
func (r *Registry) Transport() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	windows, err := r.m.ListWindows(r.group)
	if err != nil {
		return nil, fmt.Errorf("listing windows: %w", err)
	}
	present := make(map[string]bool, len(windows))
	for _, w := range windows {
		present[w.Handle] = true
	}

	var moved []string
	for _, s := range r.sessions {
		if s.Remote() || s.Terminated() || present[s.MultiplexerWindow] {
			continue
		}
		window, err := r.m.NewWindow(r.group, s.Name, s.WorkingDirectory)
		if err != nil {
			return moved, fmt.Errorf("re-homing %s: %w", s.Name, err)
		}
		if env := launch.Exports(telemetry.AgentEnv(s.Name, r.group)); env != "" {
			if err := r.m.SendText(r.group, window, env, true); err != nil {
				return moved, fmt.Errorf("seeding environment for %s: %w", s.Name, err)
			}
		}
		if len(s.Command) > 0 {
			if err := r.m.SendText(r.group, window, launch.ShellLine(s.Command), true); err != nil {
				return moved, fmt.Errorf("restarting agent %s: %w", s.Name, err)
			}
		}
		s.MultiplexerWindow = window
		moved = append(moved, s.Name)
	}
	sort.Strings(moved)
	if len(moved) > 0 {
		if err := r.persistLocked(); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// Cleanup garbage-collects terminated (and optionally done) sessions.
// Returns how many records were dropped.
func (r *Registry) Cleanup(includeDone bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped int
	for id, s := range r.sessions {
		if s.Remote() {
			continue
		}
		if s.Terminated() || (includeDone && s.Status == state.StatusDone) {
			delete(r.sessions, id)
			dropped++
		}
	}
	if dropped == 0 {
		return 0, nil
	}
	return dropped, r.persistLocked()
}
