// Package supervisor runs the remediation loop: it watches for
// non-green sessions, decides whether a remediation agent would help,
// launches one through the registry with a composed context prompt,
// and scrapes its pane for intervention lines while it runs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/overcode/internal/accum"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/launch"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/orders"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// AgentName is the window name of the remediation agent. It registers
// as an ordinary session so the monitor tracks its cost and status; the
// candidate filter recognizes it by name so it never remediates itself.
const AgentName = "overseer"

// trackLines is how much of the remediation agent's pane is scraped
// per pass when looking for intervention lines.
const trackLines = 50

// endGrace is how long after launch the remediation agent must be
// non-green before the run counts as over. The gap covers the agent
// CLI's startup, when the pane still shows a bare shell.
const endGrace = 30 * time.Second

// Launch decision reasons, reported in logs and events.
const (
	ReasonNoSessions          = "no_sessions"
	ReasonAlreadyRunning      = "already_running"
	ReasonWaitingUserNoOrders = "waiting_user_no_instructions"
	ReasonWithInstructions    = "with_instructions"
	ReasonNonUserBlocked      = "non_user_blocked"
)

// statusGlyph marks each candidate line in the composed context. The
// remediation agent reads these; keep them aligned with the status set.
var statusGlyph = map[state.Status]string{
	state.StatusRunning:           "🟢",
	state.StatusRunningHeartbeat:  "💓",
	state.StatusWaitingUser:       "🔴",
	state.StatusWaitingApproval:   "🟡",
	state.StatusWaitingSupervisor: "🟠",
	state.StatusWaitingHeartbeat:  "🫀",
	state.StatusNoInstructions:    "⚪",
	state.StatusError:             "❌",
	state.StatusAsleep:            "💤",
	state.StatusTerminated:        "⬛",
	state.StatusDone:              "✅",
}

// Glyph returns the context-line marker for a status. Unknown statuses
// get a neutral dot so a composed context never has a gap.
func Glyph(st state.Status) string {
	if g, ok := statusGlyph[st]; ok {
		return g
	}
	return "•"
}

// defaultMission opens every remediation-agent prompt. Configurations
// may replace it wholesale.
const defaultMission = `You are the overseer for a fleet of coding agents running in this
terminal multiplexer. The agents listed below are blocked or idle.
For each one, inspect its window, decide whether it needs help, and
intervene: approve pending actions that are safe, answer questions,
or restate its autopilot instructions. After each intervention print
one line of the form "<agent> - <what you did>" (for example
"acme - approved the file edit"). If an agent needs nothing, print
"<agent> - no intervention needed".`

// stateDocEpilogue closes the prompt; the remediation agent can read
// the shared state document for anything the summary lines omit.
const stateDocEpilogue = `Consult monitor_daemon_state.json in the state directory for full
session details (tokens, cost, timings) before intervening.`

// FilterCandidates returns the sessions a remediation agent should
// consider: non-green, awake, not the remediation agent itself, and
// not carrying standing orders that begin with DO_NOTHING.
func FilterCandidates(sessions []*state.Session) []*state.Session {
	var out []*state.Session
	for _, s := range sessions {
		if s.Status.Green() {
			continue
		}
		if s.IsAsleep {
			continue
		}
		if s.Name == AgentName {
			continue
		}
		if orders.IsDoNothing(s.StandingOrders) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ShouldLaunch decides whether to spawn a remediation agent for the
// given candidates. The returned reason names the branch taken, for
// launches and refusals alike.
func ShouldLaunch(candidates []*state.Session, remediationRunning bool) (bool, string) {
	if len(candidates) == 0 {
		return false, ReasonNoSessions
	}
	if remediationRunning {
		return false, ReasonAlreadyRunning
	}
	allWaitingUser := true
	anyOrders := false
	for _, c := range candidates {
		if c.Status != state.StatusWaitingUser {
			allWaitingUser = false
		}
		if c.StandingOrders != "" {
			anyOrders = true
		}
	}
	if allWaitingUser && !anyOrders {
		return false, ReasonWaitingUserNoOrders
	}
	if anyOrders {
		return true, ReasonWithInstructions
	}
	return true, ReasonNonUserBlocked
}

// ComposeContext builds the remediation agent's initial prompt:
// mission, one block per candidate, then the state-document epilogue.
func ComposeContext(mission string, candidates []*state.Session) string {
	if mission == "" {
		mission = defaultMission
	}
	var b strings.Builder
	b.WriteString(mission)
	b.WriteString("\n\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "%s %s (window %s)\n", Glyph(c.Status), c.Name, c.MultiplexerWindow)
		if c.StandingOrders != "" {
			fmt.Fprintf(&b, "   Autopilot: %s\n", c.StandingOrders)
		} else {
			b.WriteString("   Autopilot: No autopilot instructions set\n")
		}
		if c.Repo != "" {
			fmt.Fprintf(&b, "   Repo: %s\n", c.Repo)
		}
	}
	b.WriteString("\n")
	b.WriteString(stateDocEpilogue)
	return b.String()
}

// MatchIntervention scans one pane line against the known session
// names. A line counts as an intervention iff it contains "<name> - ",
// matches an action phrase, and matches no no-action phrase. Phrase
// matching is case-insensitive; name matching is exact.
func MatchIntervention(line string, names, actionPhrases, noActionPhrases []string) (string, bool) {
	lower := strings.ToLower(line)
	for _, phrase := range noActionPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return "", false
		}
	}
	action := false
	for _, phrase := range actionPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			action = true
			break
		}
	}
	if !action {
		return "", false
	}
	for _, name := range names {
		if name != "" && strings.Contains(line, name+" - ") {
			return name, true
		}
	}
	return "", false
}

// Options configures a Loop. Zero values select the defaults.
type Options struct {
	// MinLaunchInterval is the minimum gap between two remediation
	// launches, and the loop's own tick. Default 60s.
	MinLaunchInterval time.Duration
	// Mission overrides the built-in mission statement when non-empty.
	Mission string
	// ActionPhrases / NoActionPhrases drive intervention matching.
	ActionPhrases   []string
	NoActionPhrases []string
	// Command is the agent CLI to launch. Default launch.DefaultCommand.
	Command string
	// Permissiveness applies to the remediation agent's launch argv.
	Permissiveness state.Permissiveness
	// Directory is the working directory for the remediation window.
	Directory string

	// Wake delivers monitor-tick signals. Nil disables signal-driven
	// passes; the interval ticker still runs.
	Wake <-chan struct{}

	Recorder events.Recorder
	Log      io.Writer
}

// Loop is the supervisor task. Construct with New, call Run once.
// Stats is safe to call concurrently with Run.
type Loop struct {
	reg   *registry.Registry
	m     mux.Multiplexer
	group string

	minInterval time.Duration
	mission     string
	action      []string
	noAction    []string
	command     string
	perm        state.Permissiveness
	dir         string

	wake <-chan struct{}
	rec  events.Recorder
	log  io.Writer

	clock func() time.Time

	mu         sync.Mutex
	launches   int
	startedAt  *time.Time // remediation run in flight since
	totalRun   float64    // completed-run seconds
	lastLaunch time.Time
	trackID    string          // registry id of the live remediation session
	trackWin   string          // its window handle
	seenLines  map[string]bool // intervention lines already counted this run
}

// New returns a supervisor Loop over the registry and multiplexer group.
func New(reg *registry.Registry, m mux.Multiplexer, group string, opts Options) *Loop {
	if opts.MinLaunchInterval <= 0 {
		opts.MinLaunchInterval = 60 * time.Second
	}
	if len(opts.ActionPhrases) == 0 {
		opts.ActionPhrases = []string{"approved", "sent", "told", "instructed"}
	}
	if len(opts.NoActionPhrases) == 0 {
		opts.NoActionPhrases = []string{"no intervention needed"}
	}
	if opts.Command == "" {
		opts.Command = launch.DefaultCommand
	}
	if opts.Recorder == nil {
		opts.Recorder = events.Discard
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	return &Loop{
		reg:         reg,
		m:           m,
		group:       group,
		minInterval: opts.MinLaunchInterval,
		mission:     opts.Mission,
		action:      opts.ActionPhrases,
		noAction:    opts.NoActionPhrases,
		command:     opts.Command,
		perm:        opts.Permissiveness,
		dir:         opts.Directory,
		wake:        opts.Wake,
		rec:         opts.Recorder,
		log:         opts.Log,
		clock:       time.Now,
		seenLines:   make(map[string]bool),
	}
}

// Stats reports the remediation lifecycle counters for the state
// document: launches, the in-flight run's start (nil when idle), and
// the completed-run seconds. Readers fold the in-flight portion in via
// the run-seconds law.
func (l *Loop) Stats() (launches int, startedAt *time.Time, totalRunSeconds float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var started *time.Time
	if l.startedAt != nil {
		t := *l.startedAt
		started = &t
	}
	return l.launches, started, l.totalRun
}

// Run executes the supervisor loop until ctx is canceled. Each pass
// tracks the live remediation agent (if any) and then evaluates the
// launch decision. Launching during shutdown is forbidden; the final
// pass only settles run-seconds accounting.
func (l *Loop) Run(ctx context.Context) error {
	l.adopt()

	ticker := time.NewTicker(l.minInterval)
	defer ticker.Stop()

	l.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			l.settle()
			return ctx.Err()
		case <-ticker.C:
			l.pass(ctx)
		case _, ok := <-l.wake:
			if !ok {
				l.wake = nil // monitor gone; interval pace only
				continue
			}
			l.pass(ctx)
		}
	}
}

// adopt picks up a remediation agent left over from a previous daemon,
// so a restart neither double-launches nor loses its run accounting.
func (l *Loop) adopt() {
	s, err := l.reg.GetByName(AgentName)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	start := s.StartTime
	l.startedAt = &start
	l.lastLaunch = start
	l.trackID = s.ID
	l.trackWin = s.MultiplexerWindow
	fmt.Fprintf(l.log, "supervisor: adopted running %s (started %s)\n", AgentName, start.Format(time.RFC3339)) //nolint:errcheck // best-effort log
}

// pass is one supervisor evaluation: track, then maybe launch.
func (l *Loop) pass(ctx context.Context) {
	now := l.clock()
	l.track(ctx, now)

	sessions := l.reg.ListVisible(registry.Filter{})
	candidates := FilterCandidates(sessions)

	l.mu.Lock()
	running := l.trackID != ""
	last := l.lastLaunch
	l.mu.Unlock()

	ok, reason := ShouldLaunch(candidates, running)
	if !ok {
		return
	}
	if !last.IsZero() && now.Sub(last) < l.minInterval {
		return
	}
	if ctx.Err() != nil {
		return // shutting down
	}
	l.launchAgent(ctx, candidates, reason, now)
}

// launchAgent registers the remediation session, which opens its
// window and types the agent CLI invocation with the composed context
// as the initial prompt. The session carries DO_NOTHING orders so no
// later run tries to remediate a leftover overseer.
func (l *Loop) launchAgent(ctx context.Context, candidates []*state.Session, reason string, now time.Time) {
	prompt := ComposeContext(l.mission, candidates)
	argv := launch.Compose(l.command, l.perm, prompt)

	s, err := l.reg.Create(AgentName, argv, l.dir, registry.CreateOptions{
		Permissiveness: l.perm,
		StandingOrders: string(orders.DoNothing),
	})
	telemetry.RecordSupervisorLaunch(ctx, reason, err)
	if err != nil {
		fmt.Fprintf(l.log, "supervisor: launch failed: %v\n", err) //nolint:errcheck // best-effort log
		return
	}

	l.mu.Lock()
	l.launches++
	started := now
	l.startedAt = &started
	l.lastLaunch = now
	l.trackID = s.ID
	l.trackWin = s.MultiplexerWindow
	l.seenLines = make(map[string]bool)
	l.mu.Unlock()

	fmt.Fprintf(l.log, "supervisor: launched %s (%s, %d candidates)\n", s.Name, reason, len(candidates)) //nolint:errcheck // best-effort log
	l.rec.Record(events.Event{
		Type:    events.SupervisorLaunched,
		Actor:   "supervisor",
		Subject: s.Name,
		Message: fmt.Sprintf("launched for %d candidate(s): %s", len(candidates), reason),
	})
}

// track scrapes the live remediation agent's pane for intervention
// lines and ends the run when the agent has finished. A run is over
// when the session terminated, its window vanished, or it has settled
// non-green after the launch grace; the window is then torn down and
// the elapsed seconds fold into the total.
func (l *Loop) track(ctx context.Context, now time.Time) {
	l.mu.Lock()
	id := l.trackID
	win := l.trackWin
	started := l.startedAt
	l.mu.Unlock()
	if id == "" {
		return
	}

	s, err := l.reg.Get(id)
	switch {
	case err != nil || s.Terminated():
		l.finish(now, false)
		return
	case s.Status == state.StatusDone,
		!s.Status.Green() && started != nil && now.Sub(*started) >= endGrace:
		l.finish(now, true)
		return
	}

	pane, err := l.m.CapturePane(l.group, win, trackLines)
	if errors.Is(err, mux.ErrNotFound) {
		l.finish(now, false)
		return
	}
	if err != nil {
		return // transient; retry next pass
	}

	names := l.localNames()
	for _, line := range strings.Split(pane, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, ok := MatchIntervention(line, names, l.action, l.noAction)
		if !ok {
			continue
		}
		l.mu.Lock()
		counted := l.seenLines[line]
		if !counted {
			l.seenLines[line] = true
		}
		l.mu.Unlock()
		if counted {
			continue
		}
		if err := l.reg.BumpSteer(name); err != nil {
			continue
		}
		telemetry.RecordIntervention(ctx, name)
		fmt.Fprintf(l.log, "supervisor: intervention on %s: %s\n", name, line) //nolint:errcheck // best-effort log
		l.rec.Record(events.Event{
			Type:    events.Intervention,
			Actor:   AgentName,
			Subject: name,
			Message: line,
		})
	}
}

// finish closes out the current run: folds its seconds into the total
// and, when teardown is requested, terminates the session with its
// window so an idle overseer does not linger in the group.
func (l *Loop) finish(now time.Time, teardown bool) {
	l.mu.Lock()
	id := l.trackID
	l.totalRun = accum.RunSeconds(l.startedAt, now, l.totalRun)
	l.startedAt = nil
	l.trackID = ""
	l.trackWin = ""
	total, launches := l.totalRun, l.launches
	l.mu.Unlock()

	if teardown && id != "" {
		if err := l.reg.Terminate(id, true); err != nil && !errors.Is(err, registry.ErrNotFound) {
			fmt.Fprintf(l.log, "supervisor: tearing down %s: %v\n", AgentName, err) //nolint:errcheck // best-effort log
		}
	}
	fmt.Fprintf(l.log, "supervisor: %s finished (total %.0fs over %d launches)\n", AgentName, total, launches) //nolint:errcheck // best-effort log
}

// settle folds an in-flight run into the total at shutdown. The agent
// itself is left running; shutdown must not kill agents unasked.
func (l *Loop) settle() {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startedAt != nil {
		l.totalRun = accum.RunSeconds(l.startedAt, now, l.totalRun)
		l.startedAt = nil
		l.trackID = ""
		l.trackWin = ""
	}
}

// localNames lists the names of local, live sessions for intervention
// matching. The remediation agent itself is excluded.
func (l *Loop) localNames() []string {
	var names []string
	for _, s := range l.reg.ListVisible(registry.Filter{IncludeAsleep: true}) {
		if s.Remote() || s.Name == AgentName {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}
