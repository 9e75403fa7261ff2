// Package monitor runs the observation loop at the heart of the daemon:
// every tick it captures each local session's pane, classifies it,
// advances the accumulators, fires due heartbeats, rings the attention
// bell, and atomically publishes the MonitorState document that the
// CLI, web UI, federation peers, and hook receiver all read.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/overcode/internal/accum"
	"github.com/steveyegge/overcode/internal/classify"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/heartbeat"
	"github.com/steveyegge/overcode/internal/history"
	"github.com/steveyegge/overcode/internal/hookstate"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// maxWriteFailures is how many consecutive MonitorState write failures
// the loop tolerates. One more and Run gives up with ErrStateWrite; a
// state document nobody can read makes the whole system blind.
const maxWriteFailures = 3

// ErrStateWrite is returned by Run after maxWriteFailures consecutive
// failures to write the state document.
var ErrStateWrite = errors.New("monitor: state document unwritable")

// heartbeatUndeliverable is the activity recorded when a due heartbeat
// could not be delivered.
const heartbeatUndeliverable = "heartbeat undeliverable"

// Notifier dispatches the coalesced attention bell once per tick.
// notify.Notifier satisfies it.
type Notifier interface {
	Notify(names []string) error
}

// Archiver mirrors history rows to external storage. archive.Archive
// satisfies it. Insert failures are logged, never fatal.
type Archiver interface {
	Insert(rows []history.Row) error
}

// SupervisorStats reports the remediation-agent lifecycle counters for
// inclusion in MonitorState.
type SupervisorStats func() (launches int, startedAt *time.Time, totalRunSeconds float64)

// Options configures a Loop. Zero values select the defaults; the
// optional collaborators may all be nil.
type Options struct {
	Tick      time.Duration // default 5s
	ScanLines int           // default classify.DefaultScanLines
	Version   string

	Notifier   Notifier
	Archiver   Archiver
	Recorder   events.Recorder
	PeerStates func() map[string]state.PeerState
	Supervisor SupervisorStats
	Log        io.Writer
}

// Loop is the monitor task. Construct with New, then call Run once; the
// loop owns all session mutations except those arriving through the
// registry from the CLI and API, which serialize on the same registry.
// Loop itself is not safe for concurrent use.
type Loop struct {
	reg   *registry.Registry
	m     mux.Multiplexer
	fs    fsys.FS
	paths state.Paths
	group string

	tick    time.Duration
	scan    int
	version string

	hist     *history.Log
	hb       *heartbeat.Scheduler
	notifier Notifier
	arch     Archiver
	rec      events.Recorder
	peers    func() map[string]state.PeerState
	supStats SupervisorStats
	log      io.Writer
	clock    func() time.Time

	wake chan struct{}
	kick chan struct{}

	loopCount  int64
	startedAt  time.Time
	writeFails int

	belled     map[string]bool      // bell rung since entering waiting_user
	promptSeen map[string]time.Time // latest UserPromptSubmit per session
}

// New returns a Loop over the given registry and multiplexer group.
func New(reg *registry.Registry, m mux.Multiplexer, fs fsys.FS, paths state.Paths, group string, opts Options) *Loop {
	if opts.Tick <= 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.ScanLines <= 0 {
		opts.ScanLines = classify.DefaultScanLines
	}
	if opts.Recorder == nil {
		opts.Recorder = events.Discard
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	return &Loop{
		reg:        reg,
		m:          m,
		fs:         fs,
		paths:      paths,
		group:      group,
		tick:       opts.Tick,
		scan:       opts.ScanLines,
		version:    opts.Version,
		hist:       history.NewLog(fs, paths.History()),
		hb:         heartbeat.NewScheduler(fs, m, paths, group),
		notifier:   opts.Notifier,
		arch:       opts.Archiver,
		rec:        opts.Recorder,
		peers:      opts.PeerStates,
		supStats:   opts.Supervisor,
		log:        opts.Log,
		clock:      time.Now,
		wake:       make(chan struct{}, 1),
		kick:       make(chan struct{}, 1),
		belled:     make(map[string]bool),
		promptSeen: make(map[string]time.Time),
	}
}

// Wake is the supervisor's signal channel: one buffered notification
// per completed tick.
func (l *Loop) Wake() <-chan struct{} { return l.wake }

// Run ticks until ctx is canceled, then flushes the state document one
// final time. It returns non-nil only for the Fatal write condition.
func (l *Loop) Run(ctx context.Context) error {
	l.startedAt = l.clock()
	l.logf("monitor: started (tick %s, %d sessions)", l.tick, len(l.reg.ListVisible(registry.Filter{IncludeAsleep: true, IncludeDone: true})))

	if w := l.watchHooks(ctx); w != nil {
		defer w.Close() //nolint:errcheck // best-effort cleanup
	}

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	if err := l.safeTick(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			l.flush()
			l.logf("monitor: stopped after %d ticks", l.loopCount)
			return nil
		case <-ticker.C:
			if err := l.safeTick(); err != nil {
				return err
			}
		case <-l.kick:
			if err := l.safeTick(); err != nil {
				return err
			}
		}
	}
}

// safeTick runs one tick, converting a panic anywhere in the pipeline
// into a logged skip so a single bad pane never kills the loop.
func (l *Loop) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logf("monitor: tick %d panic: %v", l.loopCount, r)
		}
	}()
	return l.Tick(l.clock())
}

// Tick performs one observation pass. Steps, in order: peer snapshots,
// presence, per-session capture/classify/accumulate, attention bell,
// history append (+ archive mirror), atomic state write, supervisor
// signal.
func (l *Loop) Tick(now time.Time) error {
	l.loopCount++
	started := time.Now()

	var peers map[string]state.PeerState
	if l.peers != nil {
		peers = l.peers()
	}
	presence := l.readPresence(now)

	var rows []history.Row
	var waiting []string
	for _, s := range l.reg.ListVisible(registry.Filter{IncludeAsleep: true, IncludeDone: true}) {
		if s.Remote() || s.Terminated() {
			continue
		}
		row, newlyWaiting := l.observe(s, now)
		rows = append(rows, row)
		if newlyWaiting {
			waiting = append(waiting, s.Name)
		}
	}

	if l.notifier != nil && len(waiting) > 0 {
		if err := l.notifier.Notify(waiting); err != nil {
			l.logf("monitor: notify: %v", err)
		}
	}

	if len(rows) > 0 {
		if err := l.hist.Append(rows); err != nil {
			l.logf("monitor: history: %v", err)
		}
		if l.arch != nil {
			if err := l.arch.Insert(rows); err != nil {
				l.logf("monitor: archive: %v", err)
			}
		}
	}

	if err := l.writeState(presence, peers); err != nil {
		l.writeFails++
		l.logf("monitor: writing state (%d/%d): %v", l.writeFails, maxWriteFailures, err)
		if l.writeFails >= maxWriteFailures {
			return fmt.Errorf("%w: %v", ErrStateWrite, err)
		}
	} else {
		l.writeFails = 0
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}

	telemetry.RecordMonitorTick(context.Background(), l.loopCount, len(rows), float64(time.Since(started).Milliseconds()))
	return nil
}

// observe runs the capture → classify → accumulate pipeline for one
// local session and reports whether it newly entered waiting_user.
func (l *Loop) observe(s *state.Session, now time.Time) (history.Row, bool) {
	name := s.Name

	if s.IsAsleep {
		if err := l.reg.UpdateStatus(s.ID, state.StatusAsleep, s.Activity, now); err != nil {
			l.logf("monitor: %s: %v", name, err)
		}
		delete(l.belled, name)
		return history.Row{Timestamp: now, Agent: name, Status: state.StatusAsleep, Activity: s.Activity}, false
	}

	res, lines := l.classifySession(s, now)

	if bashes, child := classify.StatusBar(lines); bashes != s.BackgroundProcs || child != s.ChildRunning {
		if err := l.reg.SetStatusBar(s.ID, bashes, child); err != nil {
			l.logf("monitor: %s: %v", name, err)
		}
	}

	prev := s.Status
	if res.Status == state.StatusTerminated {
		if err := l.reg.Terminate(s.ID, false); err != nil {
			l.logf("monitor: %s: %v", name, err)
		}
	} else if err := l.reg.UpdateStatus(s.ID, res.Status, res.Activity, now); err != nil {
		l.logf("monitor: %s: %v", name, err)
	}

	cur, err := l.reg.Get(s.ID)
	if err != nil {
		return history.Row{Timestamp: now, Agent: name, Status: res.Status, Activity: res.Activity}, false
	}

	l.applyHeartbeat(cur, now)
	l.applyBudget(cur)

	newlyWaiting := false
	if res.Status == state.StatusWaitingUser {
		if prev != state.StatusWaitingUser && !l.belled[name] {
			l.belled[name] = true
			newlyWaiting = true
		}
	} else {
		delete(l.belled, name)
	}

	// Re-read so the history row reflects heartbeat and budget changes.
	if final, err := l.reg.Get(s.ID); err == nil {
		cur = final
	}
	return history.Row{Timestamp: now, Agent: name, Status: cur.Status, Activity: cur.Activity}, newlyWaiting
}

// classifySession captures the pane and derives (status, activity). The
// polling table always runs; when the session has hook detection on and
// a recognizable lifecycle event exists, the hook verdict overrides the
// polled status.
func (l *Loop) classifySession(s *state.Session, now time.Time) (classify.Result, []string) {
	text, err := l.m.CapturePane(l.group, s.MultiplexerWindow, l.scan)
	if err != nil && !errors.Is(err, mux.ErrNotFound) {
		l.logf("monitor: capturing %s: %v", s.Name, err)
	}
	lines := strings.Split(text, "\n")

	prevAge := now.Sub(s.Stats.LastAccumulationTime)
	res := classify.Poll(lines, s.Status, prevAge, classify.Options{ScanLines: l.scan})

	if s.HookDetection {
		if rec := hookstate.Read(l.fs, l.paths, s.Name); rec != nil {
			if st, ok := classify.FromHook(rec.Event); ok {
				res.Status = st
			}
			l.noteHook(s, rec, now)
		}
	}

	// Sticky display states: done survives plain idling, and a session
	// working off a heartbeat stays running_heartbeat while green.
	if s.Status == state.StatusDone && res.Status == state.StatusWaitingUser {
		res.Status = state.StatusDone
	}
	if s.Status == state.StatusRunningHeartbeat && res.Status == state.StatusRunning {
		res.Status = state.StatusRunningHeartbeat
	}
	return res, lines
}

// noteHook folds fresh hook activity into the session: a new
// UserPromptSubmit bumps interaction_count, reports token usage, and
// counts as a visit for bell purposes.
func (l *Loop) noteHook(s *state.Session, rec *hookstate.Record, now time.Time) {
	if rec.Event != hookstate.EventUserPromptSubmit {
		if rec.Usage != nil {
			l.reportUsage(s, rec.Usage)
		}
		return
	}
	if !rec.Timestamp.After(l.promptSeen[s.Name]) {
		return
	}
	l.promptSeen[s.Name] = rec.Timestamp
	delete(l.belled, s.Name)
	if err := l.reg.BumpInteraction(s.ID); err != nil {
		l.logf("monitor: %s: %v", s.Name, err)
	}
	if rec.Usage != nil {
		l.reportUsage(s, rec.Usage)
	}
}

func (l *Loop) reportUsage(s *state.Session, u *hookstate.Usage) {
	if u.InputTokens == s.Stats.InputTokens && u.OutputTokens == s.Stats.OutputTokens &&
		u.CacheWriteTokens == s.Stats.CacheWriteTokens && u.CacheReadTokens == s.Stats.CacheReadTokens {
		return
	}
	if err := l.reg.UpdateTokens(s.ID, u.InputTokens, u.OutputTokens, u.CacheWriteTokens, u.CacheReadTokens); err != nil {
		l.logf("monitor: %s: %v", s.Name, err)
	}
}

// applyHeartbeat fires a due heartbeat. Delivery marks the session
// running_heartbeat; an undeliverable heartbeat parks it in
// waiting_heartbeat until the schedule comes due again.
func (l *Loop) applyHeartbeat(s *state.Session, now time.Time) {
	if !heartbeat.Due(s, now) {
		return
	}
	if err := l.hb.Fire(s, now); err != nil {
		l.logf("monitor: heartbeat %s: %v", s.Name, err)
		telemetry.RecordHeartbeat(context.Background(), s.Name, err)
		if err := l.reg.UpdateStatus(s.ID, state.StatusWaitingHeartbeat, heartbeatUndeliverable, now); err != nil {
			l.logf("monitor: %s: %v", s.Name, err)
		}
		return
	}
	if err := l.reg.MarkHeartbeatFired(s.ID, now); err != nil {
		l.logf("monitor: %s: %v", s.Name, err)
		return
	}
	telemetry.RecordHeartbeat(context.Background(), s.Name, nil)
	l.rec.Record(events.Event{Type: events.HeartbeatFired, Actor: "monitor", Subject: s.Name})
}

// applyBudget maintains the budget_exceeded flag and records the
// rising edge.
func (l *Loop) applyBudget(s *state.Session) {
	if s.CostBudget == nil {
		if s.BudgetExceeded {
			if err := l.reg.SetBudgetExceeded(s.ID, false); err != nil {
				l.logf("monitor: %s: %v", s.Name, err)
			}
		}
		return
	}
	exceeded := s.Stats.EstimatedCostUSD > *s.CostBudget
	if exceeded == s.BudgetExceeded {
		return
	}
	if err := l.reg.SetBudgetExceeded(s.ID, exceeded); err != nil {
		l.logf("monitor: %s: %v", s.Name, err)
		return
	}
	if exceeded {
		msg := fmt.Sprintf("$%.2f spent of $%.2f budget", s.Stats.EstimatedCostUSD, *s.CostBudget)
		l.rec.Record(events.Event{Type: events.BudgetExceeded, Actor: "monitor", Subject: s.Name, Message: msg})
		telemetry.RecordBudgetExceeded(context.Background(), s.Name, s.Stats.EstimatedCostUSD, *s.CostBudget)
	}
}

// writeState atomically replaces the MonitorState document.
func (l *Loop) writeState(presence string, peers map[string]state.PeerState) error {
	sessions := l.reg.ListVisible(registry.Filter{IncludeAsleep: true, IncludeDone: true})
	ms := state.MonitorState{
		LoopCount:           l.loopCount,
		TickIntervalSeconds: l.tick.Seconds(),
		StartedAt:           l.startedAt,
		DaemonVersion:       l.version,
		Presence:            presence,
		Aggregate:           accum.Aggregate(sessions),
		Peers:               peers,
	}
	ms.Agents = make([]state.AgentSnapshot, 0, len(sessions))
	for _, s := range sessions {
		ms.Agents = append(ms.Agents, state.Snapshot(s))
	}
	if l.supStats != nil {
		ms.SupervisorLaunches, ms.SupervisorClaudeStartedAt, ms.SupervisorClaudeTotalRunSeconds = l.supStats()
	}
	return state.SaveJSON(l.fs, l.paths.MonitorState(), ms)
}

// flush writes the state document once more on shutdown.
func (l *Loop) flush() {
	var peers map[string]state.PeerState
	if l.peers != nil {
		peers = l.peers()
	}
	if err := l.writeState(l.readPresence(l.clock()), peers); err != nil {
		l.logf("monitor: final flush: %v", err)
	}
}

// readPresence maps the sensor log onto the state document's presence
// field. A missing log means no sensor is deployed; that is reported as
// an empty string so downstream consumers omit the field.
func (l *Loop) readPresence(now time.Time) string {
	if _, err := l.fs.Stat(l.paths.Presence()); err != nil {
		return ""
	}
	return string(history.ReadPresence(l.fs, l.paths.Presence(), now, l.tick))
}

// watchHooks wakes the loop early when a hook receiver writes state, so
// a prompt submission is reflected before the next scheduled tick.
// fsnotify failures degrade to plain ticking.
func (l *Loop) watchHooks(ctx context.Context) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.logf("monitor: hook watch: %v", err)
		return nil
	}
	if err := w.Add(l.paths.GroupDir()); err != nil {
		l.logf("monitor: hook watch: %v", err)
		w.Close() //nolint:errcheck // already degrading
		return nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				base := filepath.Base(ev.Name)
				if !strings.HasPrefix(base, "hook_state_") || !strings.HasSuffix(base, ".json") {
					continue
				}
				select {
				case l.kick <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logf("monitor: hook watch: %v", err)
			}
		}
	}()
	return w
}

func (l *Loop) logf(format string, args ...any) {
	fmt.Fprintf(l.log, format+"\n", args...) //nolint:errcheck // best-effort log
}
