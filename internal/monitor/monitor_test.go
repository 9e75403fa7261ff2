package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/overcode/internal/accum"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/history"
	"github.com/steveyegge/overcode/internal/hookstate"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
)

const paneThinking = "✽ Thinking deeply about the problem…"
const paneIdle = "some earlier output\n> "

type notifySpy struct {
	calls [][]string
	err   error
}

func (n *notifySpy) Notify(names []string) error {
	n.calls = append(n.calls, append([]string(nil), names...))
	return n.err
}

type archiveSpy struct {
	rows []history.Row
	err  error
}

func (a *archiveSpy) Insert(rows []history.Row) error {
	a.rows = append(a.rows, rows...)
	return a.err
}

func newTestLoop(t *testing.T, opts Options) (*Loop, *registry.Registry, *mux.Fake, *fsys.Fake) {
	t.Helper()
	fs := fsys.NewFake()
	m := mux.NewFake()
	paths := state.NewPaths("/state", "agents")
	reg := registry.New(fs, m, paths, "agents", "local", accum.DefaultPrices())
	if opts.Tick == 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "test"
	}
	l := New(reg, m, fs, paths, "agents", opts)
	return l, reg, m, fs
}

func mustCreate(t *testing.T, reg *registry.Registry, name string, opts registry.CreateOptions) *state.Session {
	t.Helper()
	s, err := reg.Create(name, []string{"claude"}, "/work/"+name, opts)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	return s
}

func loadState(t *testing.T, l *Loop) state.MonitorState {
	t.Helper()
	var ms state.MonitorState
	if err := state.LoadJSON(l.fs, l.paths.MonitorState(), &ms); err != nil {
		t.Fatalf("loading monitor state: %v", err)
	}
	return ms
}

func TestTickClassifiesAndWritesState(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}

	ms := loadState(t, l)
	if ms.LoopCount != 1 {
		t.Errorf("LoopCount = %d, want 1", ms.LoopCount)
	}
	if ms.TickIntervalSeconds != 5 {
		t.Errorf("TickIntervalSeconds = %v, want 5", ms.TickIntervalSeconds)
	}
	if ms.DaemonVersion != "test" {
		t.Errorf("DaemonVersion = %q", ms.DaemonVersion)
	}
	if len(ms.Agents) != 1 || ms.Agents[0].Name != "acme" {
		t.Fatalf("Agents = %+v, want one acme snapshot", ms.Agents)
	}
	if ms.Agents[0].Status != state.StatusRunning {
		t.Errorf("snapshot status = %s, want running", ms.Agents[0].Status)
	}
	if ms.Aggregate.GreenCount != 1 {
		t.Errorf("Aggregate.GreenCount = %d, want 1", ms.Aggregate.GreenCount)
	}

	select {
	case <-l.Wake():
	default:
		t.Error("tick did not signal the supervisor")
	}
}

func TestTickAccumulatesGreenTime(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Stats.GreenSeconds <= 0 {
		t.Errorf("GreenSeconds = %v, want > 0", got.Stats.GreenSeconds)
	}
	if got.Stats.NonGreenSeconds != 0 {
		t.Errorf("NonGreenSeconds = %v, want 0", got.Stats.NonGreenSeconds)
	}
}

func TestBellRingsOncePerTransition(t *testing.T) {
	spy := &notifySpy{}
	l, reg, m, _ := newTestLoop(t, Options{Notifier: spy})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})

	now := time.Now()
	m.SetPane("agents", s.MultiplexerWindow, paneIdle)
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if len(spy.calls) != 1 || spy.calls[0][0] != "acme" {
		t.Fatalf("calls after first wait = %v, want [[acme]]", spy.calls)
	}

	// Still waiting: no re-ring.
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("bell re-rang without a transition: %v", spy.calls)
	}

	// Back to work, then waiting again: fresh transition, fresh bell.
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)
	if err := l.Tick(now.Add(15 * time.Second)); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	m.SetPane("agents", s.MultiplexerWindow, paneIdle)
	if err := l.Tick(now.Add(20 * time.Second)); err != nil {
		t.Fatalf("tick 4: %v", err)
	}
	if len(spy.calls) != 2 {
		t.Errorf("calls = %v, want two bells", spy.calls)
	}
}

func TestBellCoalescesAgentsIntoOneNotification(t *testing.T) {
	spy := &notifySpy{}
	l, reg, m, _ := newTestLoop(t, Options{Notifier: spy})
	a := mustCreate(t, reg, "acme", registry.CreateOptions{})
	b := mustCreate(t, reg, "beta", registry.CreateOptions{})
	m.SetPane("agents", a.MultiplexerWindow, paneIdle)
	m.SetPane("agents", b.MultiplexerWindow, paneIdle)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("calls = %v, want one coalesced notification", spy.calls)
	}
	if len(spy.calls[0]) != 2 || spy.calls[0][0] != "acme" || spy.calls[0][1] != "beta" {
		t.Errorf("notified %v, want [acme beta]", spy.calls[0])
	}
}

func TestNotifierErrorDoesNotStopTick(t *testing.T) {
	var log bytes.Buffer
	spy := &notifySpy{err: errors.New("bell broken")}
	l, reg, m, _ := newTestLoop(t, Options{Notifier: spy, Log: &log})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneIdle)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !strings.Contains(log.String(), "bell broken") {
		t.Errorf("notify failure not logged: %q", log.String())
	}
}

func TestHookOverridesPolledStatus(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{HookDetection: true})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	rec := hookstate.Record{Event: hookstate.EventStop, Timestamp: now}
	if err := state.SaveJSON(fs, l.paths.HookState("acme"), rec); err != nil {
		t.Fatalf("seeding hook state: %v", err)
	}

	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusWaitingUser {
		t.Errorf("Status = %s, want waiting_user from Stop hook", got.Status)
	}
	// Activity still comes from the pane scrape.
	if !strings.Contains(got.Activity, "Thinking") {
		t.Errorf("Activity = %q, want polled text", got.Activity)
	}
}

func TestHookIgnoredWithoutDetection(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	rec := hookstate.Record{Event: hookstate.EventStop, Timestamp: now}
	if err := state.SaveJSON(fs, l.paths.HookState("acme"), rec); err != nil {
		t.Fatalf("seeding hook state: %v", err)
	}

	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusRunning {
		t.Errorf("Status = %s, want polled running", got.Status)
	}
}

func TestHookSessionEndTerminates(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{HookDetection: true})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	rec := hookstate.Record{Event: hookstate.EventSessionEnd, Timestamp: now}
	if err := state.SaveJSON(fs, l.paths.HookState("acme"), rec); err != nil {
		t.Fatalf("seeding hook state: %v", err)
	}
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if !got.Terminated() || got.TerminatedAt == nil {
		t.Fatal("SessionEnd hook did not terminate the session")
	}

	// Tombstones drop out of the walk and the state document.
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if ms := loadState(t, l); len(ms.Agents) != 0 {
		t.Errorf("Agents = %+v, want tombstone excluded", ms.Agents)
	}
}

func TestHookPromptBumpsInteractionOnce(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{HookDetection: true})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	rec := hookstate.Record{
		Event:     hookstate.EventUserPromptSubmit,
		Timestamp: now,
		Usage:     &hookstate.Usage{InputTokens: 1200, OutputTokens: 400},
	}
	if err := state.SaveJSON(fs, l.paths.HookState("acme"), rec); err != nil {
		t.Fatalf("seeding hook state: %v", err)
	}

	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Stats.InteractionCount != 1 {
		t.Errorf("InteractionCount = %d, want 1 for one prompt seen twice", got.Stats.InteractionCount)
	}
	if got.Stats.InputTokens != 1200 || got.Stats.OutputTokens != 400 {
		t.Errorf("tokens = %d/%d, want 1200/400", got.Stats.InputTokens, got.Stats.OutputTokens)
	}
}

func TestBudgetFlagFollowsCostWithEventOnRisingEdge(t *testing.T) {
	rec := events.NewFake()
	l, reg, m, _ := newTestLoop(t, Options{Recorder: rec})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	if err := reg.SetBudget(s.ID, 1.00); err != nil {
		t.Fatalf("SetBudget failed: %v", err)
	}
	// 1M input tokens at default prices is well past a $1 budget.
	if err := reg.UpdateTokens(s.ID, 1_000_000, 0, 0, 0); err != nil {
		t.Fatalf("UpdateTokens failed: %v", err)
	}

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	got, _ := reg.Get(s.ID)
	if !got.BudgetExceeded {
		t.Fatal("BudgetExceeded not set")
	}
	evs, err := rec.List(events.Filter{Type: events.BudgetExceeded})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(evs) != 1 || evs[0].Subject != "acme" {
		t.Fatalf("events = %+v, want one budget.exceeded for acme", evs)
	}
	if !strings.Contains(evs[0].Message, "$1.00 budget") {
		t.Errorf("event message = %q", evs[0].Message)
	}

	// Steady state: no second event.
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	evs, _ = rec.List(events.Filter{Type: events.BudgetExceeded})
	if len(evs) != 1 {
		t.Errorf("budget event re-recorded on steady state: %d events", len(evs))
	}

	// Raising the budget clears the flag silently.
	if err := reg.SetBudget(s.ID, 100.00); err != nil {
		t.Fatalf("SetBudget failed: %v", err)
	}
	if err := l.Tick(now.Add(15 * time.Second)); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	got, _ = reg.Get(s.ID)
	if got.BudgetExceeded {
		t.Error("BudgetExceeded still set after budget raise")
	}
	evs, _ = rec.List(events.Filter{Type: events.BudgetExceeded})
	if len(evs) != 1 {
		t.Errorf("falling edge recorded an event: %d events", len(evs))
	}
}

func TestHeartbeatFiresWhenDue(t *testing.T) {
	rec := events.NewFake()
	l, reg, m, _ := newTestLoop(t, Options{Recorder: rec})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneIdle)

	if err := reg.SetHeartbeat(s.ID, true, 300, "report progress"); err != nil {
		t.Fatalf("SetHeartbeat failed: %v", err)
	}

	now := time.Now()
	tick1 := now.Add(5 * time.Second)
	if err := l.Tick(tick1); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusRunningHeartbeat {
		t.Errorf("Status = %s, want running_heartbeat", got.Status)
	}
	if got.Heartbeat.LastFired.IsZero() {
		t.Error("LastFired not stamped")
	}
	if typed := m.Sent["agents:"+s.MultiplexerWindow]; !strings.Contains(typed, "report progress") {
		t.Errorf("instruction not delivered: %q", typed)
	}
	evs, _ := rec.List(events.Filter{Type: events.HeartbeatFired})
	if len(evs) != 1 {
		t.Errorf("heartbeat events = %d, want 1", len(evs))
	}

	// While the pane shows plain activity the heartbeat state sticks.
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	got, _ = reg.Get(s.ID)
	if got.Status != state.StatusRunningHeartbeat {
		t.Errorf("Status = %s, want sticky running_heartbeat", got.Status)
	}
}

func TestHeartbeatUndeliverableParksSession(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	if err := reg.SetHeartbeat(s.ID, true, 300, "report progress"); err != nil {
		t.Fatalf("SetHeartbeat failed: %v", err)
	}
	// Window vanished out-of-band: capture misses and delivery fails.
	if err := m.KillWindow("agents", s.MultiplexerWindow); err != nil {
		t.Fatalf("setup kill: %v", err)
	}

	// 15s later the running status is stale, so the empty pane reads as
	// waiting_user, which makes the never-fired heartbeat due.
	if err := l.Tick(time.Now().Add(15 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusWaitingHeartbeat {
		t.Errorf("Status = %s, want waiting_heartbeat", got.Status)
	}
	if got.Activity != "heartbeat undeliverable" {
		t.Errorf("Activity = %q", got.Activity)
	}
}

func TestDoneSurvivesIdlePane(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{StandingOrders: "ship the release"})
	if err := reg.MarkOrdersComplete(s.ID); err != nil {
		t.Fatalf("MarkOrdersComplete failed: %v", err)
	}
	m.SetPane("agents", s.MultiplexerWindow, paneIdle)

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	got, _ := reg.Get(s.ID)
	if got.Status != state.StatusDone {
		t.Errorf("Status = %s, want done to survive an idle pane", got.Status)
	}

	// Fresh activity reclassifies.
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	got, _ = reg.Get(s.ID)
	if got.Status != state.StatusRunning {
		t.Errorf("Status = %s, want running after new activity", got.Status)
	}
}

func TestAsleepAccumulatesSleepWithoutCapture(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	if err := reg.SetSleep(s.ID, true); err != nil {
		t.Fatalf("SetSleep failed: %v", err)
	}

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	got, _ := reg.Get(s.ID)
	if got.Stats.SleepSeconds <= 0 {
		t.Errorf("SleepSeconds = %v, want > 0", got.Stats.SleepSeconds)
	}
	for _, c := range m.Calls {
		if c.Method == "CapturePane" {
			t.Fatalf("asleep session's pane was captured: %+v", c)
		}
	}
	ms := loadState(t, l)
	if len(ms.Agents) != 1 || !ms.Agents[0].IsAsleep {
		t.Errorf("asleep agent missing from state document: %+v", ms.Agents)
	}
}

func TestStateWriteFailuresBecomeFatalAtThree(t *testing.T) {
	var log bytes.Buffer
	l, _, _, fs := newTestLoop(t, Options{Log: &log})
	tmp := l.paths.MonitorState() + ".tmp"
	fs.Errors[tmp] = errors.New("disk full")

	now := time.Now()
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1 should tolerate a write failure: %v", err)
	}
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2 should tolerate a write failure: %v", err)
	}
	err := l.Tick(now.Add(15 * time.Second))
	if !errors.Is(err, ErrStateWrite) {
		t.Fatalf("tick 3 error = %v, want ErrStateWrite", err)
	}
	if !strings.Contains(log.String(), "disk full") {
		t.Errorf("write failures not logged: %q", log.String())
	}
}

func TestStateWriteSuccessResetsFailureCount(t *testing.T) {
	l, _, _, fs := newTestLoop(t, Options{})
	tmp := l.paths.MonitorState() + ".tmp"

	now := time.Now()
	fs.Errors[tmp] = errors.New("disk full")
	_ = l.Tick(now.Add(5 * time.Second))
	_ = l.Tick(now.Add(10 * time.Second))

	delete(fs.Errors, tmp)
	if err := l.Tick(now.Add(15 * time.Second)); err != nil {
		t.Fatalf("recovery tick failed: %v", err)
	}

	fs.Errors[tmp] = errors.New("disk full")
	if err := l.Tick(now.Add(20 * time.Second)); err != nil {
		t.Errorf("failure right after recovery should not be fatal: %v", err)
	}
}

func TestPresenceFlowsIntoState(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	fs.Files["/state/presence_log.csv"] = []byte(now.Format(time.RFC3339) + ",3\n")
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if ms := loadState(t, l); ms.Presence != "active" {
		t.Errorf("Presence = %q, want active", ms.Presence)
	}

	// A stale sensor row degrades to unknown rather than vanishing.
	fs.Files["/state/presence_log.csv"] = []byte(now.Add(-time.Hour).Format(time.RFC3339) + ",3\n")
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if ms := loadState(t, l); ms.Presence != "unknown" {
		t.Errorf("Presence = %q, want unknown for stale log", ms.Presence)
	}
}

func TestPresenceOmittedWithoutSensor(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if ms := loadState(t, l); ms.Presence != "" {
		t.Errorf("Presence = %q, want empty when no sensor log exists", ms.Presence)
	}
}

func TestPeersAndSupervisorCountersIncluded(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	opts := Options{
		PeerStates: func() map[string]state.PeerState {
			return map[string]state.PeerState{
				"gpu-box": {Name: "gpu-box", URL: "http://gpu:7633", Reachable: true, SessionCount: 4},
			}
		},
		Supervisor: func() (int, *time.Time, float64) {
			return 3, &started, 42.5
		},
	}
	l, reg, m, _ := newTestLoop(t, opts)
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	ms := loadState(t, l)
	peer, ok := ms.Peers["gpu-box"]
	if !ok || !peer.Reachable || peer.SessionCount != 4 {
		t.Errorf("Peers = %+v", ms.Peers)
	}
	if ms.SupervisorLaunches != 3 {
		t.Errorf("SupervisorLaunches = %d, want 3", ms.SupervisorLaunches)
	}
	if ms.SupervisorClaudeTotalRunSeconds != 42.5 {
		t.Errorf("SupervisorClaudeTotalRunSeconds = %v", ms.SupervisorClaudeTotalRunSeconds)
	}
	if ms.SupervisorClaudeStartedAt == nil {
		t.Error("SupervisorClaudeStartedAt missing")
	}
}

func TestHistoryRowsAppendedEachTick(t *testing.T) {
	l, reg, m, fs := newTestLoop(t, Options{})
	a := mustCreate(t, reg, "acme", registry.CreateOptions{})
	b := mustCreate(t, reg, "beta", registry.CreateOptions{})
	m.SetPane("agents", a.MultiplexerWindow, paneThinking)
	m.SetPane("agents", b.MultiplexerWindow, paneIdle)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	csv := string(fs.Files[l.paths.History()])
	if !strings.Contains(csv, "acme,running") {
		t.Errorf("history missing acme row: %q", csv)
	}
	if !strings.Contains(csv, "beta,waiting_user") {
		t.Errorf("history missing beta row: %q", csv)
	}
}

func TestArchiveMirrorsHistoryRows(t *testing.T) {
	spy := &archiveSpy{}
	l, reg, m, _ := newTestLoop(t, Options{Archiver: spy})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(spy.rows) != 1 || spy.rows[0].Agent != "acme" {
		t.Errorf("archived rows = %+v, want one acme row", spy.rows)
	}
}

func TestArchiveErrorDoesNotStopTick(t *testing.T) {
	var log bytes.Buffer
	spy := &archiveSpy{err: errors.New("dial tcp: refused")}
	l, reg, m, _ := newTestLoop(t, Options{Archiver: spy, Log: &log})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	if err := l.Tick(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !strings.Contains(log.String(), "archive") {
		t.Errorf("archive failure not logged: %q", log.String())
	}
}

func TestTickPanicIsContained(t *testing.T) {
	var log bytes.Buffer
	opts := Options{
		Log:        &log,
		PeerStates: func() map[string]state.PeerState { panic("peer seam exploded") },
	}
	l, _, _, _ := newTestLoop(t, opts)

	if err := l.safeTick(); err != nil {
		t.Fatalf("safeTick propagated: %v", err)
	}
	if !strings.Contains(log.String(), "panic") || !strings.Contains(log.String(), "peer seam exploded") {
		t.Errorf("panic not logged: %q", log.String())
	}
}

func TestWakeSignalIsNonBlocking(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	now := time.Now()
	// Nobody draining the channel: both ticks must complete.
	if err := l.Tick(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := l.Tick(now.Add(10 * time.Second)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	select {
	case <-l.Wake():
	default:
		t.Fatal("no wake signal pending")
	}
	select {
	case <-l.Wake():
		t.Fatal("wake channel held more than one pending signal")
	default:
	}
}

func TestRunFlushesOnCancel(t *testing.T) {
	l, reg, m, _ := newTestLoop(t, Options{Tick: 10 * time.Millisecond})
	s := mustCreate(t, reg, "acme", registry.CreateOptions{})
	m.SetPane("agents", s.MultiplexerWindow, paneThinking)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	ms := loadState(t, l)
	if ms.LoopCount < 1 {
		t.Errorf("LoopCount = %d, want at least one tick", ms.LoopCount)
	}
	if ms.StartedAt.IsZero() {
		t.Error("StartedAt not stamped by Run")
	}
}

func TestRunStopsWhenStateUnwritable(t *testing.T) {
	l, _, _, fs := newTestLoop(t, Options{Tick: 5 * time.Millisecond})
	fs.Errors[l.paths.MonitorState()+".tmp"] = errors.New("disk full")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStateWrite) {
			t.Fatalf("Run returned %v, want ErrStateWrite", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going with an unwritable state document")
	}
}
