package state

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func testSession(now time.Time) *Session {
	budget := 5.0
	term := now.Add(time.Hour)
	return &Session{
		ID:                "a1b2c3",
		Name:              "acme",
		Host:              "local",
		MultiplexerWindow: "@7",
		WorkingDirectory:  "/work/acme",
		Repo:              "acme",
		Branch:            "main",
		Command:           []string{"claude", "--continue"},
		StartTime:         now,
		Status:            StatusRunning,
		StandingOrders:    "keep the tests green",
		Permissiveness:    PermPermissive,
		AgentValue:        3,
		CostBudget:        &budget,
		Annotation:        "pilot fleet",
		TerminatedAt:      &term,
		Heartbeat: &Heartbeat{
			IntervalSeconds: 900,
			LastFired:       now,
			Instruction:     "continue",
		},
		Stats: Stats{
			CurrentState:         StatusRunning,
			StateSince:           now,
			LastAccumulationTime: now,
			GreenSeconds:         12.5,
			NonGreenSeconds:      3,
			InputTokens:          1000,
			OutputTokens:         400,
			TotalTokens:          1400,
			EstimatedCostUSD:     0.045,
			InteractionCount:     2,
			WorkDurations:        []float64{30, 45, 60},
			MedianWorkSeconds:    45,
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	// Serialize-then-parse must reproduce the original record.
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	orig := testSession(now)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, &got) {
		t.Errorf("round trip mismatch:\n  orig: %+v\n  got:  %+v", orig, &got)
	}
}

func TestSessionClone(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	orig := testSession(now)
	cp := orig.Clone()

	if !reflect.DeepEqual(orig, cp) {
		t.Fatal("clone differs from original")
	}

	// Mutating the clone must not touch the original.
	cp.Command[0] = "other"
	*cp.CostBudget = 99
	cp.Heartbeat.Paused = true
	cp.Stats.WorkDurations[0] = 0

	if orig.Command[0] != "claude" {
		t.Error("Command aliased between clone and original")
	}
	if *orig.CostBudget != 5.0 {
		t.Error("CostBudget aliased between clone and original")
	}
	if orig.Heartbeat.Paused {
		t.Error("Heartbeat aliased between clone and original")
	}
	if orig.Stats.WorkDurations[0] != 30 {
		t.Error("WorkDurations aliased between clone and original")
	}
}

func TestRemoteID(t *testing.T) {
	if got := RemoteID("east", "x"); got != "remote:east:x" {
		t.Errorf("RemoteID = %q, want %q", got, "remote:east:x")
	}
}

func TestSessionRemote(t *testing.T) {
	local := &Session{ID: "a1b2c3"}
	if local.Remote() {
		t.Error("local session reported remote")
	}
	remote := &Session{ID: RemoteID("east", "x")}
	if !remote.Remote() {
		t.Error("remote-prefixed id not reported remote")
	}
	flagged := &Session{ID: "weird", IsRemote: true}
	if !flagged.Remote() {
		t.Error("IsRemote flag not honored")
	}
}

func TestRecordWorkDurationBounded(t *testing.T) {
	var st Stats
	for i := 0; i < maxWorkDurations+10; i++ {
		st.RecordWorkDuration(float64(i))
	}
	if len(st.WorkDurations) != maxWorkDurations {
		t.Fatalf("len(WorkDurations) = %d, want %d", len(st.WorkDurations), maxWorkDurations)
	}
	// Oldest samples are discarded first.
	if st.WorkDurations[0] != 10 {
		t.Errorf("WorkDurations[0] = %v, want 10", st.WorkDurations[0])
	}
}

func TestSnapshotProjection(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	s := testSession(now)
	s.BudgetExceeded = true
	s.BackgroundProcs = 2

	snap := Snapshot(s)

	if snap.Name != "acme" || snap.Status != StatusRunning {
		t.Errorf("snapshot identity fields wrong: %+v", snap)
	}
	if !snap.BudgetExceeded || snap.CostBudget == nil || *snap.CostBudget != 5.0 {
		t.Error("budget fields not projected")
	}
	if snap.GreenSeconds != 12.5 || snap.TotalTokens != 1400 {
		t.Error("stats fields not projected")
	}
	if snap.BackgroundProcs != 2 {
		t.Error("status-bar fields not projected")
	}

	// Snapshot must not alias the session's pointers.
	*snap.CostBudget = 100
	if *s.CostBudget != 5.0 {
		t.Error("CostBudget aliased into snapshot")
	}
}

func TestFindAgent(t *testing.T) {
	m := MonitorState{Agents: []AgentSnapshot{{Name: "a"}, {Name: "b"}}}
	if got := m.FindAgent("b"); got == nil || got.Name != "b" {
		t.Errorf("FindAgent(b) = %+v", got)
	}
	if got := m.FindAgent("zzz"); got != nil {
		t.Errorf("FindAgent(zzz) = %+v, want nil", got)
	}
}
