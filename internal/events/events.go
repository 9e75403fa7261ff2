// Package events is the append-only journal of Overcode happenings.
//
// Events are simple, synchronous records of what the daemons did. The
// recorder writes JSON lines to <state_dir>/<group>/events.jsonl; the
// reader scans them back. Recording is best-effort: errors are logged
// to stderr but never returned to callers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event type constants. Only types we actually emit today.
const (
	DaemonStarted      = "daemon.started"
	DaemonStopped      = "daemon.stopped"
	AgentCreated       = "agent.created"
	AgentTerminated    = "agent.terminated"
	AgentRestarted     = "agent.restarted"
	SupervisorLaunched = "supervisor.launched"
	Intervention       = "supervisor.intervention"
	BudgetExceeded     = "budget.exceeded"
	HeartbeatFired     = "heartbeat.fired"
	PeerUnreachable    = "peer.unreachable"
)

// Event is a single recorded occurrence in the system.
type Event struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Ts      time.Time       `json:"ts"`
	Actor   string          `json:"actor"`
	Subject string          `json:"subject,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Recorder records events. Safe for concurrent use. Best-effort.
type Recorder interface {
	Record(e Event)
}

// Provider records events and reads them back. Implementations:
// [FileRecorder] (JSONL file) and [Fake] (in-memory, for tests).
type Provider interface {
	Recorder
	List(filter Filter) ([]Event, error)
	LatestSeq() (uint64, error)
	Watch(ctx context.Context, afterSeq uint64) (Watcher, error)
	Close() error
}

// Watcher streams events with Seq greater than the cursor passed to
// Watch, blocking in Next until one is available or the watch context
// is canceled.
type Watcher interface {
	Next() (Event, error)
	Close() error
}

// Discard silently drops all events.
var Discard Recorder = discardRecorder{}

type discardRecorder struct{}

func (discardRecorder) Record(Event) {}
