// Package state defines Overcode's persistent data model: tracked agent
// sessions, their accumulated statistics, and the monitor snapshot that
// every consumer (CLI, web UI, federation peers, hook receiver) reads.
package state

// Status is an agent's classified lifecycle state. The set is closed;
// the classifier never emits a value outside the constants below.
type Status string

const (
	StatusRunning           Status = "running"
	StatusRunningHeartbeat  Status = "running_heartbeat"
	StatusWaitingUser       Status = "waiting_user"
	StatusWaitingApproval   Status = "waiting_approval"
	StatusWaitingSupervisor Status = "waiting_supervisor"
	StatusWaitingHeartbeat  Status = "waiting_heartbeat"
	StatusNoInstructions    Status = "no_instructions"
	StatusError             Status = "error"
	StatusAsleep            Status = "asleep"
	StatusTerminated        Status = "terminated"
	StatusDone              Status = "done"
)

// allStatuses drives Valid and schema generation.
var allStatuses = []Status{
	StatusRunning, StatusRunningHeartbeat, StatusWaitingUser,
	StatusWaitingApproval, StatusWaitingSupervisor, StatusWaitingHeartbeat,
	StatusNoInstructions, StatusError, StatusAsleep, StatusTerminated,
	StatusDone,
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Green reports whether the agent is making progress unattended.
func (s Status) Green() bool {
	return s == StatusRunning || s == StatusRunningHeartbeat
}

// AccumulatesTime reports whether time spent in s counts toward the
// green/non-green buckets. Asleep and terminated sessions accumulate
// into the sleep bucket or not at all.
func (s Status) AccumulatesTime() bool {
	return s != StatusAsleep && s != StatusTerminated
}

// Statuses returns the closed status set in declaration order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}
