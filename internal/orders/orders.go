// Package orders resolves standing-orders text for agent sessions.
//
// Standing orders are free text attached to a session that tell the
// supervisor what to do on the operator's behalf when the session
// blocks. A handful of named presets cover the common cases; anything
// else is passed through verbatim.
package orders

import "strings"

// Preset names a built-in standing-orders template.
type Preset string

const (
	DoNothing  Preset = "DO_NOTHING"
	Standard   Preset = "STANDARD"
	Permissive Preset = "PERMISSIVE"
	Cautious   Preset = "CAUTIOUS"
	Research   Preset = "RESEARCH"
	Coding     Preset = "CODING"
	Testing    Preset = "TESTING"
	Review     Preset = "REVIEW"
	Deploy     Preset = "DEPLOY"
	Autonomous Preset = "AUTONOMOUS"
	Minimal    Preset = "MINIMAL"
)

const doNothingText = `DO_NOTHING. Leave this agent alone.

Do not approve prompts, send follow-up instructions, or restart the
agent on its behalf. If it blocks, it stays blocked until a human looks
at it. The only acceptable action is noting its status in your report.`

const standardText = `Keep this agent making steady progress on its current task.

If it is waiting for approval on a routine operation (reading files,
running tests, editing code inside its working directory), approve it.
If it asks a clarifying question you can answer from its own transcript
or repository, answer it concisely and tell it to continue.

Escalate to the operator instead of acting when the agent wants to do
anything destructive or outward-facing: force-pushes, deletions outside
its working directory, package publishes, or network calls to third
parties. When in doubt, do nothing and report.`

const permissiveText = `Keep this agent unblocked with a strong bias toward approving.

Approve permission prompts unless they are plainly destructive
(deleting unrelated data, rewriting shared history, publishing
artifacts). Answer its questions decisively rather than reflecting them
back; a wrong-but-reasonable call it can recover from beats an idle
agent.

Only escalate when the agent is about to take an action that cannot be
undone from inside its own repository.`

const cautiousText = `Supervise this agent conservatively.

Approve only read-only operations: file reads, directory listings,
grep, and test runs that do not mutate state. Any prompt that writes,
installs, deletes, or touches the network waits for the operator.

If the agent asks a question, restate it in one line in your report
rather than answering. Prefer a blocked agent over a surprising one.`

const researchText = `This agent is doing research and exploration, not landing changes.

Approve reads, searches, and documentation fetches freely. Decline (or
leave for the operator) anything that edits files or runs mutating
commands; research sessions should not accumulate uncommitted changes.

If it reports findings and asks what to investigate next, tell it to
write up what it has so far and continue with the most promising open
thread from its own notes.`

const codingText = `This agent is implementing code changes in its working directory.

Approve edits, test runs, builds, and linters inside the repository
without ceremony. If tests fail, instruct it to read the failure output
and fix the cause before moving on; do not let it skip or delete
failing tests to get green.

Commits are fine when it asks; pushes and anything touching remote
state wait for the operator.`

const testingText = `This agent is writing and running tests.

Approve test runs, coverage tools, and edits to test files freely.
Edits to production code need a one-line justification from the agent
tying the change to a failing test; if it cannot give one, tell it to
leave production code alone and file the discrepancy in its notes.

Never approve deleting or skipping a failing test to make a suite pass.`

const reviewText = `This agent is reviewing changes, not making them.

Approve read-only operations: diffs, file reads, blame, log. Decline
edits, checkouts that discard work, and test commands that mutate
state. If it wants to fix what it finds, tell it to record the finding
in its review notes instead; fixes belong to a separate session.`

const deployText = `This agent is executing a deployment.

Approve the steps of the documented deploy procedure: builds, artifact
uploads to staging, health checks, and log reads. Anything it proposes
that is not part of the procedure — ad-hoc fixes, config edits,
database commands — stops here and goes to the operator verbatim.

If a health check fails, instruct it to halt and report rather than
retry or roll forward on its own.`

const autonomousText = `Run this agent with maximum autonomy.

Approve its prompts, answer its questions with your best judgment, and
restart it if it exits before its task is complete. Treat its stated
task as the contract: steer it back when it drifts, and feed it the
next logical step when it finishes one.

Escalate only for irreversible actions outside its own repository.
Everything else is yours to decide.`

const minimalText = `Intervene only to unstick this agent, nothing more.

If it has been waiting on the same permission prompt through multiple
checks, approve it once if it is routine. Do not answer design
questions, do not send encouragement, do not restart it. One nudge per
blockage, then leave it alone and report.`

var presetText = map[Preset]string{
	DoNothing:  doNothingText,
	Standard:   standardText,
	Permissive: permissiveText,
	Cautious:   cautiousText,
	Research:   researchText,
	Coding:     codingText,
	Testing:    testingText,
	Review:     reviewText,
	Deploy:     deployText,
	Autonomous: autonomousText,
	Minimal:    minimalText,
}

// Presets returns all preset names in a stable order.
func Presets() []Preset {
	return []Preset{
		DoNothing, Standard, Permissive, Cautious, Research, Coding,
		Testing, Review, Deploy, Autonomous, Minimal,
	}
}

// Valid reports whether p names a known preset.
func (p Preset) Valid() bool {
	_, ok := presetText[p]
	return ok
}

// Text returns the instruction text for a preset, or "" if unknown.
func (p Preset) Text() string {
	return presetText[p]
}

// Resolve maps input to preset instructions when it names a preset,
// matching case-insensitively. Any other input is returned unchanged
// with an empty preset.
func Resolve(input string) (string, Preset) {
	p := Preset(strings.ToUpper(strings.TrimSpace(input)))
	if text, ok := presetText[p]; ok {
		return text, p
	}
	return input, ""
}

// IsDoNothing reports whether standing orders begin with the
// case-insensitive DO_NOTHING literal. The supervisor skips such
// sessions entirely.
func IsDoNothing(standingOrders string) bool {
	trimmed := strings.TrimSpace(standingOrders)
	if len(trimmed) < len(DoNothing) {
		return false
	}
	return strings.EqualFold(trimmed[:len(DoNothing)], string(DoNothing))
}
