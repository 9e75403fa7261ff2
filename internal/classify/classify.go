// Package classify derives an agent's status from its terminal output.
//
// The polling strategy scans the tail of a captured pane for the
// prompts and progress markers that interactive coding CLIs print. The
// hook strategy trusts lifecycle events written by the hook receiver
// and only falls back to polling when no event is available. Both are
// pure functions of their inputs.
package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/state"
)

const (
	// DefaultScanLines bounds how much pane tail the poller inspects.
	DefaultScanLines = 50

	// DefaultStaleness is how long a previous status stays trustworthy
	// when the pane shows nothing recognizable.
	DefaultStaleness = 10 * time.Second

	// ActivityMaxLen caps the activity summary length in runes.
	ActivityMaxLen = 80

	approvalHeader = "Do you want to proceed?"
	statusBarMark  = "⏵⏵"
)

// Result is a classification outcome.
type Result struct {
	Status   state.Status
	Activity string
}

// Options tunes the polling strategy. Zero values select defaults.
type Options struct {
	ScanLines int
	Staleness time.Duration
}

var (
	numberedChoiceRe = regexp.MustCompile(`^\s*❯?\s*\d+\.\s`)
	slashMenuRe      = regexp.MustCompile(`^\s*/[A-Za-z][\w-]*\s{2,}\S`)
	bashCountRe      = regexp.MustCompile(`(\d+)\s+bash(es)?\b`)
)

// confirmTokens are whole-line confirmation prompts, compared after
// trimming and lowercasing.
var confirmTokens = map[string]bool{
	"[y/n]":                   true,
	"(y/n)":                   true,
	"[y/n]:":                  true,
	"(y/n):":                  true,
	"y/n":                     true,
	"press enter to confirm":  true,
	"press enter to continue": true,
}

// activeTokens mark in-progress work when they appear anywhere in a
// line, matched case-insensitively.
var activeTokens = []string{"thinking", "working", "processing", "✽", "…"}

// toolTokens mark in-progress tool calls when immediately followed by
// an opening parenthesis, matched case-sensitively.
var toolTokens = []string{"Reading", "Writing", "Editing", "Searching", "Bash", "Task"}

// FromHook maps a hook lifecycle event to a status. ok is false for
// events the classifier does not recognize.
func FromHook(event string) (state.Status, bool) {
	switch event {
	case "Stop":
		return state.StatusWaitingUser, true
	case "PermissionRequest":
		return state.StatusWaitingApproval, true
	case "SessionEnd":
		return state.StatusTerminated, true
	case "UserPromptSubmit", "PostToolUse":
		return state.StatusRunning, true
	}
	return "", false
}

// Poll classifies a pane tail. prev is the status from the previous
// observation and prevAge is how long ago it was established; together
// they decide what an unrecognizable pane means.
func Poll(lines []string, prev state.Status, prevAge time.Duration, opts Options) Result {
	scan := opts.ScanLines
	if scan <= 0 {
		scan = DefaultScanLines
	}
	stale := opts.Staleness
	if stale <= 0 {
		stale = DefaultStaleness
	}
	if len(lines) > scan {
		lines = lines[len(lines)-scan:]
	}

	if line, ok := matchApprovalMenu(lines); ok {
		return Result{state.StatusWaitingApproval, summarize(line)}
	}
	if line, ok := matchConfirmToken(lines); ok {
		return Result{state.StatusWaitingApproval, summarize(line)}
	}
	if line, ok := matchBarePrompt(lines); ok {
		return Result{state.StatusWaitingUser, summarize(line)}
	}
	if line, ok := matchActiveIndicator(lines); ok {
		return Result{state.StatusRunning, summarize(line)}
	}
	if line, ok := matchSlashMenu(lines); ok {
		return Result{state.StatusWaitingUser, summarize(line)}
	}

	activity := summarize(lastNonEmpty(lines))
	if prev.Valid() && prevAge <= stale {
		return Result{prev, activity}
	}
	return Result{state.StatusWaitingUser, activity}
}

// matchApprovalMenu looks for the permission menu header followed by a
// numbered-choice block. The most recent header wins.
func matchApprovalMenu(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.Contains(lines[i], approvalHeader) {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if numberedChoiceRe.MatchString(lines[j]) {
				return approvalHeader, true
			}
		}
	}
	return "", false
}

func matchConfirmToken(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if confirmTokens[strings.ToLower(strings.TrimSpace(lines[i]))] {
			return lines[i], true
		}
	}
	return "", false
}

func matchBarePrompt(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		switch strings.TrimSpace(lines[i]) {
		case ">", "›":
			return lines[i], true
		}
	}
	return "", false
}

func matchActiveIndicator(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		lower := strings.ToLower(line)
		for _, tok := range activeTokens {
			if strings.Contains(lower, tok) {
				return line, true
			}
		}
		for _, tok := range toolTokens {
			if strings.Contains(line, tok+"(") {
				return line, true
			}
		}
	}
	return "", false
}

// matchSlashMenu detects a slash-command menu: three or more lines of
// the form "/name  description".
func matchSlashMenu(lines []string) (string, bool) {
	count := 0
	last := ""
	for _, line := range lines {
		if slashMenuRe.MatchString(line) {
			count++
			last = line
		}
	}
	if count >= 3 {
		return last, true
	}
	return "", false
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// summarize turns a pane line into an activity summary: prompt and
// bullet prefixes stripped, whitespace trimmed, length capped.
func summarize(line string) string {
	s := strings.TrimSpace(line)
	for {
		r := []rune(s)
		if len(r) == 0 {
			return ""
		}
		switch r[0] {
		case '>', '›', '-', '•':
			s = strings.TrimSpace(string(r[1:]))
		default:
			if len(r) > ActivityMaxLen {
				return string(r[:ActivityMaxLen])
			}
			return s
		}
	}
}

// StatusBar extracts structural fields from the agent CLI's status bar
// line. bashes is the advertised background subprocess count and
// childRunning reports an in-flight child command. Both are zero-valued
// when no status bar is visible.
func StatusBar(lines []string) (bashes int, childRunning bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, statusBarMark) {
			continue
		}
		if m := bashCountRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				bashes = n
			}
		}
		childRunning = strings.Contains(strings.ToLower(line), "running")
		return bashes, childRunning
	}
	return 0, false
}
