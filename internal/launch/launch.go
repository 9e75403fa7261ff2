// Package launch composes the command line used to start an agent CLI
// inside a multiplexer window. Registry create, restart, and the
// supervisor's remediation launch all build their argv here so the
// permissiveness mapping and quoting rules exist exactly once.
package launch

import (
	"sort"
	"strings"

	"github.com/steveyegge/overcode/internal/state"
)

// DefaultCommand is the agent binary used when config names none.
const DefaultCommand = "claude"

// Compose builds the argv for one agent process: the configured command
// split into words, the flag its permissiveness level maps to, and the
// initial prompt as the final argument.
func Compose(command string, perm state.Permissiveness, prompt string) []string {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		argv = []string{DefaultCommand}
	}
	switch perm {
	case state.PermPermissive:
		argv = append(argv, "--permission-mode", "acceptEdits")
	case state.PermBypass:
		argv = append(argv, "--dangerously-skip-permissions")
	}
	if prompt != "" {
		argv = append(argv, prompt)
	}
	return argv
}

// ShellLine renders argv as a single line that can be typed into an
// interactive shell. Plain words pass through untouched; anything else
// is single-quoted.
func ShellLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

// Exports renders an `export K='v' ...` line seeding a window's shell
// environment before the agent command runs. Keys are sorted so the
// line is deterministic. Empty map renders "".
func Exports(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, "export")
	for _, k := range keys {
		parts = append(parts, k+"="+quote(env[k]))
	}
	return strings.Join(parts, " ")
}

// quote wraps s in single quotes when it contains shell metacharacters,
// escaping embedded single quotes with the standard idiom: replace '
// with '\''.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
