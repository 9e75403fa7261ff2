package telemetry

import (
	"os"
	"sort"
	"strings"
)

// buildResourceAttrs builds an OTEL_RESOURCE_ATTRIBUTES value labeling
// telemetry from an agent window with its session and group.
func buildResourceAttrs(agent, group string) string {
	var attrs []string
	if agent != "" {
		attrs = append(attrs, "oc.agent="+agent)
	}
	if group != "" {
		attrs = append(attrs, "oc.group="+group)
	}
	return strings.Join(attrs, ",")
}

// SetProcessOTELAttrs sets OTEL-related variables in the current
// process environment so subprocesses spawned via exec.Command inherit
// them automatically.
//
// Called once at daemon startup when telemetry is active. No-op when no
// telemetry endpoint is configured.
func SetProcessOTELAttrs(group string) {
	if !Active() {
		return
	}
	if attrs := buildResourceAttrs("", group); attrs != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", attrs)
	}
	// Enable the agent CLI's built-in telemetry for any CLI the daemon
	// itself launches.
	_ = os.Setenv("CLAUDE_CODE_ENABLE_TELEMETRY", "1")
}

// AgentEnv returns the environment variables to inject into a new agent
// window. The session identity vars are always present — the hook
// receiver needs them to find its state file. OTel vars are added only
// when telemetry is active, so agent CLIs and their hook subprocesses
// emit to the same backend under per-agent labels.
func AgentEnv(agent, group string) map[string]string {
	env := map[string]string{
		"SESSION_NAME":      agent,
		"MULTIPLEXER_GROUP": group,
	}
	if !Active() {
		return env
	}
	if attrs := buildResourceAttrs(agent, group); attrs != "" {
		env["OTEL_RESOURCE_ATTRIBUTES"] = attrs
	}
	env["CLAUDE_CODE_ENABLE_TELEMETRY"] = "1"
	if v := os.Getenv(EnvEndpoint); v != "" {
		env[EnvEndpoint] = v
	}
	if v := os.Getenv(EnvMetricsURL); v != "" {
		env[EnvMetricsURL] = v
	}
	if v := os.Getenv(EnvLogsURL); v != "" {
		env[EnvLogsURL] = v
	}
	return env
}

// EnvKeys returns env's keys sorted, for deterministic rendering.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
