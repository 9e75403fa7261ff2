package telemetry

import (
	"os"
	"strings"
	"testing"
)

func TestBuildResourceAttrs_Empty(t *testing.T) {
	if got := buildResourceAttrs("", ""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestBuildResourceAttrs_Both(t *testing.T) {
	got := buildResourceAttrs("acme", "agents")
	for _, want := range []string{"oc.agent=acme", "oc.group=agents"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in result, got %q", want, got)
		}
	}
	if !strings.Contains(got, ",") {
		t.Errorf("expected comma-separated result, got %q", got)
	}
}

func TestActive_Disabled(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	if Active() {
		t.Error("Active() = true with no endpoint configured")
	}
}

func TestActive_GenericEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "http://localhost:4318")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	if !Active() {
		t.Error("Active() = false with OTEL_EXPORTER_OTLP_ENDPOINT set")
	}
}

func TestEndpoints_Defaults(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")

	metricsURL, logsURL := endpoints()
	if metricsURL != DefaultMetricsURL {
		t.Errorf("metrics URL = %q, want default", metricsURL)
	}
	if logsURL != DefaultLogsURL {
		t.Errorf("logs URL = %q, want default", logsURL)
	}
}

func TestEndpoints_DerivedFromGeneric(t *testing.T) {
	t.Setenv(EnvEndpoint, "http://collector:4318/")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")

	metricsURL, logsURL := endpoints()
	if metricsURL != "http://collector:4318/v1/metrics" {
		t.Errorf("metrics URL = %q", metricsURL)
	}
	if logsURL != "http://collector:4318/v1/logs" {
		t.Errorf("logs URL = %q", logsURL)
	}
}

func TestEndpoints_SpecificOverridesGeneric(t *testing.T) {
	t.Setenv(EnvEndpoint, "http://collector:4318")
	t.Setenv(EnvMetricsURL, "http://victoria:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "")

	metricsURL, logsURL := endpoints()
	if metricsURL != "http://victoria:8428/opentelemetry/api/v1/push" {
		t.Errorf("metrics URL = %q", metricsURL)
	}
	if logsURL != "http://collector:4318/v1/logs" {
		t.Errorf("logs URL = %q", logsURL)
	}
}

func TestAgentEnv_AlwaysHasIdentity(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")

	env := AgentEnv("acme", "agents")
	if env["SESSION_NAME"] != "acme" {
		t.Errorf("SESSION_NAME = %q", env["SESSION_NAME"])
	}
	if env["MULTIPLEXER_GROUP"] != "agents" {
		t.Errorf("MULTIPLEXER_GROUP = %q", env["MULTIPLEXER_GROUP"])
	}
	if _, ok := env["CLAUDE_CODE_ENABLE_TELEMETRY"]; ok {
		t.Error("telemetry vars should be absent when no endpoint is configured")
	}
}

func TestAgentEnv_TelemetryActive(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvMetricsURL, "http://localhost:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "")

	env := AgentEnv("acme", "agents")
	if env["CLAUDE_CODE_ENABLE_TELEMETRY"] != "1" {
		t.Errorf("CLAUDE_CODE_ENABLE_TELEMETRY = %q", env["CLAUDE_CODE_ENABLE_TELEMETRY"])
	}
	if env[EnvMetricsURL] != "http://localhost:8428/opentelemetry/api/v1/push" {
		t.Errorf("%s = %q", EnvMetricsURL, env[EnvMetricsURL])
	}
	if _, ok := env[EnvLogsURL]; ok {
		t.Errorf("%s should not be present when unset", EnvLogsURL)
	}
	attrs := env["OTEL_RESOURCE_ATTRIBUTES"]
	if !strings.Contains(attrs, "oc.agent=acme") {
		t.Errorf("expected oc.agent in OTEL_RESOURCE_ATTRIBUTES, got %q", attrs)
	}
}

func TestEnvKeys_Sorted(t *testing.T) {
	keys := EnvKeys(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A", "B", "C"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestSetProcessOTELAttrs_Disabled(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	t.Setenv("CLAUDE_CODE_ENABLE_TELEMETRY", "")

	SetProcessOTELAttrs("agents")

	if v := os.Getenv("CLAUDE_CODE_ENABLE_TELEMETRY"); v != "" {
		t.Errorf("CLAUDE_CODE_ENABLE_TELEMETRY should not be set when telemetry disabled, got %q", v)
	}
}

func TestSetProcessOTELAttrs_Enabled(t *testing.T) {
	t.Setenv(EnvMetricsURL, "http://localhost:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "")
	t.Setenv(EnvEndpoint, "")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "")

	SetProcessOTELAttrs("agents")

	if got := os.Getenv("CLAUDE_CODE_ENABLE_TELEMETRY"); got != "1" {
		t.Errorf("CLAUDE_CODE_ENABLE_TELEMETRY = %q, want %q", got, "1")
	}
	if got := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); !strings.Contains(got, "oc.group=agents") {
		t.Errorf("expected oc.group in OTEL_RESOURCE_ATTRIBUTES, got %q", got)
	}
}
