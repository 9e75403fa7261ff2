// Package telemetry — recorder.go
// Recording helpers for daemon happenings. Each function emits an OTel
// log event (→ VictoriaLogs) and increments a metric instrument
// (→ VictoriaMetrics).
package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/steveyegge/overcode"
	loggerName        = "overcode"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	// Counters
	tickTotal             metric.Int64Counter
	agentCreateTotal      metric.Int64Counter
	agentTerminateTotal   metric.Int64Counter
	agentRestartTotal     metric.Int64Counter
	supervisorLaunchTotal metric.Int64Counter
	interventionTotal     metric.Int64Counter
	budgetExceededTotal   metric.Int64Counter
	heartbeatTotal        metric.Int64Counter
	peerPollTotal         metric.Int64Counter
	muxTotal              metric.Int64Counter

	// Histograms
	tickDurationHist metric.Float64Histogram
	muxDurationHist  metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Must be called after telemetry.Init so
// the real provider is set. Also called lazily on first use as a safety
// net.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.tickTotal, _ = m.Int64Counter("oc.monitor.ticks.total",
			metric.WithDescription("Total monitor loop ticks"),
		)
		inst.agentCreateTotal, _ = m.Int64Counter("oc.agent.creates.total",
			metric.WithDescription("Total agent session creations"),
		)
		inst.agentTerminateTotal, _ = m.Int64Counter("oc.agent.terminates.total",
			metric.WithDescription("Total agent session terminations"),
		)
		inst.agentRestartTotal, _ = m.Int64Counter("oc.agent.restarts.total",
			metric.WithDescription("Total agent session restarts"),
		)
		inst.supervisorLaunchTotal, _ = m.Int64Counter("oc.supervisor.launches.total",
			metric.WithDescription("Total remediation agent launches"),
		)
		inst.interventionTotal, _ = m.Int64Counter("oc.supervisor.interventions.total",
			metric.WithDescription("Total supervisor interventions detected"),
		)
		inst.budgetExceededTotal, _ = m.Int64Counter("oc.budget.exceeded.total",
			metric.WithDescription("Total budget threshold crossings"),
		)
		inst.heartbeatTotal, _ = m.Int64Counter("oc.heartbeat.fires.total",
			metric.WithDescription("Total heartbeat delivery attempts"),
		)
		inst.peerPollTotal, _ = m.Int64Counter("oc.federation.polls.total",
			metric.WithDescription("Total federation peer polls"),
		)
		inst.muxTotal, _ = m.Int64Counter("oc.mux.calls.total",
			metric.WithDescription("Total multiplexer CLI invocations"),
		)

		inst.tickDurationHist, _ = m.Float64Histogram("oc.monitor.tick.duration_ms",
			metric.WithDescription("Monitor tick wall-clock duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.muxDurationHist, _ = m.Float64Histogram("oc.mux.duration_ms",
			metric.WithDescription("Multiplexer CLI call round-trip latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// maxOutputLog is the maximum number of bytes of captured multiplexer
// output included in a log event.
const maxOutputLog = 2048

// truncateOutput trims s to max bytes and appends "…" when truncated.
// Avoids splitting multi-byte UTF-8 characters at the boundary.
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	truncated := s[:limit]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// RecordMonitorTick records one monitor loop pass (metrics + log event).
func RecordMonitorTick(ctx context.Context, loop int64, agents int, durationMs float64) {
	initInstruments()
	inst.tickTotal.Add(ctx, 1)
	inst.tickDurationHist.Record(ctx, durationMs,
		metric.WithAttributes(attribute.Int("agents", agents)),
	)
	emit(ctx, "monitor.tick", otellog.SeverityDebug,
		otellog.Int64("loop", loop),
		otellog.Int("agents", agents),
		otellog.Float64("duration_ms", durationMs),
	)
}

// RecordAgentCreate records an agent session creation (metrics + log event).
func RecordAgentCreate(ctx context.Context, agentName string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.agentCreateTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agentName),
			attribute.String("status", status),
		),
	)
	emit(ctx, "agent.create", severity(err),
		otellog.String("agent", agentName),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordAgentTerminate records an agent session termination (metrics + log event).
// reason is "user", "monitor", or "cascade".
func RecordAgentTerminate(ctx context.Context, agentName, reason string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.agentTerminateTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agentName),
			attribute.String("reason", reason),
			attribute.String("status", status),
		),
	)
	emit(ctx, "agent.terminate", severity(err),
		otellog.String("agent", agentName),
		otellog.String("reason", reason),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordAgentRestart records an agent session restart (metrics + log event).
func RecordAgentRestart(ctx context.Context, agentName string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.agentRestartTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agentName),
			attribute.String("status", status),
		),
	)
	emit(ctx, "agent.restart", severity(err),
		otellog.String("agent", agentName),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordSupervisorLaunch records a remediation agent launch attempt
// (metrics + log event). reason is the launch rationale.
func RecordSupervisorLaunch(ctx context.Context, reason string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.supervisorLaunchTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("status", status),
		),
	)
	emit(ctx, "supervisor.launch", severity(err),
		otellog.String("reason", reason),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordIntervention records a supervisor intervention scraped from the
// remediation agent's pane (metrics + log event).
func RecordIntervention(ctx context.Context, agentName string) {
	initInstruments()
	inst.interventionTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agentName)),
	)
	emit(ctx, "supervisor.intervention", otellog.SeverityInfo,
		otellog.String("agent", agentName),
	)
}

// RecordBudgetExceeded records a budget threshold crossing (metrics + log event).
func RecordBudgetExceeded(ctx context.Context, agentName string, spent, budget float64) {
	initInstruments()
	inst.budgetExceededTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agentName)),
	)
	emit(ctx, "budget.exceeded", otellog.SeverityWarn,
		otellog.String("agent", agentName),
		otellog.Float64("spent_usd", spent),
		otellog.Float64("budget_usd", budget),
	)
}

// RecordHeartbeat records a heartbeat delivery attempt (metrics + log event).
func RecordHeartbeat(ctx context.Context, agentName string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.heartbeatTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agentName),
			attribute.String("status", status),
		),
	)
	emit(ctx, "heartbeat.fire", severity(err),
		otellog.String("agent", agentName),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordPeerPoll records a federation poll round-trip (metrics + log event).
func RecordPeerPoll(ctx context.Context, peer string, agents int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.peerPollTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("peer", peer),
			attribute.String("status", status),
		),
	)
	emit(ctx, "federation.poll", severity(err),
		otellog.String("peer", peer),
		otellog.Int("agents", agents),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordMuxCall records a multiplexer CLI invocation with duration
// (metrics + log event). args is the full argument list; args[0] is
// used as the subcommand label. output is the raw process output,
// truncated before logging.
//
// output is only included in the log event when
// OVERCODE_LOG_MUX_OUTPUT=true: captured panes carry whatever the
// agents printed, which may include tokens or PII.
func RecordMuxCall(ctx context.Context, args []string, durationMs float64, err error, output string) {
	initInstruments()
	subcommand := ""
	if len(args) > 0 {
		subcommand = args[0]
	}
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("subcommand", subcommand),
	)
	inst.muxTotal.Add(ctx, 1, attrs)
	inst.muxDurationHist.Record(ctx, durationMs, attrs)
	kvs := []otellog.KeyValue{
		otellog.String("subcommand", subcommand),
		otellog.String("args", strings.Join(args, " ")),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	}
	if os.Getenv("OVERCODE_LOG_MUX_OUTPUT") == "true" {
		kvs = append(kvs, otellog.String("output", truncateOutput(output, maxOutputLog)))
	}
	emit(ctx, "mux.call", severity(err), kvs...)
}
