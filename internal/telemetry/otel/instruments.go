package otel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SessionInstruments publishes metrics and traces for one exec session:
// credential minting, target resolution and the attached child process.
type SessionInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterSessions    metric.Int64Counter
	counterResolveRuns metric.Int64Counter
	counterListRetries metric.Int64Counter
	histDuration       metric.Int64Histogram

	tracer trace.Tracer
}

// StageHandle tracks one pipeline stage from Start to Finish.
type StageHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

// StageInfo names a stage and its session context.
type StageInfo struct {
	Stage   string
	Profile string
	Region  string
	Cluster string
}

func newSessionInstruments(p *Provider) *SessionInstruments {
	if p == nil {
		return nil
	}

	inst := &SessionInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if p.meterProvider != nil {
		inst.counterSessions, _ = p.meter.Int64Counter(
			"session.launches_total",
			metric.WithDescription("Number of exec sessions launched"),
		)
		inst.counterResolveRuns, _ = p.meter.Int64Counter(
			"resolve.runs_total",
			metric.WithDescription("Number of target resolution passes"),
		)
		inst.counterListRetries, _ = p.meter.Int64Counter(
			"resolve.task_retries_total",
			metric.WithDescription("Number of task listing retries while tasks were transitional"),
		)
		inst.histDuration, _ = p.meter.Int64Histogram(
			"session.stage.duration",
			metric.WithDescription("Duration of session pipeline stages in milliseconds"),
		)
	}
	if p.tracerProvider != nil {
		inst.tracer = p.tracer
	}
	return inst
}

// Start opens a stage handle, and a context carrying the active span when
// tracing is enabled.
func (i *SessionInstruments) Start(parent context.Context, info StageInfo) (*StageHandle, context.Context) {
	if i == nil {
		return nil, parent
	}

	h := &StageHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: stageAttributes(info),
	}

	if i.traceEnabled && i.tracer != nil {
		ctx, span := i.tracer.Start(parent, stageSpanName(info.Stage), trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records the stage duration and closes the span. A non-empty errText
// marks the stage as failed.
func (i *SessionInstruments) Finish(h *StageHandle, outcome, errText string) {
	if i == nil || h == nil {
		return
	}
	elapsed := time.Since(h.start)
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	if outcome != "" {
		attrs = append(attrs, attribute.String("outcome", outcome))
	}
	if errText != "" {
		attrs = append(attrs, attribute.String("error.message", errText))
	}

	if i.meterEnabled {
		i.histDuration.Record(h.ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
	}

	if h.span != nil {
		h.span.SetAttributes(attrs...)
		if strings.EqualFold(outcome, "error") {
			h.span.SetStatus(codes.Error, errText)
		}
		h.span.End()
	}
}

// SessionLaunched counts a successfully attached session.
func (i *SessionInstruments) SessionLaunched(ctx context.Context, cluster, region string) {
	if i == nil || !i.meterEnabled {
		return
	}
	i.counterSessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cluster", cluster),
		attribute.String("region", region),
	))
}

// ResolveRun counts one full resolution pass.
func (i *SessionInstruments) ResolveRun(ctx context.Context, outcome string) {
	if i == nil || !i.meterEnabled {
		return
	}
	i.counterResolveRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// TaskRetry counts one extra task listing taken while tasks were still
// starting up.
func (i *SessionInstruments) TaskRetry(ctx context.Context) {
	if i == nil || !i.meterEnabled {
		return
	}
	i.counterListRetries.Add(ctx, 1)
}

func stageAttributes(info StageInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if info.Profile != "" {
		attrs = append(attrs, attribute.String("profile", info.Profile))
	}
	if info.Region != "" {
		attrs = append(attrs, attribute.String("region", info.Region))
	}
	if info.Cluster != "" {
		attrs = append(attrs, attribute.String("cluster", info.Cluster))
	}
	return attrs
}

func stageSpanName(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "session.stage"
	}
	return "session." + stage
}
