package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestEnvBool(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value     string
		defaultOn bool
		want      bool
	}{
		{"", false, false},
		{"", true, true},
		{"1", false, true},
		{"true", false, true},
		{"On", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"disabled", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tc := range cases {
		if got := EnvBool(tc.value, tc.defaultOn); got != tc.want {
			t.Errorf("EnvBool(%q, %v) = %v, want %v", tc.value, tc.defaultOn, got, tc.want)
		}
	}
}

func TestSetupDisabledIsInert(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	inst := p.Session()
	if inst == nil {
		t.Fatal("Session() = nil, want inert instruments")
	}

	h, ctx := inst.Start(context.Background(), StageInfo{Stage: "resolve"})
	if ctx == nil {
		t.Fatal("Start returned nil context")
	}
	inst.Finish(h, "ok", "")
	inst.SessionLaunched(ctx, "web", "us-east-1")
	inst.TaskRetry(ctx)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	t.Parallel()

	var p *Provider
	if got := p.Session(); got != nil {
		t.Fatalf("nil provider Session() = %v, want nil", got)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil provider Shutdown: %v", err)
	}

	var inst *SessionInstruments
	h, _ := inst.Start(context.Background(), StageInfo{})
	if h != nil {
		t.Fatalf("nil instruments Start handle = %v, want nil", h)
	}
	inst.Finish(nil, "ok", "")
	inst.ResolveRun(context.Background(), "ok")
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Config{ServiceName: "awsconnect", EnableMetrics: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer p.Shutdown(context.Background())

	inst := p.Session()
	inst.SessionLaunched(context.Background(), "web", "us-east-1")
	inst.ResolveRun(context.Background(), "ok")
	inst.TaskRetry(context.Background())

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{"session.launches_total", "resolve.runs_total", "resolve.task_retries_total"} {
		if !names[want] {
			t.Errorf("metric %q not collected, got %v", want, names)
		}
	}
}
