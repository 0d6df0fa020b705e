package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewResource_DeploymentIdentity(t *testing.T) {
	res, err := newResource(Config{
		ServiceVersion: "1.4.0",
		Environment:    "staging",
		InstanceID:     "calsync-2",
	})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:           DefaultServiceName,
		semconv.ServiceVersionKey:        "1.4.0",
		semconv.DeploymentEnvironmentKey: "staging",
		semconv.ServiceInstanceIDKey:     "calsync-2",
	}
	set := res.Set()
	for key, v := range want {
		got, ok := set.Value(key)
		if !ok || got.AsString() != v {
			t.Errorf("%s = %q (present %v), want %q", key, got.AsString(), ok, v)
		}
	}
}

func TestNewResource_OmitsUnsetEnvironment(t *testing.T) {
	res, err := newResource(Config{ServiceName: "calsync-eu", InstanceID: "x"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if _, ok := res.Set().Value(semconv.DeploymentEnvironmentKey); ok {
		t.Error("deployment.environment set without configuration")
	}
	if got, _ := res.Set().Value(semconv.ServiceNameKey); got.AsString() != "calsync-eu" {
		t.Errorf("service.name = %q", got.AsString())
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := sampler(tt.ratio).Description()
		if !strings.HasPrefix(got, "ParentBased{root:") || !strings.Contains(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want parent-based %s", tt.ratio, got, tt.want)
		}
	}
}

func TestMetricInterval(t *testing.T) {
	if got := metricInterval(0); got != defaultMetricInterval {
		t.Errorf("metricInterval(0) = %v", got)
	}
	if got := metricInterval(5 * time.Second); got != 5*time.Second {
		t.Errorf("metricInterval(5s) = %v", got)
	}
}

func TestMeterProvider_RunDurationBuckets(t *testing.T) {
	res, err := newResource(Config{InstanceID: "x"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	mp := newMeterProvider(res, reader)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	hist, err := mp.Meter("careiq-calsync/sync").Int64Histogram(runDurationMetric)
	if err != nil {
		t.Fatalf("creating histogram: %v", err)
	}
	hist.Record(context.Background(), 1200)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("collected = %+v", rm.ScopeMetrics)
	}
	data, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[int64])
	if !ok || len(data.DataPoints) != 1 {
		t.Fatalf("data = %T %+v", rm.ScopeMetrics[0].Metrics[0].Data, rm.ScopeMetrics[0].Metrics[0].Data)
	}
	bounds := data.DataPoints[0].Bounds
	if len(bounds) != len(runDurationBounds) || bounds[len(bounds)-1] != 300000 {
		t.Errorf("bounds = %v, want %v", bounds, runDurationBounds)
	}
}
