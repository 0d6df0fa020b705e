package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memExporter) Export(_ context.Context, recs []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range recs {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memExporter) Shutdown(context.Context) error   { return nil }
func (e *memExporter) ForceFlush(context.Context) error { return nil }

func newTestHandler(t *testing.T) (*slog.Logger, *bytes.Buffer, *memExporter) {
	t.Helper()
	exp := &memExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := &fanoutHandler{base: base, otel: lp.Logger("test")}
	return slog.New(h), &buf, exp
}

func attrsOf(r sdklog.Record) map[string]string {
	out := map[string]string{}
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func TestLogHandler_FansOut(t *testing.T) {
	logger, buf, exp := newTestHandler(t)

	logger.With("integration_id", "abc").
		WithGroup("run").
		Warn("push failed", "failed", 2, "error", errors.New("boom"))

	if !strings.Contains(buf.String(), "push failed") {
		t.Errorf("base handler output = %q", buf.String())
	}
	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	rec := exp.records[0]
	if rec.Body().AsString() != "push failed" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}
	got := attrsOf(rec)
	want := map[string]string{"integration_id": "abc", "run.failed": "2", "run.error": "boom"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %q = %q, want %q (all: %v)", k, got[k], v, got)
		}
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	logger, buf, exp := newTestHandler(t)
	logger.Debug("noise")
	if buf.Len() != 0 || len(exp.records) != 0 {
		t.Errorf("debug record emitted: base %q, exported %d", buf.String(), len(exp.records))
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
