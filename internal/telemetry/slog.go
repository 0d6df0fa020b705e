package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// NewLogHandler returns a slog.Handler that writes every record to base and
// also emits it through the global OTel LoggerProvider under scope. Without
// [Setup] the global provider is a no-op and only base receives records.
func NewLogHandler(base slog.Handler, scope string) slog.Handler {
	return &fanoutHandler{base: base, otel: global.Logger(scope)}
}

type fanoutHandler struct {
	base   slog.Handler
	otel   otellog.Logger
	attrs  []otellog.KeyValue
	prefix string // dotted group path applied to later attributes
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)

	var rec otellog.Record
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.SetBody(otellog.StringValue(r.Message))
	rec.AddAttributes(h.attrs...)

	kvs := make([]otellog.KeyValue, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		kvs = appendAttr(kvs, h.prefix, a)
		return true
	})
	rec.AddAttributes(kvs...)

	h.otel.Emit(ctx, rec)
	return err
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kvs := append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		kvs = appendAttr(kvs, h.prefix, a)
	}
	return &fanoutHandler{base: h.base.WithAttrs(attrs), otel: h.otel, attrs: kvs, prefix: h.prefix}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &fanoutHandler{base: h.base.WithGroup(name), otel: h.otel, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	}
	return otellog.SeverityDebug
}

// appendAttr flattens a into OTel key-values, expanding groups into dotted
// keys.
func appendAttr(kvs []otellog.KeyValue, prefix string, a slog.Attr) []otellog.KeyValue {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return kvs
	}
	key := prefix + a.Key

	switch v.Kind() {
	case slog.KindGroup:
		sub := prefix
		if a.Key != "" {
			sub = key + "."
		}
		for _, ga := range v.Group() {
			kvs = appendAttr(kvs, sub, ga)
		}
		return kvs
	case slog.KindString:
		return append(kvs, otellog.String(key, v.String()))
	case slog.KindInt64:
		return append(kvs, otellog.Int64(key, v.Int64()))
	case slog.KindUint64:
		return append(kvs, otellog.Int64(key, int64(v.Uint64())))
	case slog.KindFloat64:
		return append(kvs, otellog.Float64(key, v.Float64()))
	case slog.KindBool:
		return append(kvs, otellog.Bool(key, v.Bool()))
	case slog.KindDuration:
		return append(kvs, otellog.String(key, v.Duration().String()))
	case slog.KindTime:
		return append(kvs, otellog.String(key, v.Time().UTC().Format(time.RFC3339Nano)))
	}
	if err, ok := v.Any().(error); ok {
		return append(kvs, otellog.String(key, err.Error()))
	}
	return append(kvs, otellog.String(key, strings.TrimSpace(v.String())))
}
