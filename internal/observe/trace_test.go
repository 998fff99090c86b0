package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installTracer registers an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog routes the default logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "uploader.transcribe")
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "uploader.transcribe" {
		t.Fatalf("spans = %v, want one uploader.transcribe", spans)
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
	if cid != spans[0].SpanContext.TraceID().String() || len(cid) != 32 {
		t.Errorf("CorrelationID = %q, want trace ID %s", cid, spans[0].SpanContext.TraceID())
	}
}

func TestCorrelationID_WithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
	// The default no-op provider yields spans without a trace ID.
	ctx, span := otel.GetTracerProvider().Tracer("noop").Start(context.Background(), "x")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Skip("a real tracer provider is installed globally")
	}
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID with no-op span = %q, want empty", got)
	}
}

func TestLogger_AttachesSpanIDs(t *testing.T) {
	buf := captureLog(t)
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}))

	Logger(ctx).Info("uploader: uploading recording")
	Logger(context.Background()).Info("uploader: started")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "trace_id=4bf92f3577b34da6a3ce929d0e0e4736") || !strings.Contains(lines[0], "span_id=00f067aa0ba902b7") {
		t.Errorf("traced line missing ids: %s", lines[0])
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Errorf("untraced line has a trace_id: %s", lines[1])
	}
}
