package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Disable: true})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}

func TestStartAndEndRecordStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, ok := Start(context.Background(), "ok", attribute.String("thread", "t1"))
	End(ok, nil)
	_, failed := Start(context.Background(), "failed")
	End(failed, errors.New("boom"))
	End(nil, nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("expected Error status, got %v", spans[1].Status().Code)
	}
}

func TestInitWritesSpansToWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{ServiceName: "concierge-test", Writer: &buf})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	_, span := Start(context.Background(), "dispatch.turn", AttrThread.String("t1"))
	End(span, nil)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "dispatch.turn") || !strings.Contains(out, "concierge.thread") {
		t.Errorf("expected exported span in writer, got %q", out)
	}
}

func TestSamplerRatio(t *testing.T) {
	if got := sampler(0).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("expected always-on sampler, got %s", got)
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased") {
		t.Errorf("expected ratio sampler, got %s", got)
	}
}
