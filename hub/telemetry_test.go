package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return exporter, cleanup
}

func findLogEntry(t *testing.T, hook *test.Hook, message string) *log.Entry {
	t.Helper()
	for _, e := range hook.AllEntries() {
		if e.Message == message {
			return &e
		}
	}
	t.Fatalf("no %q log entry among %d entries", message, len(hook.AllEntries()))
	return nil
}

func TestPublishEmitsSpanAndLog(t *testing.T) {
	exporter, cleanup := setupTestTracer(t)
	defer cleanup()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	h := New(logger, Config{})
	a := newFakeConn("a")
	h.Subscribe(a, domain.PlayerTopic("p1"))

	h.Publish(context.Background(), domain.ChangeEvent{
		EntityID:         "p1",
		GameID:           "g1",
		ChangeType:       domain.ChangeUpdate,
		AffectedRelation: domain.RelationItems,
		Timestamp:        "2024-05-01T10:00:00Z",
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != publishSpanName {
		t.Fatalf("unexpected span name %q", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", span.Status.Code)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["live.event.entity_id"] != "p1" || attrs["live.event.game_id"] != "g1" {
		t.Fatalf("unexpected span attributes %v", attrs)
	}
	if attrs["live.event.relation"] != domain.RelationItems {
		t.Fatalf("expected relation attribute, got %v", attrs["live.event.relation"])
	}
	if attrs["live.publish.delivered"] != int64(1) {
		t.Fatalf("expected delivered=1, got %v", attrs["live.publish.delivered"])
	}
	if len(span.Events) != 1 || span.Events[0].Name != observabilityEvent {
		t.Fatalf("expected one observability event, got %+v", span.Events)
	}
	eventAttrs := attributesToMap(span.Events[0].Attributes)
	if eventAttrs["event.name"] != publishEventName || eventAttrs["severity_text"] != "INFO" {
		t.Fatalf("unexpected event attributes %v", eventAttrs)
	}

	entry := findLogEntry(t, hook, observabilityEvent)
	if entry.Level != log.DebugLevel {
		t.Fatalf("expected debug level, got %v", entry.Level)
	}
	if entry.Data["event.name"] != publishEventName {
		t.Fatalf("unexpected event.name %v", entry.Data["event.name"])
	}
	if entry.Data["trace_id"] != span.SpanContext.TraceID().String() {
		t.Fatalf("log trace id %v does not match span", entry.Data["trace_id"])
	}
	logAttrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("expected attributes map, got %T", entry.Data["attributes"])
	}
	if logAttrs["live.publish.delivered"] != int64(1) {
		t.Fatalf("unexpected logged delivered %v", logAttrs["live.publish.delivered"])
	}
}

func TestPublishTelemetryMarksFailures(t *testing.T) {
	exporter, cleanup := setupTestTracer(t)
	defer cleanup()

	logger, hook := test.NewNullLogger()
	h := New(logger, Config{})
	dead := newFakeConn("dead")
	dead.err = errors.New("gone")
	h.Subscribe(dead, domain.PlayerTopic("p1"))

	h.Publish(context.Background(), domain.ChangeEvent{EntityID: "p1", Timestamp: "T1"})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status.Code)
	}
	entry := findLogEntry(t, hook, observabilityEvent)
	if entry.Level != log.WarnLevel {
		t.Fatalf("expected warn level, got %v", entry.Level)
	}
	if entry.Data["severity_number"] != 13 {
		t.Fatalf("unexpected severity %v", entry.Data["severity_number"])
	}
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		failures int
		err      error
		text     string
		number   int
	}{
		{0, nil, "INFO", 9},
		{2, nil, "WARN", 13},
		{0, errors.New("encode"), "ERROR", 17},
	}
	for _, tc := range cases {
		text, number := severityFor(tc.failures, tc.err)
		if text != tc.text || number != tc.number {
			t.Fatalf("severityFor(%d, %v) = %s/%d", tc.failures, tc.err, text, number)
		}
	}
}

func TestDurationToMillis(t *testing.T) {
	if got := durationToMillis(1500 * time.Microsecond); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
	if got := durationToMillis(-time.Second); got != 0 {
		t.Fatalf("expected 0 for negative durations, got %v", got)
	}
	if got := attributesToMap([]attribute.KeyValue{attribute.Bool("ok", true)}); got["ok"] != true {
		t.Fatalf("unexpected map %v", got)
	}
}
