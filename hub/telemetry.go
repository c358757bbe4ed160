package hub

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

const (
	tracerName         = "campaign-live/hub"
	publishSpanName    = "hub.publish"
	publishEventName   = "live.hub.publish"
	publishEventDomain = "live"
	observabilityEvent = "observability.event"
)

type publishTelemetry struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	attrs  []attribute.KeyValue
}

func newPublishTelemetry(ctx context.Context, logger *log.Logger, ev domain.ChangeEvent, topics []string) *publishTelemetry {
	attrs := []attribute.KeyValue{
		attribute.String("live.event.entity_id", ev.EntityID),
		attribute.String("live.event.change_type", string(ev.ChangeType)),
		attribute.String("live.event.timestamp", ev.Timestamp),
		attribute.StringSlice("live.publish.topics", topics),
	}
	if ev.GameID != "" {
		attrs = append(attrs, attribute.String("live.event.game_id", ev.GameID))
	}
	if ev.AffectedRelation != "" {
		attrs = append(attrs, attribute.String("live.event.relation", ev.AffectedRelation))
	}
	_, span := otel.Tracer(tracerName).Start(ctx, publishSpanName, trace.WithAttributes(attrs...))
	return &publishTelemetry{logger: logger, span: span, start: time.Now(), attrs: attrs}
}

// Finish closes the span and emits one observability event to the span and
// the log.
func (t *publishTelemetry) Finish(delivered, failures int, err error) {
	if t == nil {
		return
	}
	severityText, severityNumber := severityFor(failures, err)
	attrs := append(append([]attribute.KeyValue{}, t.attrs...),
		attribute.Int("live.publish.delivered", delivered),
		attribute.Int("live.publish.send_failures", failures),
		attribute.Float64("live.publish.total_ms", durationToMillis(time.Since(t.start))),
	)
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", publishEventName),
		attribute.String("event.domain", publishEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	t.span.SetAttributes(attrs...)
	t.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	switch {
	case err != nil:
		t.span.SetStatus(codes.Error, err.Error())
	case failures > 0:
		t.span.SetStatus(codes.Error, "send failures")
	default:
		t.span.SetStatus(codes.Ok, "")
	}
	t.span.End()

	if t.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      publishEventName,
		"event.domain":    publishEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToMap(attrs),
	}
	if sc := t.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := t.logger.WithFields(fields)
	if severityNumber >= 13 {
		entry.Warn(observabilityEvent)
		return
	}
	entry.Debug(observabilityEvent)
}

func severityFor(failures int, err error) (string, int) {
	if err != nil {
		return "ERROR", 17
	}
	if failures > 0 {
		return "WARN", 13
	}
	return "INFO", 9
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
