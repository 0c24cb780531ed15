package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSpanRecorder keeps finished spans in memory for assertions.
type TestSpanRecorder struct {
	exporter *tracetest.InMemoryExporter
}

func NewTestSpanRecorder() *TestSpanRecorder {
	return &TestSpanRecorder{exporter: tracetest.NewInMemoryExporter()}
}

func (r *TestSpanRecorder) GetSpans() []trace.ReadOnlySpan {
	return r.exporter.GetSpans().Snapshots()
}

func (r *TestSpanRecorder) GetSpansByName(name string) []trace.ReadOnlySpan {
	return r.filter(func(span trace.ReadOnlySpan) bool { return span.Name() == name })
}

// GetSpansByOperation matches the "operation" attribute the repositories set.
func (r *TestSpanRecorder) GetSpansByOperation(operation string) []trace.ReadOnlySpan {
	return r.filter(func(span trace.ReadOnlySpan) bool {
		for _, attr := range span.Attributes() {
			if attr.Key == "operation" && attr.Value.AsString() == operation {
				return true
			}
		}
		return false
	})
}

func (r *TestSpanRecorder) Clear() {
	r.exporter.Reset()
}

func (r *TestSpanRecorder) filter(keep func(trace.ReadOnlySpan) bool) []trace.ReadOnlySpan {
	var result []trace.ReadOnlySpan
	for _, span := range r.GetSpans() {
		if keep(span) {
			result = append(result, span)
		}
	}
	return result
}

// InitTestTracing installs a global provider that exports every finished
// span to recorder synchronously, so tests need not wait for a batcher.
func InitTestTracing(serviceName, serviceVersion string, recorder *TestSpanRecorder) *trace.TracerProvider {
	tp := trace.NewTracerProvider(
		trace.WithSyncer(recorder.exporter),
		trace.WithResource(serviceResource(serviceName, serviceVersion)),
	)
	otel.SetTracerProvider(tp)
	return tp
}
