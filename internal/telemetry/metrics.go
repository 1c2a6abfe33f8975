package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	UploadsAccepted   metric.Int64Counter
	UploadsCompleted  metric.Int64Counter
	PipelineDuration  metric.Float64Histogram
	EventsStreamed    metric.Int64Counter
	ActiveStreams     metric.Int64UpDownCounter
	ContextAssemblies metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("document-context-platform")

	uploadsAccepted, err := meter.Int64Counter(
		"uploads.accepted.total",
		metric.WithDescription("Uploads accepted for processing"),
	)
	if err != nil {
		return nil, err
	}

	uploadsCompleted, err := meter.Int64Counter(
		"uploads.completed.total",
		metric.WithDescription("Uploads that reached a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	pipelineDuration, err := meter.Float64Histogram(
		"pipeline.duration",
		metric.WithDescription("Pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	eventsStreamed, err := meter.Int64Counter(
		"stream.events.total",
		metric.WithDescription("Events written to client streams"),
	)
	if err != nil {
		return nil, err
	}

	activeStreams, err := meter.Int64UpDownCounter(
		"stream.connections.active",
		metric.WithDescription("Currently connected event streams"),
	)
	if err != nil {
		return nil, err
	}

	contextAssemblies, err := meter.Int64Counter(
		"context.assemblies.total",
		metric.WithDescription("Context assembly runs"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		UploadsAccepted:   uploadsAccepted,
		UploadsCompleted:  uploadsCompleted,
		PipelineDuration:  pipelineDuration,
		EventsStreamed:    eventsStreamed,
		ActiveStreams:     activeStreams,
		ContextAssemblies: contextAssemblies,
	}, nil
}

// RecordUploadAccepted counts an accepted upload.
func (m *Metrics) RecordUploadAccepted(contentType string) {
	m.UploadsAccepted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("content_type", contentType)))
}

// RecordUploadCompleted counts a terminal pipeline outcome.
func (m *Metrics) RecordUploadCompleted(status string, duration float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.UploadsCompleted.Add(context.Background(), 1, attrs)
	m.PipelineDuration.Record(context.Background(), duration, attrs)
}

// RecordStreamEvent counts an event written to a client stream.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.EventsStreamed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event", eventType)))
}

// StreamOpened and StreamClosed track live stream connections.
func (m *Metrics) StreamOpened() {
	m.ActiveStreams.Add(context.Background(), 1)
}

func (m *Metrics) StreamClosed() {
	m.ActiveStreams.Add(context.Background(), -1)
}

// RecordAssembly counts one context assembly run.
func (m *Metrics) RecordAssembly(included int) {
	m.ContextAssemblies.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int("included", included)))
}
