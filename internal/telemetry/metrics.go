package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/parusinf/timesheets-parus-bot"
)

// Attribute keys shared by the instruments below.
const (
	AttrCommand   = attribute.Key("tsheebot.command")
	AttrKind      = attribute.Key("tsheebot.event.kind")
	AttrState     = attribute.Key("tsheebot.state")
	AttrTenant    = attribute.Key("tsheebot.tenant")
	AttrOperation = attribute.Key("tsheebot.operation")
	AttrOutcome   = attribute.Key("tsheebot.outcome")
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Conversation metrics
	TurnsTotal       metric.Int64Counter
	TurnErrorsTotal  metric.Int64Counter
	TurnDuration     metric.Float64Histogram
	TransitionsTotal metric.Int64Counter

	// Resolution metrics
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter
	CacheInserts     metric.Int64Counter

	// Remote directory metrics
	RemoteCallsTotal  metric.Int64Counter
	RemoteErrorsTotal metric.Int64Counter
	RemoteDuration    metric.Float64Histogram

	// Report exchange metrics
	ReportsDeliveredTotal metric.Int64Counter
	ReportsSubmittedTotal metric.Int64Counter
	ReportsBufferedTotal  metric.Int64Counter
	ReportsRejectedTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.TurnsTotal, _ = meter.Int64Counter(
		"tsheebot.turns.total",
		metric.WithDescription("Total number of conversation turns handled"),
		metric.WithUnit("{turn}"),
	)

	m.TurnErrorsTotal, _ = meter.Int64Counter(
		"tsheebot.turns.errors.total",
		metric.WithDescription("Total number of turns that failed to commit"),
		metric.WithUnit("{error}"),
	)

	m.TurnDuration, _ = meter.Float64Histogram(
		"tsheebot.turns.duration",
		metric.WithDescription("Duration of conversation turns"),
		metric.WithUnit("ms"),
	)

	m.TransitionsTotal, _ = meter.Int64Counter(
		"tsheebot.transitions.total",
		metric.WithDescription("Total number of state transitions by target state"),
		metric.WithUnit("{transition}"),
	)

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"tsheebot.cache.hits.total",
		metric.WithDescription("Organization lookups answered from the identity cache"),
		metric.WithUnit("{lookup}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"tsheebot.cache.misses.total",
		metric.WithDescription("Organization lookups that needed a remote call"),
		metric.WithUnit("{lookup}"),
	)

	m.CacheInserts, _ = meter.Int64Counter(
		"tsheebot.cache.inserts.total",
		metric.WithDescription("Organization inserts by outcome (created, conflict, error)"),
		metric.WithUnit("{insert}"),
	)

	m.RemoteCallsTotal, _ = meter.Int64Counter(
		"tsheebot.remote.calls.total",
		metric.WithDescription("Total number of remote directory calls"),
		metric.WithUnit("{call}"),
	)

	m.RemoteErrorsTotal, _ = meter.Int64Counter(
		"tsheebot.remote.errors.total",
		metric.WithDescription("Total number of failed remote directory calls"),
		metric.WithUnit("{error}"),
	)

	m.RemoteDuration, _ = meter.Float64Histogram(
		"tsheebot.remote.duration",
		metric.WithDescription("Duration of remote directory calls"),
		metric.WithUnit("ms"),
	)

	m.ReportsDeliveredTotal, _ = meter.Int64Counter(
		"tsheebot.reports.delivered.total",
		metric.WithDescription("Reports fetched from a backend and delivered to a contact"),
		metric.WithUnit("{report}"),
	)

	m.ReportsSubmittedTotal, _ = meter.Int64Counter(
		"tsheebot.reports.submitted.total",
		metric.WithDescription("Reports submitted to a backend"),
		metric.WithUnit("{report}"),
	)

	m.ReportsBufferedTotal, _ = meter.Int64Counter(
		"tsheebot.reports.buffered.total",
		metric.WithDescription("Uploads held until the contact authenticates"),
		metric.WithUnit("{report}"),
	)

	m.ReportsRejectedTotal, _ = meter.Int64Counter(
		"tsheebot.reports.rejected.total",
		metric.WithDescription("Uploads rejected by validation"),
		metric.WithUnit("{report}"),
	)

	return m
}
