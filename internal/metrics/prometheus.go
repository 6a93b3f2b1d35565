package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the lip-sync service.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	PacketsLost      prometheus.Counter
	PacketsLate      prometheus.Counter
	QueueSize        prometheus.Gauge
	SamplesIngested  prometheus.Counter

	// Analyzer lifecycle metrics
	ActiveAnalyzers    prometheus.Gauge
	AnalyzersCreated   prometheus.Counter
	AnalyzersDestroyed prometheus.Counter
	AnalyzerLifetime   prometheus.Histogram

	// Analysis cycle metrics
	CyclesCompleted  *prometheus.CounterVec
	TicksSkipped     prometheus.Counter
	ExtractionErrors prometheus.Counter
	CycleDuration    prometheus.Histogram
	VowelsDetected   *prometheus.CounterVec
	MatchDistance    prometheus.Histogram

	// Calibration metrics
	CalibrationSamples *prometheus.CounterVec

	// Result stream metrics
	WebsocketClients  prometheus.Gauge
	WebsocketDropped  prometheus.Counter
	WebsocketMessages prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_packets_lost_total",
			Help: "Total number of audio packets missing from sequence gaps",
		}),
		PacketsLate: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_packets_late_total",
			Help: "Total number of out-of-order or duplicate audio packets dropped",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lipsync_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),
		SamplesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_samples_ingested_total",
			Help: "Total number of mono samples written into ring buffers",
		}),

		// Analyzer lifecycle metrics
		ActiveAnalyzers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lipsync_active_analyzers",
			Help: "Current number of running analyzers",
		}),
		AnalyzersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_analyzers_created_total",
			Help: "Total number of analyzers created",
		}),
		AnalyzersDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_analyzers_destroyed_total",
			Help: "Total number of analyzers destroyed",
		}),
		AnalyzerLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_analyzer_lifetime_seconds",
			Help:    "Lifetime of analyzers in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Analysis cycle metrics
		CyclesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_cycles_completed_total",
			Help: "Total number of completed analysis cycles by result status",
		}, []string{"status"}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_ticks_skipped_total",
			Help: "Total number of ticks skipped because the previous job was still running",
		}),
		ExtractionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_extraction_errors_total",
			Help: "Total number of cycles whose feature extraction failed",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_cycle_duration_seconds",
			Help:    "Time spent extracting and classifying one window",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),
		VowelsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_vowels_detected_total",
			Help: "Total number of matched windows by vowel",
		}, []string{"vowel"}),
		MatchDistance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_match_distance",
			Help:    "Normalized distance to the selected vowel",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 10),
		}),

		// Calibration metrics
		CalibrationSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_calibration_samples_total",
			Help: "Total number of calibration samples added by vowel",
		}, []string{"vowel"}),

		// Result stream metrics
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lipsync_websocket_clients",
			Help: "Current number of connected result stream clients",
		}),
		WebsocketDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_websocket_dropped_total",
			Help: "Total number of results dropped for slow websocket clients",
		}),
		WebsocketMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_websocket_messages_total",
			Help: "Total number of results sent to websocket clients",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lipsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketsLost adds the size of a sequence gap to the lost packets counter
func (m *Metrics) RecordPacketsLost(count uint32) {
	if m == nil {
		return
	}
	m.PacketsLost.Add(float64(count))
}

// RecordPacketLate increments the late packets counter
func (m *Metrics) RecordPacketLate() {
	if m == nil {
		return
	}
	m.PacketsLate.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordSamplesIngested adds to the ingested samples counter
func (m *Metrics) RecordSamplesIngested(count int) {
	if m == nil {
		return
	}
	m.SamplesIngested.Add(float64(count))
}

// SetActiveAnalyzers sets the current number of running analyzers
func (m *Metrics) SetActiveAnalyzers(count int) {
	if m == nil {
		return
	}
	m.ActiveAnalyzers.Set(float64(count))
}

// RecordAnalyzerCreated increments the analyzers created counter
func (m *Metrics) RecordAnalyzerCreated() {
	if m == nil {
		return
	}
	m.AnalyzersCreated.Inc()
}

// RecordAnalyzerDestroyed increments the analyzers destroyed counter and records lifetime
func (m *Metrics) RecordAnalyzerDestroyed(lifetimeSeconds float64) {
	if m == nil {
		return
	}
	m.AnalyzersDestroyed.Inc()
	m.AnalyzerLifetime.Observe(lifetimeSeconds)
}

// RecordCycle records one completed analysis cycle
func (m *Metrics) RecordCycle(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CyclesCompleted.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(durationSeconds)
}

// RecordVowel records a matched vowel and its distance
func (m *Metrics) RecordVowel(vowel string, distance float64) {
	if m == nil {
		return
	}
	m.VowelsDetected.WithLabelValues(vowel).Inc()
	m.MatchDistance.Observe(distance)
}

// RecordTickSkipped increments the skipped ticks counter
func (m *Metrics) RecordTickSkipped() {
	if m == nil {
		return
	}
	m.TicksSkipped.Inc()
}

// RecordExtractionError increments the extraction errors counter
func (m *Metrics) RecordExtractionError() {
	if m == nil {
		return
	}
	m.ExtractionErrors.Inc()
}

// RecordCalibration increments the calibration samples counter for a vowel
func (m *Metrics) RecordCalibration(vowel string) {
	if m == nil {
		return
	}
	m.CalibrationSamples.WithLabelValues(vowel).Inc()
}

// SetWebsocketClients sets the current number of websocket clients
func (m *Metrics) SetWebsocketClients(count int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(count))
}

// RecordWebsocketMessage increments the sent messages counter
func (m *Metrics) RecordWebsocketMessage() {
	if m == nil {
		return
	}
	m.WebsocketMessages.Inc()
}

// RecordWebsocketDropped increments the dropped messages counter
func (m *Metrics) RecordWebsocketDropped() {
	if m == nil {
		return
	}
	m.WebsocketDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
