// Package metrics exposes Prometheus counters for the live pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Media metrics
	AudioBytesTotal   *prometheus.CounterVec
	FramesSentTotal   prometheus.Counter
	FramesSkipped     prometheus.Counter
	SendFailuresTotal *prometheus.CounterVec
	DecodeFailures    prometheus.Counter

	// Playback metrics
	PlaybackUnderruns prometheus.Counter
	Interruptions     prometheus.Counter

	// Perception metrics
	PerceptionTransitions *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_sight"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions currently connected",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Live sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM16 audio bytes by direction",
		}, []string{"direction"}),
		FramesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Camera frames sent to the model",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frame ticks skipped because the previous frame was still in flight",
		}),
		SendFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Realtime inputs that failed to send",
		}, []string{"kind"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound audio segments dropped because they failed to decode",
		}),
		PlaybackUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_underruns_total",
			Help:      "Segments that arrived after the playback queue drained",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Model turns interrupted by the user",
		}),
		PerceptionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perception_transitions_total",
			Help:      "Perception state changes by target state",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.AudioBytesTotal,
		m.FramesSentTotal,
		m.FramesSkipped,
		m.SendFailuresTotal,
		m.DecodeFailures,
		m.PlaybackUnderruns,
		m.Interruptions,
		m.PerceptionTransitions,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded records a connected session ending with outcome
// ("stopped", "remote_closed", "error").
func (m *Metrics) SessionEnded(outcome string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// SessionFailed records a start attempt that never connected.
func (m *Metrics) SessionFailed() {
	m.SessionsTotal.WithLabelValues("start_failed").Inc()
}

func (m *Metrics) AudioSent(bytes int) {
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(bytes))
}

func (m *Metrics) AudioReceived(bytes int) {
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

func (m *Metrics) FrameSent(int) {
	m.FramesSentTotal.Inc()
}

func (m *Metrics) FrameSkipped() {
	m.FramesSkipped.Inc()
}

func (m *Metrics) SendFailed(kind channel.Kind) {
	m.SendFailuresTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) DecodeFailed(n int) {
	m.DecodeFailures.Add(float64(n))
}

func (m *Metrics) Underrun() {
	m.PlaybackUnderruns.Inc()
}

func (m *Metrics) Interrupted() {
	m.Interruptions.Inc()
}

func (m *Metrics) PerceptionChanged(state string) {
	m.PerceptionTransitions.WithLabelValues(state).Inc()
}
