package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kikitori"

// Metrics holds the pipeline collectors on a private registry. All record
// methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	ChunksOffered    prometheus.Counter
	ChunksDropped    *prometheus.CounterVec
	ChunksSent       *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	Polls            *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ChannelFrames    *prometheus.CounterVec
	LivenessFailures prometheus.Counter
	BackendRequests  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ChunksOffered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_offered_total",
			Help:      "Audio chunks handed off from the capture callback",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks dropped before sending",
		}, []string{"reason"}),
		ChunksSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Audio chunks sent to the backend",
		}, []string{"path"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_send_failures_total",
			Help:      "Audio chunks the backend did not accept",
		}, []string{"path"}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status polls by observed result",
		}, []string{"result"}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions by final outcome",
		}, []string{"outcome"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from session start to final outcome",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ChannelFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_total",
			Help:      "Channel frames by direction",
		}, []string{"direction"}),
		LivenessFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_liveness_failures_total",
			Help:      "Channel connections closed for missing heartbeats",
		}),
		BackendRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "REST backend request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "code"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordChunkOffered() {
	if m == nil {
		return
	}
	m.ChunksOffered.Inc()
}

func (m *Metrics) RecordChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordChunkSent(path string) {
	if m == nil {
		return
	}
	m.ChunksSent.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordSendFailure(path string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSession(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordChannelFrame(direction string) {
	if m == nil {
		return
	}
	m.ChannelFrames.WithLabelValues(direction).Inc()
}

func (m *Metrics) RecordLivenessFailure() {
	if m == nil {
		return
	}
	m.LivenessFailures.Inc()
}

func (m *Metrics) RecordBackendRequest(op, code string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(op, code).Observe(durationSeconds)
}
