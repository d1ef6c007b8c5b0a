// Package metrics exposes interview counters for prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	SilenceTotal     *prometheus.CounterVec
	RemoteTotal      *prometheus.CounterVec
	RemoteDuration   *prometheus.HistogramVec
	SpeechDuration   prometheus.Histogram
	CapturedBytes    prometheus.Counter
	SessionsFinished *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "viva"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome",
		},
		[]string{"outcome"},
	)

	silenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_events_total",
			Help:      "Silence detector firings by reason",
		},
		[]string{"reason"},
	)

	remoteTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Interview service calls by operation and status",
		},
		[]string{"op", "status"},
	)

	remoteDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Interview service call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"op"},
	)

	speechDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_playback_seconds",
			Help:      "Time spent playing synthesized speech",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	capturedBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_payload_bytes_total",
			Help:      "Encoded microphone payload bytes",
		},
	)

	sessionsFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Finalize attempts by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		turnsTotal,
		silenceTotal,
		remoteTotal,
		remoteDuration,
		speechDuration,
		capturedBytes,
		sessionsFinished,
	)

	return &Metrics{
		registry:         registry,
		TurnsTotal:       turnsTotal,
		SilenceTotal:     silenceTotal,
		RemoteTotal:      remoteTotal,
		RemoteDuration:   remoteDuration,
		SpeechDuration:   speechDuration,
		CapturedBytes:    capturedBytes,
		SessionsFinished: sessionsFinished,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSilence(reason string) {
	if m == nil {
		return
	}
	m.SilenceTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRemote(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteTotal.WithLabelValues(op, status).Inc()
	m.RemoteDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) RecordSpeech(d time.Duration) {
	if m == nil {
		return
	}
	m.SpeechDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCapture(bytes int) {
	if m == nil {
		return
	}
	m.CapturedBytes.Add(float64(bytes))
}

func (m *Metrics) RecordFinalize(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SessionsFinished.WithLabelValues(result).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
