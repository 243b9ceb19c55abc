// Package metrics holds the Prometheus collectors shared by the connection
// manager, the dispatcher and the history recorder.
//
// Every recording method is safe on a nil *Metrics so components can run
// without a registry in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/logger"
)

const namespace = "shaken"

// Metrics groups the collectors exposed by the bot host
type Metrics struct {
	Connects         prometheus.Counter
	Disconnects      *prometheus.CounterVec
	Connected        prometheus.Gauge
	FramesReceived   *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	ListenerErrors   prometheus.Counter
	Reloads          *prometheus.CounterVec
	ResponsesDropped prometheus.Counter
	HistoryWritten   prometheus.Counter
	HistoryDropped   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irc",
			Name:      "connects_total",
			Help:      "Completed registrations with the chat server",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irc",
			Name:      "disconnects_total",
			Help:      "Connection losses by reason",
		}, []string{"reason"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "irc",
			Name:      "connected",
			Help:      "1 while a registered connection is up",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irc",
			Name:      "frames_received_total",
			Help:      "Inbound protocol frames by type",
		}, []string{"type"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "irc",
			Name:      "frames_sent_total",
			Help:      "Outbound protocol frames by kind",
		}, []string{"kind"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Command dispatch results",
		}, []string{"command", "result"}),
		ListenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "listener_errors_total",
			Help:      "Listener invocations that returned an error",
		}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "reloads_total",
			Help:      "Manifest reload attempts by status",
		}, []string{"status"}),
		ResponsesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "responses_dropped_total",
			Help:      "Responses dropped because the outbound queue was full",
		}),
		HistoryWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "rows_written_total",
			Help:      "Chat lines flushed to the history database",
		}),
		HistoryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "rows_dropped_total",
			Help:      "Chat lines dropped before reaching the history database",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Connects,
		m.Disconnects,
		m.Connected,
		m.FramesReceived,
		m.FramesSent,
		m.Dispatches,
		m.ListenerErrors,
		m.Reloads,
		m.ResponsesDropped,
		m.HistoryWritten,
		m.HistoryDropped,
	}
}

func (m *Metrics) ConnectionUp() {
	if m == nil {
		return
	}
	m.Connects.Inc()
	m.Connected.Set(1)
}

func (m *Metrics) ConnectionDown(reason string) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(reason).Inc()
	m.Connected.Set(0)
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dispatched(command, result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ListenerFailed() {
	if m == nil {
		return
	}
	m.ListenerErrors.Inc()
}

func (m *Metrics) Reloaded(status string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(status).Inc()
}

func (m *Metrics) ResponseDropped() {
	if m == nil {
		return
	}
	m.ResponsesDropped.Inc()
}

func (m *Metrics) HistoryFlushed(rows int) {
	if m == nil {
		return
	}
	m.HistoryWritten.Add(float64(rows))
}

func (m *Metrics) HistoryLost(rows int) {
	if m == nil {
		return
	}
	m.HistoryDropped.Add(float64(rows))
}

// Handler returns the exposition handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve exposes g on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("metrics-server-listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithFields(logrus.Fields{
				"addr":  addr,
				"error": err,
			}).Warn("metrics-server-shutdown-failed")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
