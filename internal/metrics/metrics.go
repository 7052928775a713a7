// Package metrics counts connection, playback and conversation activity
// from the event bus and exposes it for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/astraavatar/internal/bus"
)

// Metrics holds the client's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Connections         prometheus.Counter
	Connected           prometheus.Gauge
	ReconnectsScheduled prometheus.Counter
	FramesReceived      *prometheus.CounterVec
	FramesDropped       *prometheus.CounterVec
	SendsDropped        *prometheus.CounterVec
	Tracks              *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	UserMessages        prometheus.Counter
	ResponseLength      prometheus.Histogram
}

// New registers the collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: f.NewCounter(prometheus.CounterOpts{
			Name: "astra_connections_total",
			Help: "Total number of backend connections opened",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "astra_connected",
			Help: "Whether the backend connection is open",
		}),
		ReconnectsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "astra_reconnects_scheduled_total",
			Help: "Total number of reconnect timers armed",
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_frames_received_total",
			Help: "Total number of decoded server frames",
		}, []string{"type"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_frames_dropped_total",
			Help: "Total number of server frames ignored",
		}, []string{"reason"}),
		SendsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_sends_dropped_total",
			Help: "Total number of user messages that could not be sent",
		}, []string{"reason"}),
		Tracks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_tracks_total",
			Help: "Total number of audio tracks by outcome",
		}, []string{"status"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_state_transitions_total",
			Help: "Total number of conversation state changes by target state",
		}, []string{"to"}),
		UserMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "astra_user_messages_total",
			Help: "Total number of user messages submitted",
		}),
		ResponseLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "astra_response_length_chars",
			Help:    "Length of finalized assistant responses",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		}),
	}
}

// Subscribe feeds the collectors from bus events
func (m *Metrics) Subscribe(eventBus *bus.EventBus) {
	eventBus.Subscribe(bus.EventTypeConnected, func(bus.Event) {
		m.Connections.Inc()
		m.Connected.Set(1)
	})
	eventBus.Subscribe(bus.EventTypeDisconnected, func(bus.Event) {
		m.Connected.Set(0)
	})
	eventBus.Subscribe(bus.EventTypeReconnectScheduled, func(bus.Event) {
		m.ReconnectsScheduled.Inc()
	})
	eventBus.Subscribe(bus.EventTypeFrameReceived, func(e bus.Event) {
		m.FramesReceived.WithLabelValues(str(e, "type")).Inc()
	})
	eventBus.Subscribe(bus.EventTypeFrameDropped, func(e bus.Event) {
		m.FramesDropped.WithLabelValues(str(e, "reason")).Inc()
	})
	eventBus.Subscribe(bus.EventTypeSendDropped, func(e bus.Event) {
		m.SendsDropped.WithLabelValues(str(e, "reason")).Inc()
	})
	eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTypeTrackQueued,
		bus.EventTypeTrackStarted,
		bus.EventTypeTrackFinished,
		bus.EventTypeTrackFailed,
	}, func(e bus.Event) {
		m.Tracks.WithLabelValues(str(e, "status")).Inc()
	})
	eventBus.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) {
		m.StateTransitions.WithLabelValues(str(e, "to")).Inc()
	})
	eventBus.Subscribe(bus.EventTypeUserMessage, func(bus.Event) {
		m.UserMessages.Inc()
	})
	eventBus.Subscribe(bus.EventTypeResponseDone, func(e bus.Event) {
		if n, ok := e.Data["length"].(int); ok {
			m.ResponseLength.Observe(float64(n))
		}
	})
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func str(e bus.Event, key string) string {
	if v, ok := e.Data[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}
