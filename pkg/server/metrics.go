package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently active (authenticated) clients",
	})

	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "Lifetime TCP connections accepted",
	})

	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total broadcast events by type",
	}, []string{"type"})

	authAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_auth_attempts_total",
		Help: "Authentication attempts by result",
	}, []string{"result"})

	broadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_broadcast_duration_seconds",
		Help:    "Time to fan one event out to all active sessions",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(connectedClients)
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(messagesTotal)
	prometheus.MustRegister(authAttemptsTotal)
	prometheus.MustRegister(broadcastDuration)
}

// startMetricsHTTP serves /metrics and /healthz in the background and shuts
// down when the server context is cancelled. Disabled when MetricsAddr is
// empty.
func (s *Server) startMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}
