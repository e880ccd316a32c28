package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kapicorp/tesoro/pkg/config"
)

// MetricsPath is where the metrics listener serves Prometheus metrics.
const MetricsPath = "/metrics"

// MetricsServer serves a Prometheus gatherer on its own listener.
type MetricsServer struct {
	cfg      config.MetricsConfig
	gatherer prometheus.Gatherer
	log      logr.Logger
}

// NewMetricsServer creates a metrics server for gatherer.
func NewMetricsServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, log logr.Logger) *MetricsServer {
	return &MetricsServer{cfg: cfg, gatherer: gatherer, log: log.WithName("metrics")}
}

// Handler returns the HTTP handler for the metrics listener.
func (m *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+MetricsPath, promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves metrics until ctx is done.
func (m *MetricsServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.cfg.Address(),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.log.Info("starting metrics server", "address", srv.Addr)
	return serve(ctx, srv, false, 5*time.Second, m.log)
}
