// Package metrics exposes Prometheus counters for the custody service and the
// HTTP server that serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	walletsCreated     *prometheus.CounterVec
	transfersInitiated *prometheus.CounterVec
	transfersCompleted *prometheus.CounterVec
	sharesRevoked      *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		walletsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallets_created_total",
			Help:      "Wallets created, by chain and outcome",
		}, []string{"chain", "outcome"}),
		transfersInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_initiated_total",
			Help:      "First-phase authorizations, by chain and outcome",
		}, []string{"chain", "outcome"}),
		transfersCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_completed_total",
			Help:      "Second-phase completions, by chain and outcome",
		}, []string{"chain", "outcome"}),
		sharesRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_revoked_total",
			Help:      "Share revocations that deactivated a record",
		}, []string{"chain"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of wallet operations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WalletCreated counts a CreateWallet call. outcome is "ok" or an error kind.
func (m *Metrics) WalletCreated(chain, outcome string) {
	if m == nil {
		return
	}
	m.walletsCreated.WithLabelValues(chain, outcome).Inc()
}

// TransferInitiated counts an InitiateTransaction call.
func (m *Metrics) TransferInitiated(chain, outcome string) {
	if m == nil {
		return
	}
	m.transfersInitiated.WithLabelValues(chain, outcome).Inc()
}

// TransferCompleted counts a CompleteTransaction or rebroadcast call.
func (m *Metrics) TransferCompleted(chain, outcome string) {
	if m == nil {
		return
	}
	m.transfersCompleted.WithLabelValues(chain, outcome).Inc()
}

// ShareRevoked counts a revocation that changed a record.
func (m *Metrics) ShareRevoked(chain string) {
	if m == nil {
		return
	}
	m.sharesRevoked.WithLabelValues(chain).Inc()
}

// ObserveDuration records the time since start for operation.
func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// MetricsServer serves /metrics for a Metrics registry.
type MetricsServer struct {
	metrics *Metrics
	srv     *http.Server
}

// New creates the metrics and a server for them on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, errors.New("metrics namespace must not be empty")
	}
	m := NewMetrics(namespace)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))

	return &MetricsServer{
		metrics: m,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Metrics returns the collectors served by s.
func (s *MetricsServer) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the /metrics router.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
