package federation

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry kinds used as a label on publish and retract metrics.
const (
	KindSelf   = "self"
	KindRemote = "remote"
)

// Resolve outcomes.
const (
	OutcomeResolved   = "resolved"
	OutcomeUnresolved = "unresolved"
	OutcomeCancelled  = "cancelled"
	OutcomeFailed     = "failed"
)

// RegistryMetrics tracks registry synchronization and resolution
type RegistryMetrics struct {
	// Publish metrics
	PublishAttempts *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec

	// Retraction metrics
	RetractAttempts *prometheus.CounterVec
	RetractFailures *prometheus.CounterVec

	// Resolution metrics
	ResolvePasses   prometheus.Counter
	ResolveOutcomes *prometheus.CounterVec
	ResolveLatency  prometheus.Histogram

	// Remote storage metrics
	RemoteCallLatency *prometheus.HistogramVec
	RemoteCallErrors  *prometheus.CounterVec

	// Directory metrics
	DirectorySize prometheus.Gauge
	TrustedPeers  prometheus.Gauge
}

// NewRegistryMetrics creates and registers Prometheus metrics
func NewRegistryMetrics(registry prometheus.Registerer) *RegistryMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &RegistryMetrics{
		PublishAttempts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_publish_attempts_total",
			Help: "Total number of record publish attempts per registry kind",
		}, []string{"kind"}),
		PublishFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_publish_failures_total",
			Help: "Total number of failed record publishes per registry kind",
		}, []string{"kind"}),

		RetractAttempts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_retract_attempts_total",
			Help: "Total number of record retraction attempts per registry kind",
		}, []string{"kind"}),
		RetractFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_retract_failures_total",
			Help: "Total number of failed record retractions per registry kind",
		}, []string{"kind"}),

		ResolvePasses: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "registry_resolve_passes_total",
			Help: "Total number of full directory scans made while resolving",
		}),
		ResolveOutcomes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_resolve_outcomes_total",
			Help: "Resolve calls by outcome",
		}, []string{"outcome"}),
		ResolveLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_resolve_latency_seconds",
			Help:    "Time taken by a resolve call",
			Buckets: prometheus.DefBuckets,
		}),

		RemoteCallLatency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_remote_call_latency_seconds",
			Help:    "Remote storage call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "mode"}),
		RemoteCallErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "registry_remote_call_errors_total",
			Help: "Total number of failed remote storage calls",
		}, []string{"op", "mode"}),

		DirectorySize: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "registry_directory_size",
			Help: "Number of registries in the active directory",
		}),
		TrustedPeers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "registry_trusted_peers",
			Help: "Number of peers held in local trust state",
		}),
	}
}

// ObserveRemoteCall records the outcome of one remote storage call.
func (m *RegistryMetrics) ObserveRemoteCall(op, mode string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.RemoteCallLatency.WithLabelValues(op, mode).Observe(time.Since(started).Seconds())
	if err != nil {
		m.RemoteCallErrors.WithLabelValues(op, mode).Inc()
	}
}

// RegisterHandlers registers the metrics and liveness handlers on mux.
func RegisterHandlers(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.HandleFunc("/health/live", handleLiveness)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// handleLiveness checks if the service is alive
func handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// StartMetricsServer starts a Prometheus metrics server on addr
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	RegisterHandlers(mux, gatherer)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}

// KindOf returns the registry kind label for a self or remote registry.
func KindOf(self bool) string {
	if self {
		return KindSelf
	}
	return KindRemote
}
