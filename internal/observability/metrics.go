package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Update metrics
	updateChecks      *prometheus.CounterVec
	updateState       prometheus.Gauge
	updateTransitions *prometheus.CounterVec
	downloadBytes     prometheus.Counter
	downloadDuration  *prometheus.HistogramVec

	// Bridge metrics
	invokes        *prometheus.CounterVec
	invokeDuration *prometheus.HistogramVec
	droppedPushes  *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hostbridge_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.updateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostbridge_update_checks_total",
			Help: "Version checks by source and result",
		},
		[]string{"source", "result"},
	)

	mm.updateState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hostbridge_update_state",
		Help: "Last reported update state (negative values are abort codes)",
	})

	mm.updateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostbridge_update_state_transitions_total",
			Help: "Update state transitions by target state",
		},
		[]string{"state"},
	)

	mm.downloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hostbridge_update_download_bytes_total",
		Help: "Bytes received for update packages",
	})

	mm.downloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostbridge_update_download_duration_seconds",
			Help:    "Update package download duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)

	mm.invokes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostbridge_bridge_invokes_total",
			Help: "Bridge invocations by channel and status",
		},
		[]string{"channel", "status"},
	)

	mm.invokeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostbridge_bridge_invoke_duration_seconds",
			Help:    "Bridge invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	mm.droppedPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostbridge_bridge_dropped_messages_total",
			Help: "Pushed messages dropped because a view outbox was full",
		},
		[]string{"channel"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.updateChecks,
		mm.updateState,
		mm.updateTransitions,
		mm.downloadBytes,
		mm.downloadDuration,
		mm.invokes,
		mm.invokeDuration,
		mm.droppedPushes,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveCheck implements update.Observer.
func (mm *MetricsManager) ObserveCheck(source update.Source, result update.VersionCheckResult) {
	label := "failed"
	switch {
	case result.OK && result.IsNewer:
		label = "newer"
	case result.OK:
		label = "current"
	}
	mm.updateChecks.WithLabelValues(string(source), label).Inc()
}

// ObserveState implements update.Observer.
func (mm *MetricsManager) ObserveState(state update.State) {
	mm.updateState.Set(float64(state))
	mm.updateTransitions.WithLabelValues(state.String()).Inc()
}

// ObserveDownload implements update.Observer.
func (mm *MetricsManager) ObserveDownload(bytes int64, duration time.Duration, ok bool) {
	if bytes > 0 {
		mm.downloadBytes.Add(float64(bytes))
	}
	result := StatusSuccess
	if !ok {
		result = StatusError
	}
	mm.downloadDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveInvoke implements bridge.Observer.
func (mm *MetricsManager) ObserveInvoke(channel string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	mm.invokes.WithLabelValues(channel, status).Inc()
	mm.invokeDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// ObserveDropped implements bridge.Observer.
func (mm *MetricsManager) ObserveDropped(_, channel string) {
	mm.droppedPushes.WithLabelValues(channel).Inc()
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
