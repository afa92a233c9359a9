package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds configuration for observability features
type Config struct {
	Metrics MetricsConfig `json:"metrics" toml:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" toml:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// MetricsConfig holds configuration for metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a default observability configuration
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1,
		},
	}
}

// Manager coordinates metrics and tracing.
type Manager struct {
	logger  *zap.SugaredLogger
	config  Config
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	manager := &Manager{
		logger:    logger,
		config:    config,
		startTime: time.Now(),
	}

	if config.Metrics.Enabled {
		manager.metrics = NewMetricsManager(logger)
		logger.Debug("Prometheus metrics enabled")
	}

	var err error
	manager.tracing, err = NewTracingManager(logger, config.Tracing)
	if err != nil {
		return nil, err
	}

	return manager, nil
}

// Metrics returns the metrics manager, or nil when metrics are disabled.
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// Uptime returns the time since the manager was created.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// RefreshUptime updates the uptime gauge.
func (m *Manager) RefreshUptime() {
	if m.metrics != nil {
		m.metrics.SetUptime(m.startTime)
	}
}

// Close shuts down tracing.
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		return m.tracing.Close(ctx)
	}
	return nil
}
