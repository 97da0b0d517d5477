package browser

import (
	"errors"
	"log/slog"
)

// ErrRemoteUnhealthy is returned when the remote DevTools endpoint fails its health check.
var ErrRemoteUnhealthy = errors.New("remote browser endpoint is unhealthy")

// HealthChecker reports whether a remote browser endpoint is reachable.
type HealthChecker interface {
	IsHealthy() bool
}

// Factory creates one driver per capture job.
type Factory struct {
	config *DriverConfig
	health HealthChecker
	logger *slog.Logger
}

// NewFactory creates a driver factory. health may be nil for local browsers.
func NewFactory(config *DriverConfig, health HealthChecker, logger *slog.Logger) *Factory {
	if config == nil {
		config = DefaultDriverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{config: config, health: health, logger: logger}
}

// NewDriver returns a fresh driver, refusing remote endpoints that are down.
func (f *Factory) NewDriver() (Driver, error) {
	if f.config.RemoteURL != "" && f.health != nil && !f.health.IsHealthy() {
		return nil, ErrRemoteUnhealthy
	}
	return NewChromeDPDriver(f.config, f.logger), nil
}

// Config returns the driver configuration shared by all drivers.
func (f *Factory) Config() *DriverConfig {
	return f.config
}
