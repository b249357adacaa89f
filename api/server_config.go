package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the custody HTTP listener and its companion
// metrics listener.
type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr disables the Prometheus exporter when empty.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown keeps the listener up with /readyz
	// failing, so load balancers stop sending work first.
	DrainDuration time.Duration
	// GracefulShutdownDuration bounds in-flight requests during Shutdown.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes caps wallet API request bodies; zero keeps the 1 MiB default.
	MaxBodyBytes int64
}
