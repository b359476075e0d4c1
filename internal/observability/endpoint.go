package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates a telemetry endpoint. It returns an error if telemetry is disabled.
func NewEndpoint(settings conf.TelemetrySettings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.Newf("telemetry not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)

	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
		server: &http.Server{
			Addr:              settings.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("telemetry endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.New(err).
				Component("observability").
				Category(errors.CategoryNetwork).
				Context("address", e.listenAddress).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		log.Error("telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
