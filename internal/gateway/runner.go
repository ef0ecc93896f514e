package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ion-ash/mcp-mux/internal/finitestate"
	"github.com/robbyt/go-supervisor/runnables/httpserver"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*HTTPServer)(nil)
	_ supervisor.Stateable = (*HTTPServer)(nil)
)

// HTTPTimeouts carries the timeout configuration of the HTTP listener.
type HTTPTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
	Drain time.Duration
}

// HTTPServer wraps the go-supervisor HTTP runner with the gateway's
// routes. It implements supervisor.Runnable.
type HTTPServer struct {
	address string
	runner  *httpserver.Runner
	logger  *slog.Logger
}

// NewHTTPServer creates the HTTP listener for the given routes.
func NewHTTPServer(
	address string,
	routes []httpserver.Route,
	timeouts HTTPTimeouts,
	logger *slog.Logger,
) (*HTTPServer, error) {
	if logger == nil {
		logger = slog.Default().WithGroup("gateway.HTTPServer")
	}

	configCallback := func() (*httpserver.Config, error) {
		options := []httpserver.ConfigOption{}
		if timeouts.Read > 0 {
			options = append(options, httpserver.WithReadTimeout(timeouts.Read))
		}
		if timeouts.Write > 0 {
			options = append(options, httpserver.WithWriteTimeout(timeouts.Write))
		}
		if timeouts.Idle > 0 {
			options = append(options, httpserver.WithIdleTimeout(timeouts.Idle))
		}
		if timeouts.Drain > 0 {
			options = append(options, httpserver.WithDrainTimeout(timeouts.Drain))
		}

		config, err := httpserver.NewConfig(address, routes, options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP server config: %w", err)
		}
		return config, nil
	}

	runner, err := httpserver.NewRunner(httpserver.WithConfigCallback(configCallback))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server runner: %w", err)
	}

	return &HTTPServer{
		address: address,
		runner:  runner,
		logger:  logger,
	}, nil
}

// String returns a unique identifier for this server
func (s *HTTPServer) String() string {
	return fmt.Sprintf("gateway.HTTPServer[%s]", s.address)
}

// Run starts the HTTP server
func (s *HTTPServer) Run(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "address", s.address)
	return s.runner.Run(ctx)
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() {
	s.logger.Info("Stopping HTTP server", "address", s.address)
	s.runner.Stop()
}

// GetState returns the current state of the server
func (s *HTTPServer) GetState() string {
	return s.runner.GetState()
}

// IsRunning returns whether the server is running
func (s *HTTPServer) IsRunning() bool {
	return s.runner.GetState() == finitestate.StatusRunning
}

// GetStateChan returns a channel that emits state changes
func (s *HTTPServer) GetStateChan(ctx context.Context) <-chan string {
	return s.runner.GetStateChan(ctx)
}
