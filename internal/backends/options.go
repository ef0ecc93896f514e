package backends

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Option func(*Manager)

// WithLogger sets a custom logger for the Manager instance.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLogHandler sets a custom log handler for the Manager instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(m *Manager) {
		m.logger = slog.New(handler)
	}
}

// WithContext sets a custom parent context for the Manager instance.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.parentCtx = ctx
	}
}

// WithTransportFactory replaces how backend transports are constructed.
func WithTransportFactory(factory TransportFactory) Option {
	return func(m *Manager) {
		if factory != nil {
			m.transport = factory
		}
	}
}

// WithSyncTimeout bounds each discovery pass against a backend.
func WithSyncTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.syncTimeout = d
		}
	}
}

// WithImplementation overrides the client identity announced to backends.
func WithImplementation(impl *mcp.Implementation) Option {
	return func(m *Manager) {
		if impl != nil {
			m.impl = impl
		}
	}
}
