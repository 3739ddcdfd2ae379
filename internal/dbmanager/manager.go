// Package dbmanager is the single entry point the application uses to reach
// its database. It owns the target resolver, the retrying connector and the
// auxiliary services, and serializes access to them.
//
// Start order is: auxiliary services, then the first connection, which
// provisions the schema and seed accounts. Every later AcquireConnection
// reuses the selected target and may still fall back if it fails.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/maloquacious/stockroom/internal/config"
	"github.com/maloquacious/stockroom/internal/connector"
	"github.com/maloquacious/stockroom/internal/lifecycle"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/schema"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/maloquacious/stockroom/internal/store/mysql"
	"github.com/maloquacious/stockroom/internal/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Manager is safe for concurrent use.
type Manager struct {
	log       logger.Logger
	registry  *prometheus.Registry
	lifecycle *lifecycle.Manager

	mu        sync.Mutex
	resolver  *store.Resolver
	connector *connector.Connector
}

// Option adjusts how New builds a Manager.
type Option func(*options)

type options struct {
	backends map[string]connector.Backend
}

// WithBackends replaces the default sqlite and mysql backends.
func WithBackends(backends map[string]connector.Backend) Option {
	return func(o *options) { o.backends = backends }
}

// New validates cfg and builds a Manager. Nothing is opened until Start or
// AcquireConnection.
func New(cfg config.Config, log logger.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log = logger.OrDefault(log)

	o := options{
		backends: map[string]connector.Backend{
			"sqlite": sqlite.New(cfg.BusyTimeout, log),
			"mysql":  mysql.New(cfg.DialTimeout, log),
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	preferred, networked, local := cfg.Targets()
	resolver := store.NewResolver(preferred, networked, local, cfg.UsePreferred)

	metrics := connector.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	registry.MustRegister(collectors.NewGoCollector())

	conn, err := connector.New(connector.Options{
		Resolver: resolver,
		Backends: o.backends,
		Policy:   connector.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay},
		Logger:   log,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		log:       log,
		registry:  registry,
		lifecycle: lifecycle.New(log),
		resolver:  resolver,
		connector: conn,
	}, nil
}

// Use registers auxiliary services. Call it before Start.
func (m *Manager) Use(services ...lifecycle.Service) {
	m.lifecycle.Add(services...)
}

// Start starts the auxiliary services and opens the first connection,
// which provisions the store. Service failures are logged; a connection
// failure is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Start(ctx)
	conn, err := m.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// AcquireConnection returns a live connection. The caller must close it,
// ideally within the same operation.
func (m *Manager) AcquireConnection(ctx context.Context) (*sql.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connector.Acquire(ctx)
}

// EnablePreferredExternalTarget toggles the preferred-external target. The
// next acquisition uses the new choice.
func (m *Manager) EnablePreferredExternalTarget(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver.EnablePreferredExternal(enabled)
	m.log.Info("dbmanager: preferred external target enabled=%v, active %s", enabled, m.resolver.Select().Description())
}

// IsUsingPreferredExternalTarget reports whether the preferred-external
// target is enabled.
func (m *Manager) IsUsingPreferredExternalTarget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolver.IsPreferredExternalEnabled()
}

// ActiveTargetDescription describes the active target for display.
func (m *Manager) ActiveTargetDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolver.Select().Description()
}

// Targets lists the configured targets in priority order.
func (m *Manager) Targets() []store.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolver.Targets()
}

// Dialect returns the schema dialect of the active target.
func (m *Manager) Dialect() (schema.Dialect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connector.Dialect(m.resolver.Select())
}

// Services lists the auxiliary services that are running.
func (m *Manager) Services() []string {
	return m.lifecycle.Running()
}

// Registry exposes the manager's metrics.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ShutdownAuxiliaryServices stops every running auxiliary service. It is
// safe to call more than once.
func (m *Manager) ShutdownAuxiliaryServices(ctx context.Context) {
	m.lifecycle.Shutdown(ctx)
}

// Close stops the auxiliary services and releases every store handle.
func (m *Manager) Close(ctx context.Context) error {
	m.ShutdownAuxiliaryServices(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connector.Close()
}
