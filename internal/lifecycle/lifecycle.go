// Package lifecycle starts and stops the optional network services that sit
// beside the store. None of them is needed to acquire a connection, so a
// service that fails to start is logged and skipped.
package lifecycle

import (
	"context"
	"sync"

	"github.com/maloquacious/stockroom/internal/logger"
)

// Service is an optional network endpoint tied to the store.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type nopService struct{ name string }

func (s nopService) Name() string                { return s.name }
func (s nopService) Start(context.Context) error { return nil }
func (s nopService) Stop(context.Context) error  { return nil }

// Nop returns a Service that does nothing. It stands in for a service that
// is disabled or unavailable in this build.
func Nop(name string) Service {
	return nopService{name: name}
}

// Manager owns the auxiliary services for the life of the process.
type Manager struct {
	log      logger.Logger
	services []Service

	mu       sync.Mutex
	started  []Service
	startRan bool
	stopOnce sync.Once
}

// New creates a Manager for services. Nothing starts until Start.
func New(log logger.Logger, services ...Service) *Manager {
	return &Manager{log: logger.OrDefault(log), services: services}
}

// Add registers more services. It has no effect after Start.
func (m *Manager) Add(services ...Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startRan {
		return
	}
	m.services = append(m.services, services...)
}

// Start starts every service once. Failures are logged, never returned.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startRan {
		return
	}
	m.startRan = true
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.Warn("lifecycle: %s did not start: %v", svc.Name(), err)
			continue
		}
		m.log.Debug("lifecycle: %s started", svc.Name())
		m.started = append(m.started, svc)
	}
}

// Shutdown stops the started services in reverse order. It runs once;
// stop errors are logged and otherwise ignored.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.started = nil
		m.mu.Unlock()

		for i := len(started) - 1; i >= 0; i-- {
			svc := started[i]
			if err := svc.Stop(ctx); err != nil {
				m.log.Warn("lifecycle: %s did not stop cleanly: %v", svc.Name(), err)
				continue
			}
			m.log.Debug("lifecycle: %s stopped", svc.Name())
		}
	})
}

// Running lists the names of services that started and are not yet stopped.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.started))
	for i, svc := range m.started {
		names[i] = svc.Name()
	}
	return names
}
