package sso

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/properties"
	"github.com/sirupsen/logrus"
)

// ShutdownRegistrar accepts cleanup functions run at process termination.
// observability.ShutdownManager implements it.
type ShutdownRegistrar interface {
	RegisterShutdownFunc(name string, fn observability.ShutdownFunc)
}

// Manager owns the single shared connection to the identity provider.
//
// The handle is built lazily on first use (or eagerly via Initialize) from
// the environment source if it is complete, otherwise from the properties
// cache. A failed build leaves the manager uninitialized so the next call
// retries. Shutdown closes the handle exactly once and is terminal.
type Manager struct {
	logger  *logrus.Logger
	lookup  LookupFunc
	props   properties.Cache
	builder Builder
	metrics *observability.Metrics

	mu     sync.Mutex
	handle atomic.Value // handleBox
	state  State
	info   Info

	shutdownOnce sync.Once
	shutdownErr  error
	hookOnce     sync.Once
}

// handleBox lets atomic.Value hold a nil Handle
type handleBox struct {
	h Handle
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEnv overrides the environment lookup
func WithEnv(lookup LookupFunc) Option {
	return func(m *Manager) {
		if lookup != nil {
			m.lookup = lookup
		}
	}
}

// WithProperties sets the fallback properties cache
func WithProperties(cache properties.Cache) Option {
	return func(m *Manager) {
		m.props = cache
	}
}

// WithBuilder overrides the connection builder
func WithBuilder(builder Builder) Option {
	return func(m *Manager) {
		if builder != nil {
			m.builder = builder
		}
	}
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates an uninitialized Manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:  observability.NewNopLogger(),
		lookup:  OSLookup,
		builder: &KeycloakBuilder{},
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.handle.Store(handleBox{})
	return m
}

// Initialize resolves configuration and builds the handle. If a handle
// already exists it is returned unchanged. Errors wrap ErrConnectionFailure.
func (m *Manager) Initialize(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked(ctx)
}

func (m *Manager) initializeLocked(ctx context.Context) (Handle, error) {
	switch m.state {
	case StateClosed:
		return nil, ErrManagerClosed
	case StateReady:
		return m.load(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	m.logger.Info("SSO connection build started")

	config, source, err := m.resolve()
	if err != nil {
		m.metrics.RecordSSOConnect(string(source), err)
		m.logger.WithError(err).WithField("source", source).Error("SSO configuration could not be resolved")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	// Diagnostics reflect the latest resolution even when the build fails
	m.info = Info{
		ServerURL: config.ServerURL,
		Realm:     config.Realm,
		ClientID:  config.ClientID,
		Source:    source,
	}

	fields := logrus.Fields{
		"source":     source,
		"server_url": config.ServerURL,
		"realm":      config.Realm,
		"client_id":  config.ClientID,
		"grant_type": config.GrantType,
		"pool_size":  config.PoolSize,
		"secret":     config.HasSecret(),
	}

	handle, err := m.builder.Build(config)
	m.metrics.RecordSSOConnect(string(source), err)
	if err != nil {
		m.logger.WithError(err).WithFields(fields).Error("SSO connection build failed")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	m.handle.Store(handleBox{h: handle})
	m.state = StateReady
	m.metrics.SetSSOConnectionReady(true)
	m.logger.WithFields(fields).Info("SSO connection created")

	return handle, nil
}

// resolve tries the environment first. A complete environment never
// consults the properties cache.
func (m *Manager) resolve() (ConnectionConfig, Source, error) {
	config, ok, err := fromEnvironment(m.lookup)
	if ok {
		return config, SourceEnvironment, err
	}
	m.logger.Info("SSO connection is not provided by environment, using properties")

	config, err = fromProperties(m.props)
	return config, SourceProperties, err
}

// GetConnection returns the shared handle, building it on first use.
// It returns nil when the build fails or after Shutdown; failures are
// logged and retried on the next call.
func (m *Manager) GetConnection(ctx context.Context) Handle {
	if h := m.load(); h != nil {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have finished the build while we waited
	if h := m.load(); h != nil {
		return h
	}
	h, err := m.initializeLocked(ctx)
	if err != nil {
		return nil
	}
	return h
}

func (m *Manager) load() Handle {
	return m.handle.Load().(handleBox).h
}

// Shutdown closes the handle if one exists and moves the manager to
// StateClosed. Only the first call has any effect; later calls return the
// first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.logger.Info("SSO resource cleanup started")

		h := m.load()
		m.handle.Store(handleBox{})
		m.state = StateClosed
		m.metrics.SetSSOConnectionReady(false)

		if h == nil {
			m.logger.Info("SSO resource cleanup completed, no connection was open")
			return
		}
		if err := h.Close(); err != nil {
			m.shutdownErr = fmt.Errorf("failed to close sso connection: %w", err)
			m.logger.WithError(err).Error("SSO resource cleanup failed")
			return
		}
		m.logger.Info("SSO resource cleanup completed")
	})
	return m.shutdownErr
}

// RegisterShutdownHook registers Shutdown with registrar. Only the first
// call registers; it does not depend on initialization having succeeded.
func (m *Manager) RegisterShutdownHook(registrar ShutdownRegistrar) {
	m.hookOnce.Do(func() {
		registrar.RegisterShutdownFunc("sso-connection", m.Shutdown)
		m.logger.Info("SSO shutdown hook registered")
	})
}

// ServerURL returns the last resolved server URL
func (m *Manager) ServerURL() string {
	return m.Info().ServerURL
}

// Realm returns the last resolved realm
func (m *Manager) Realm() string {
	return m.Info().Realm
}

// ClientID returns the last resolved client id
func (m *Manager) ClientID() string {
	return m.Info().ClientID
}

// Info returns a diagnostic snapshot
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	info.State = m.state
	return info
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a live handle exists. It implements
// observability.ConnectionReporter.
func (m *Manager) Connected() bool {
	return m.load() != nil
}
